package guard

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// Approver decides whether a payment needing human confirmation may
// proceed. Implementations typically prompt an operator or call an
// approval backend.
type Approver interface {
	Approve(ctx context.Context, g Context) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, g Context) (bool, error)

// Approve calls the wrapped function.
func (f ApproverFunc) Approve(ctx context.Context, g Context) (bool, error) {
	return f(ctx, g)
}

// ConfirmConfig sets the amount at or above which payments need explicit
// approval. A zero threshold means every payment needs approval.
type ConfirmConfig struct {
	Threshold decimal.Decimal `json:"threshold"`
}

// ConfirmGuard holds payments at or above a threshold for approval. With
// no approver wired, payments needing confirmation are blocked outright.
type ConfirmGuard struct {
	cfg      ConfirmConfig
	approver Approver
}

// NewConfirmGuard returns a confirmation guard. approver may be nil.
func NewConfirmGuard(cfg ConfirmConfig, approver Approver) *ConfirmGuard {
	return &ConfirmGuard{cfg: cfg, approver: approver}
}

// Name implements Guard.
func (c *ConfirmGuard) Name() string { return "confirm" }

// Type implements Guard.
func (c *ConfirmGuard) Type() Type { return TypeConfirm }

// Check requests approval for payments at or above the threshold.
func (c *ConfirmGuard) Check(ctx context.Context, g Context) error {
	if g.Amount.LessThan(c.cfg.Threshold) {
		return nil
	}
	if c.approver == nil {
		return blocked(c.Name(), fmt.Sprintf(
			"amount %s requires confirmation and no approver is configured", g.Amount))
	}
	ok, err := c.approver.Approve(ctx, g)
	if err != nil {
		return payerr.Wrap(err, payerr.KindGuardBlocked, "confirmation failed")
	}
	if !ok {
		return blocked(c.Name(), fmt.Sprintf("payment of %s was not approved", g.Amount))
	}
	return nil
}

// Reserve implements Guard.
func (c *ConfirmGuard) Reserve(ctx context.Context, g Context) (string, error) {
	return "", c.Check(ctx, g)
}

// Commit implements Guard.
func (c *ConfirmGuard) Commit(context.Context, Context, string) error { return nil }

// Release implements Guard.
func (c *ConfirmGuard) Release(context.Context, Context, string) error { return nil }

var _ Guard = (*ConfirmGuard)(nil)
