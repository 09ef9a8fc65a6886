package guard

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// SingleTxConfig bounds the size of any single payment. A zero Min or
// Max disables that bound.
type SingleTxConfig struct {
	Min decimal.Decimal `json:"min,omitempty"`
	Max decimal.Decimal `json:"max"`
}

// SingleTxGuard rejects payments outside a fixed per-transaction range.
// It is stateless: reserve claims nothing, commit and release do nothing.
type SingleTxGuard struct {
	cfg SingleTxConfig
}

// NewSingleTxGuard returns a per-transaction range guard.
func NewSingleTxGuard(cfg SingleTxConfig) *SingleTxGuard {
	return &SingleTxGuard{cfg: cfg}
}

// Name implements Guard.
func (s *SingleTxGuard) Name() string { return "single_tx" }

// Type implements Guard.
func (s *SingleTxGuard) Type() Type { return TypeSingleTx }

// Check rejects amounts outside the configured range.
func (s *SingleTxGuard) Check(_ context.Context, g Context) error {
	if s.cfg.Min.IsPositive() && g.Amount.LessThan(s.cfg.Min) {
		return blocked(s.Name(), fmt.Sprintf(
			"amount %s is below per-transaction minimum %s", g.Amount, s.cfg.Min))
	}
	if s.cfg.Max.IsPositive() && g.Amount.GreaterThan(s.cfg.Max) {
		return blocked(s.Name(), fmt.Sprintf(
			"amount %s exceeds per-transaction limit %s", g.Amount, s.cfg.Max))
	}
	return nil
}

// Reserve implements Guard.
func (s *SingleTxGuard) Reserve(ctx context.Context, g Context) (string, error) {
	return "", s.Check(ctx, g)
}

// Commit implements Guard.
func (s *SingleTxGuard) Commit(context.Context, Context, string) error { return nil }

// Release implements Guard.
func (s *SingleTxGuard) Release(context.Context, Context, string) error { return nil }

var _ Guard = (*SingleTxGuard)(nil)
