// Package guard implements the spending policy layer: budget caps, rate
// limits, per-transaction ceilings, recipient allow/deny lists and
// human-confirmation thresholds, composed into per-wallet chains.
//
// Guards follow a two-phase protocol. Reserve provisionally claims policy
// headroom before execution; Commit makes the claim permanent after the
// payment settles; Release returns the headroom when the payment fails.
// The reserve step is what makes concurrent payments against a shared
// limit safe: headroom is claimed atomically, never checked and then
// spent in two steps.
package guard

import (
	"context"

	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// Type identifies a guard implementation.
type Type string

// Known guard types.
const (
	TypeBudget    Type = "budget"
	TypeRateLimit Type = "rate_limit"
	TypeSingleTx  Type = "single_tx"
	TypeRecipient Type = "recipient"
	TypeConfirm   Type = "confirm"
)

// Context carries the payment attributes guards evaluate.
type Context struct {
	WalletID    string
	WalletSetID string
	Amount      decimal.Decimal
	Recipient   string
	Metadata    map[string]string
}

// scopeKey returns the storage scope a guard counts against: the wallet
// set when the guard is set-scoped, otherwise the wallet.
func (g Context) scopeKey(setScoped bool) string {
	if setScoped && g.WalletSetID != "" {
		return "set:" + g.WalletSetID
	}
	return "wallet:" + g.WalletID
}

// Guard is a single spending policy.
//
// Check evaluates the policy without claiming headroom; it backs simulate.
// Reserve claims headroom and returns an opaque token that must later be
// passed to exactly one of Commit or Release. Stateless guards return an
// empty token and treat Commit and Release as no-ops.
type Guard interface {
	Name() string
	Type() Type
	Check(ctx context.Context, g Context) error
	Reserve(ctx context.Context, g Context) (string, error)
	Commit(ctx context.Context, g Context, token string) error
	Release(ctx context.Context, g Context, token string) error
}

// reservation pairs a guard with its reserve token for unwinding.
type reservation struct {
	guard Guard
	token string
}

// Reservations is the set of claims produced by a successful chain
// reserve. It must be resolved with exactly one of Commit or Release.
type Reservations struct {
	held []reservation
}

// Chain evaluates guards in registration order.
type Chain struct {
	guards []Guard
}

// NewChain returns a chain over the given guards.
func NewChain(guards ...Guard) *Chain {
	return &Chain{guards: guards}
}

// Guards returns the chain's guards in evaluation order.
func (c *Chain) Guards() []Guard {
	return c.guards
}

// Check runs every guard's non-claiming evaluation. The first rejection
// wins.
func (c *Chain) Check(ctx context.Context, g Context) error {
	for _, guard := range c.guards {
		if err := guard.Check(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// Reserve claims headroom on every guard in order. If any guard rejects,
// claims already made are released in reverse order and the rejection is
// returned; a failed Reserve leaves no residue.
func (c *Chain) Reserve(ctx context.Context, g Context) (*Reservations, error) {
	res := &Reservations{}
	for _, guard := range c.guards {
		token, err := guard.Reserve(ctx, g)
		if err != nil {
			res.unwind(ctx, g)
			return nil, err
		}
		res.held = append(res.held, reservation{guard: guard, token: token})
	}
	return res, nil
}

// Names returns the name of every guard holding a claim, in chain order.
// A nil receiver has no claims.
func (r *Reservations) Names() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, h := range r.held {
		names = append(names, h.guard.Name())
	}
	return names
}

// Commit finalizes every claim after a successful payment. Calling it on
// a nil receiver is a no-op.
func (r *Reservations) Commit(ctx context.Context, g Context) error {
	if r == nil {
		return nil
	}
	var firstErr error
	for _, h := range r.held {
		if err := h.guard.Commit(ctx, g, h.token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Release returns every claim after a failed payment. Calling it on a
// nil receiver is a no-op.
func (r *Reservations) Release(ctx context.Context, g Context) error {
	if r == nil {
		return nil
	}
	var firstErr error
	for i := len(r.held) - 1; i >= 0; i-- {
		h := r.held[i]
		if err := h.guard.Release(ctx, g, h.token); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reservations) unwind(ctx context.Context, g Context) {
	// Unwind is best-effort; the rejection that triggered it is the
	// error the caller sees.
	_ = r.Release(ctx, g)
}

// blocked builds the standard guard rejection.
func blocked(name, reason string) error {
	return payerr.Blocked(name, reason)
}
