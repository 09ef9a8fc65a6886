package agentpay

import (
	"context"

	"agentpay/internal/guard"
)

// Guard configuration types, re-exported for callers attaching policies.
type (
	GuardConfig     = guard.Config
	GuardType       = guard.Type
	BudgetConfig    = guard.BudgetConfig
	RateLimitConfig = guard.RateConfig
	SingleTxConfig  = guard.SingleTxConfig
	RecipientConfig = guard.RecipientConfig
	ConfirmConfig   = guard.ConfirmConfig
)

// Guard types.
const (
	GuardBudget    = guard.TypeBudget
	GuardRateLimit = guard.TypeRateLimit
	GuardSingleTx  = guard.TypeSingleTx
	GuardRecipient = guard.TypeRecipient
	GuardConfirm   = guard.TypeConfirm
)

// AddBudgetGuard caps a wallet's spending per window. Attaching a second
// budget guard replaces the first; window counters already accumulated
// keep counting against the new limits.
func (c *Client) AddBudgetGuard(ctx context.Context, walletID string, cfg BudgetConfig) error {
	return c.guards.Attach(ctx, guard.ScopeWallet, walletID, guard.Config{Type: guard.TypeBudget, Budget: &cfg})
}

// AddRateLimitGuard caps how many payments a wallet makes per window.
func (c *Client) AddRateLimitGuard(ctx context.Context, walletID string, cfg RateLimitConfig) error {
	return c.guards.Attach(ctx, guard.ScopeWallet, walletID, guard.Config{Type: guard.TypeRateLimit, Rate: &cfg})
}

// AddSingleTxGuard caps the size of any one payment from the wallet.
func (c *Client) AddSingleTxGuard(ctx context.Context, walletID string, cfg SingleTxConfig) error {
	return c.guards.Attach(ctx, guard.ScopeWallet, walletID, guard.Config{Type: guard.TypeSingleTx, SingleTx: &cfg})
}

// AddRecipientGuard restricts who the wallet may pay.
func (c *Client) AddRecipientGuard(ctx context.Context, walletID string, cfg RecipientConfig) error {
	return c.guards.Attach(ctx, guard.ScopeWallet, walletID, guard.Config{Type: guard.TypeRecipient, Recipient: &cfg})
}

// AddConfirmGuard requires out-of-band approval for payments at or above
// a threshold. The approver passed to New answers the approval request; a
// client without an approver blocks such payments.
func (c *Client) AddConfirmGuard(ctx context.Context, walletID string, cfg ConfirmConfig) error {
	return c.guards.Attach(ctx, guard.ScopeWallet, walletID, guard.Config{Type: guard.TypeConfirm, Confirm: &cfg})
}

// AddSetGuard attaches a guard at wallet-set scope: every wallet in the
// set shares the policy, and budget and rate windows count the whole
// set's spending together.
func (c *Client) AddSetGuard(ctx context.Context, walletSetID string, cfg GuardConfig) error {
	return c.guards.Attach(ctx, guard.ScopeSet, walletSetID, cfg)
}

// RemoveGuard detaches a wallet's guard of the given type. Removing an
// absent guard is a no-op.
func (c *Client) RemoveGuard(ctx context.Context, walletID string, t GuardType) error {
	return c.guards.Detach(ctx, guard.ScopeWallet, walletID, t)
}

// RemoveSetGuard detaches a wallet set's guard of the given type.
func (c *Client) RemoveSetGuard(ctx context.Context, walletSetID string, t GuardType) error {
	return c.guards.Detach(ctx, guard.ScopeSet, walletSetID, t)
}

// ListGuards returns the guards attached to a wallet.
func (c *Client) ListGuards(ctx context.Context, walletID string) ([]GuardConfig, error) {
	return c.guards.List(ctx, guard.ScopeWallet, walletID)
}

// ListSetGuards returns the guards attached to a wallet set.
func (c *Client) ListSetGuards(ctx context.Context, walletSetID string) ([]GuardConfig, error) {
	return c.guards.List(ctx, guard.ScopeSet, walletSetID)
}
