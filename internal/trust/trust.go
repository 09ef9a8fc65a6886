// Package trust defines the recipient trust hook consulted before any
// funds are reserved. Scoring internals live behind the Hook interface;
// the SDK only acts on the verdict.
package trust

import (
	"context"

	"github.com/shopspring/decimal"

	"agentpay/pkg/network"
)

// Verdict is the trust hook's decision for a payment.
type Verdict string

// Verdicts.
const (
	// VerdictApprove lets the payment proceed.
	VerdictApprove Verdict = "approve"

	// VerdictHold converts the payment into an intent awaiting explicit
	// confirmation.
	VerdictHold Verdict = "hold"

	// VerdictBlock rejects the payment outright.
	VerdictBlock Verdict = "block"
)

// Check carries the payment attributes a hook evaluates.
type Check struct {
	WalletID  string
	Recipient string
	Amount    decimal.Decimal
	Network   network.Network
}

// Decision is the hook's verdict with an operator-readable reason.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Hook evaluates recipient trust before funds are touched. A hook error
// fails the payment; hooks that prefer to fail open should return
// VerdictApprove themselves.
type Hook interface {
	Evaluate(ctx context.Context, check Check) (Decision, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, check Check) (Decision, error)

// Evaluate calls the wrapped function.
func (f HookFunc) Evaluate(ctx context.Context, check Check) (Decision, error) {
	return f(ctx, check)
}

// ApproveAll is the default hook: every payment proceeds.
func ApproveAll() Hook {
	return HookFunc(func(context.Context, Check) (Decision, error) {
		return Decision{Verdict: VerdictApprove}, nil
	})
}
