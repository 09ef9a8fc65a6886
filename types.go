package agentpay

import (
	"github.com/shopspring/decimal"

	"agentpay/internal/custody"
	"agentpay/internal/router"
	"agentpay/pkg/network"
)

// Strategy selects how execution failures are handled.
type Strategy string

// Execution strategies.
const (
	// StrategyFailFast makes a single attempt and surfaces any failure.
	StrategyFailFast Strategy = "fail_fast"

	// StrategyRetryThenFail retries transient failures on an exponential
	// schedule before giving up.
	StrategyRetryThenFail Strategy = "retry_then_fail"

	// StrategyQueueBackground attempts the payment inline and, when the
	// rail's circuit is open or execution fails, parks it as an intent
	// to be retried via confirmation instead of surfacing the error.
	StrategyQueueBackground Strategy = "queue_background"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyFailFast, StrategyRetryThenFail, StrategyQueueBackground:
		return true
	}
	return false
}

// TrustCheckMode overrides the trust hook for a single payment.
type TrustCheckMode string

// Trust check overrides.
const (
	// TrustCheckDefault runs the configured trust hook when one exists.
	TrustCheckDefault TrustCheckMode = ""

	// TrustCheckSkip bypasses the trust hook for this payment.
	TrustCheckSkip TrustCheckMode = "skip"

	// TrustCheckRequire fails the payment unless a trust hook is
	// configured and approves it.
	TrustCheckRequire TrustCheckMode = "require"
)

// Method identifies the payment rail used.
type Method = router.Method

// Payment rails.
const (
	MethodTransfer   = router.MethodTransfer
	MethodX402       = router.MethodX402
	MethodCrossChain = router.MethodCrossChain
)

// Network identifies a supported chain.
type Network = network.Network

// FeeLevel selects gas pricing.
type FeeLevel = custody.FeeLevel

// Fee levels.
const (
	FeeLow    = custody.FeeLow
	FeeMedium = custody.FeeMedium
	FeeHigh   = custody.FeeHigh
)

// PaymentRequest describes a payment to execute.
type PaymentRequest struct {
	// WalletID is the paying custodial wallet.
	WalletID string

	// Recipient is an on-chain address or a paid resource URL.
	Recipient string

	// Amount is the payment size in whole USDC. For x402 recipients it
	// is the maximum the agent authorizes; the resource's price is paid.
	Amount decimal.Decimal

	// DestinationNetwork forces a cross-chain route when it differs
	// from the wallet's network.
	DestinationNetwork network.Network

	Strategy Strategy
	FeeLevel FeeLevel

	// IdempotencyKey deduplicates provider-side execution. A fresh key
	// is generated when empty.
	IdempotencyKey string

	// WaitForConfirmation blocks until on-chain finality.
	WaitForConfirmation bool

	// MaxFee caps the CCTP fast-transfer fee. Zero applies the default.
	MaxFee decimal.Decimal

	// Purpose is a human-readable note recorded on the ledger entry.
	Purpose string

	// SkipGuards bypasses the wallet's guard chain. Balance checks and
	// wallet locking still apply.
	SkipGuards bool

	// TrustCheck overrides the trust hook for this payment.
	TrustCheck TrustCheckMode

	Metadata map[string]string
}

// PaymentStatus is the outcome classification of a payment call.
type PaymentStatus string

// Payment outcomes.
const (
	StatusCompleted            PaymentStatus = "completed"
	StatusFailed               PaymentStatus = "failed"
	StatusBlocked              PaymentStatus = "blocked"
	StatusRequiresConfirmation PaymentStatus = "requires_confirmation"
)

// PaymentResult reports what happened to a payment.
type PaymentResult struct {
	// EntryID is the ledger entry recording this attempt.
	EntryID string

	// IntentID is set when the payment was parked for confirmation.
	IntentID string

	Status        PaymentStatus
	Method        Method
	TransactionID string
	TxHash        string
	Amount        decimal.Decimal
	Recipient     string

	// GuardsPassed lists the guards that cleared the payment, in chain
	// order.
	GuardsPassed []string

	Metadata map[string]string

	// Error is the failure description for batch reporting; the error
	// return of Pay carries the machine-readable kind.
	Error string
}

// SimulationResult is a dry-run verdict.
type SimulationResult struct {
	// CanPay reports whether the payment would be attempted.
	CanPay bool

	// Method is the rail the payment would take.
	Method Method

	// Detail describes what would happen.
	Detail string

	// Reason explains a negative verdict.
	Reason string

	// EstimatedFee is the rail fee the payment would incur.
	EstimatedFee decimal.Decimal

	// GuardsPassed and GuardsFailed report how each guard in the chain
	// would judge the payment.
	GuardsPassed []string
	GuardsFailed []string
}

// BatchResult aggregates a batch of payments.
type BatchResult struct {
	TotalCount     int
	SuccessCount   int
	FailedCount    int
	Results        []PaymentResult
	TransactionIDs []string
}
