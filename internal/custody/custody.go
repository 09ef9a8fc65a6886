// Package custody abstracts the custodial wallet provider (a Circle-style
// developer-controlled wallet API). The SDK never touches private keys;
// transfers and contract calls are executed by the provider on the SDK's
// behalf.
package custody

import (
	"context"

	"github.com/shopspring/decimal"

	"agentpay/pkg/network"
)

// FeeLevel selects gas pricing for on-chain operations.
type FeeLevel string

// Fee levels.
const (
	FeeLow    FeeLevel = "LOW"
	FeeMedium FeeLevel = "MEDIUM"
	FeeHigh   FeeLevel = "HIGH"
)

// TxState is the provider-side lifecycle of an on-chain operation.
type TxState string

// Transaction states.
const (
	TxInitiated TxState = "INITIATED"
	TxQueued    TxState = "QUEUED"
	TxSent      TxState = "SENT"
	TxConfirmed TxState = "CONFIRMED"
	TxComplete  TxState = "COMPLETE"
	TxFailed    TxState = "FAILED"
	TxCancelled TxState = "CANCELLED"
)

// Final reports whether the state is terminal.
func (s TxState) Final() bool {
	switch s {
	case TxComplete, TxFailed, TxCancelled:
		return true
	}
	return false
}

// Succeeded reports whether the state is a successful terminal state.
// CONFIRMED is treated as success for callers not waiting for finality.
func (s TxState) Succeeded() bool {
	return s == TxComplete || s == TxConfirmed
}

// Wallet is a custodial wallet.
type Wallet struct {
	ID      string
	Address string
	Network network.Network
	SetID   string
}

// TransferRequest asks the provider to move tokens out of a wallet.
type TransferRequest struct {
	WalletID string
	To       string
	Amount   decimal.Decimal

	// TokenContract defaults to USDC on the wallet's network.
	TokenContract string

	FeeLevel       FeeLevel
	IdempotencyKey string

	// WaitForConfirmation blocks until the transfer reaches a final state.
	WaitForConfirmation bool
}

// Transaction is the provider's view of a transfer or contract call.
type Transaction struct {
	ID     string
	TxHash string
	State  TxState
	Error  string
}

// ContractCallRequest asks the provider to execute a contract function
// from a wallet.
type ContractCallRequest struct {
	WalletID        string
	ContractAddress string

	// ABIFunctionSignature is the solidity signature, e.g.
	// "approve(address,uint256)".
	ABIFunctionSignature string
	ABIParameters        []string

	FeeLevel            FeeLevel
	IdempotencyKey      string
	WaitForConfirmation bool
}

// Provider is the custodial wallet capability.
type Provider interface {
	// GetWallet resolves a wallet by id.
	GetWallet(ctx context.Context, walletID string) (Wallet, error)

	// GetBalance returns the wallet's USDC balance in whole tokens.
	GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error)

	// Transfer moves tokens out of a wallet.
	Transfer(ctx context.Context, req TransferRequest) (Transaction, error)

	// CallContract executes a contract function from a wallet.
	CallContract(ctx context.Context, req ContractCallRequest) (Transaction, error)

	// GetTransaction returns the current state of a transaction.
	GetTransaction(ctx context.Context, id string) (Transaction, error)
}
