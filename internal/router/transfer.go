package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agentpay/internal/custody"
	"agentpay/pkg/payerr"
)

// TransferAdapter settles payments to on-chain addresses on the wallet's
// own network with a plain USDC transfer through the custody provider.
type TransferAdapter struct {
	provider custody.Provider
	log      *zap.Logger
}

// NewTransferAdapter returns the direct transfer rail.
func NewTransferAdapter(provider custody.Provider, log *zap.Logger) *TransferAdapter {
	return &TransferAdapter{provider: provider, log: log}
}

// Method implements Adapter.
func (t *TransferAdapter) Method() Method { return MethodTransfer }

// Priority implements Adapter. Transfer is the fallback rail.
func (t *TransferAdapter) Priority() int { return 50 }

// Supports implements Adapter: same-chain address recipients only.
func (t *TransferAdapter) Supports(route Route) bool {
	if route.crossChain() {
		return false
	}
	return AddressValidFor(route.Recipient, route.WalletNetwork)
}

// Execute implements Adapter.
func (t *TransferAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	token, ok := req.Wallet.Network.USDCContract()
	if !ok {
		return Result{}, payerr.E(payerr.KindConfiguration,
			"no USDC contract known for network %s", req.Wallet.Network)
	}
	tx, err := t.provider.Transfer(ctx, custody.TransferRequest{
		WalletID:            req.Wallet.ID,
		To:                  req.Recipient,
		Amount:              req.Amount,
		TokenContract:       token,
		FeeLevel:            req.FeeLevel,
		IdempotencyKey:      req.IdempotencyKey,
		WaitForConfirmation: req.WaitForConfirmation,
	})
	if err != nil {
		return Result{}, err
	}
	if tx.State == custody.TxFailed || tx.State == custody.TxCancelled {
		return Result{}, payerr.E(payerr.KindProtocol,
			"transfer %s ended %s: %s", tx.ID, tx.State, tx.Error)
	}
	t.log.Info("transfer settled",
		zap.String("transaction_id", tx.ID),
		zap.String("tx_hash", tx.TxHash),
		zap.String("network", string(req.Wallet.Network)))
	return Result{
		Method:        MethodTransfer,
		TransactionID: tx.ID,
		TxHash:        tx.TxHash,
		Metadata: map[string]string{
			"network": string(req.Wallet.Network),
		},
	}, nil
}

// Simulate implements Adapter.
func (t *TransferAdapter) Simulate(ctx context.Context, req Request) (Simulation, error) {
	if !AddressValidFor(req.Recipient, req.Wallet.Network) {
		return Simulation{}, payerr.E(payerr.KindValidation,
			"recipient %q is not a valid %s address", req.Recipient, req.Wallet.Network)
	}
	return Simulation{
		Method:  MethodTransfer,
		Detail:  fmt.Sprintf("USDC transfer of %s to %s on %s", req.Amount, req.Recipient, req.Wallet.Network),
		Payable: true,
	}, nil
}

var _ Adapter = (*TransferAdapter)(nil)
