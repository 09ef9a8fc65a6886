package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// Fake is an in-memory Provider for tests and local development. Transfers
// settle instantly and deduct the wallet balance; failures can be scripted.
type Fake struct {
	mu       sync.Mutex
	wallets  map[string]Wallet
	balances map[string]decimal.Decimal
	txs      map[string]Transaction
	seq      int

	// Recorded requests, in order.
	Transfers []TransferRequest
	Calls     []ContractCallRequest

	transferErr  error
	transferFail int
}

// NewFake returns an empty fake provider.
func NewFake() *Fake {
	return &Fake{
		wallets:  make(map[string]Wallet),
		balances: make(map[string]decimal.Decimal),
		txs:      make(map[string]Transaction),
	}
}

// AddWallet registers a wallet with an initial balance.
func (f *Fake) AddWallet(w Wallet, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[w.ID] = w
	f.balances[w.ID] = balance
}

// FailTransfers makes the next n transfers fail with err.
func (f *Fake) FailTransfers(err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferErr = err
	f.transferFail = n
}

// GetWallet implements Provider.
func (f *Fake) GetWallet(_ context.Context, walletID string) (Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[walletID]
	if !ok {
		return Wallet{}, payerr.E(payerr.KindWalletNotFound, "wallet %s does not exist", walletID)
	}
	return w, nil
}

// GetBalance implements Provider.
func (f *Fake) GetBalance(_ context.Context, walletID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.wallets[walletID]; !ok {
		return decimal.Zero, payerr.E(payerr.KindWalletNotFound, "wallet %s does not exist", walletID)
	}
	return f.balances[walletID], nil
}

// SetBalance overrides a wallet balance.
func (f *Fake) SetBalance(walletID string, balance decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[walletID] = balance
}

// Transfer implements Provider.
func (f *Fake) Transfer(_ context.Context, req TransferRequest) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transfers = append(f.Transfers, req)
	if f.transferFail > 0 {
		f.transferFail--
		return Transaction{}, f.transferErr
	}
	if _, ok := f.wallets[req.WalletID]; !ok {
		return Transaction{}, payerr.E(payerr.KindWalletNotFound, "wallet %s does not exist", req.WalletID)
	}
	bal := f.balances[req.WalletID]
	if bal.LessThan(req.Amount) {
		return Transaction{}, payerr.E(payerr.KindInsufficientBalance,
			"wallet %s holds %s, requested %s", req.WalletID, bal, req.Amount)
	}
	f.balances[req.WalletID] = bal.Sub(req.Amount)
	return f.settle("transfer"), nil
}

// CallContract implements Provider.
func (f *Fake) CallContract(_ context.Context, req ContractCallRequest) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if _, ok := f.wallets[req.WalletID]; !ok {
		return Transaction{}, payerr.E(payerr.KindWalletNotFound, "wallet %s does not exist", req.WalletID)
	}
	return f.settle("call"), nil
}

// GetTransaction implements Provider.
func (f *Fake) GetTransaction(_ context.Context, id string) (Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return Transaction{}, payerr.E(payerr.KindValidation, "transaction %s does not exist", id)
	}
	return tx, nil
}

// SetTransactionState rewrites a recorded transaction's state, for
// exercising reconciliation paths.
func (f *Fake) SetTransactionState(id string, state TxState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := f.txs[id]
	tx.State = state
	f.txs[id] = tx
}

// settle records a completed transaction. Caller must hold f.mu.
func (f *Fake) settle(kind string) Transaction {
	f.seq++
	tx := Transaction{
		ID:     fmt.Sprintf("%s-%d", kind, f.seq),
		TxHash: fmt.Sprintf("0x%064x", f.seq),
		State:  TxComplete,
	}
	f.txs[tx.ID] = tx
	return tx
}

var _ Provider = (*Fake)(nil)
