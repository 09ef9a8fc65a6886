package agentpay

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agentpay/internal/custody"
	"agentpay/internal/ledger"
	"agentpay/pkg/payerr"
)

// LedgerEntry is one recorded payment attempt.
type LedgerEntry = ledger.Entry

// LedgerQuery filters payment history listings. Zero fields match
// everything.
type LedgerQuery = ledger.Query

// Ledger entry states.
const (
	LedgerPending    = ledger.StatusPending
	LedgerProcessing = ledger.StatusProcessing
	LedgerCompleted  = ledger.StatusCompleted
	LedgerFailed     = ledger.StatusFailed
	LedgerCancelled  = ledger.StatusCancelled
	LedgerBlocked    = ledger.StatusBlocked
)

// GetPayment returns a ledger entry by id.
func (c *Client) GetPayment(ctx context.Context, entryID string) (LedgerEntry, error) {
	e, ok, err := c.ledger.Get(ctx, entryID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !ok {
		return LedgerEntry{}, payerr.E(payerr.KindValidation, "payment %s not found", entryID)
	}
	return e, nil
}

// ListPayments returns entries matching the query, newest first.
func (c *Client) ListPayments(ctx context.Context, q LedgerQuery) ([]LedgerEntry, error) {
	return c.ledger.List(ctx, q)
}

// TotalSpent sums a wallet's completed payments since the given time. A
// zero time sums everything.
func (c *Client) TotalSpent(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	return c.ledger.TotalSpent(ctx, walletID, since)
}

// SyncTransaction re-reads a processing entry's transaction from the
// provider and folds its final state into the ledger. It backs recovery
// for payments submitted without waiting for confirmation. Entries that
// are already terminal, or whose transaction is still in flight, are
// returned unchanged.
func (c *Client) SyncTransaction(ctx context.Context, entryID string) (LedgerEntry, error) {
	e, err := c.GetPayment(ctx, entryID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if e.Status.IsTerminal() || e.TransactionID == "" {
		return e, nil
	}
	tx, err := c.provider.GetTransaction(ctx, e.TransactionID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !tx.State.Final() {
		return e, nil
	}
	upd := ledger.StatusUpdate{TransactionID: tx.ID}
	if tx.TxHash != "" {
		upd.Metadata = map[string]string{"tx_hash": tx.TxHash}
	}
	if tx.State == custody.TxComplete {
		upd.Status = ledger.StatusCompleted
	} else {
		upd.Status = ledger.StatusFailed
		upd.Error = tx.Error
		if upd.Error == "" {
			upd.Error = "transaction " + string(tx.State)
		}
	}
	return c.ledger.UpdateStatus(ctx, entryID, upd)
}
