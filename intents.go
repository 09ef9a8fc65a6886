package agentpay

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/guard"
	"agentpay/internal/intent"
	"agentpay/internal/ledger"
	"agentpay/pkg/money"
	"agentpay/pkg/payerr"
)

// Intent is a parked payment awaiting explicit confirmation.
type Intent = intent.Intent

// Intent lifecycle states.
const (
	IntentRequiresConfirmation = intent.StatusRequiresConfirmation
	IntentProcessing           = intent.StatusProcessing
	IntentSucceeded            = intent.StatusSucceeded
	IntentCanceled             = intent.StatusCanceled
	IntentFailed               = intent.StatusFailed
)

// IntentRequest describes a payment to park for confirmation.
type IntentRequest struct {
	WalletID  string
	Recipient string
	Amount    decimal.Decimal
	Metadata  map[string]string

	// ExpiresIn overrides the client's intent expiry when positive.
	ExpiresIn time.Duration
}

// CreatePaymentIntent parks a payment. The wallet's guard chain and
// available balance are checked up front, a pending ledger entry is
// opened, and the amount is reserved against the wallet so concurrent
// payments cannot spend the same funds. The reservation holds until the
// intent is confirmed, canceled or expires.
func (c *Client) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	amount, err := money.Validate(req.Amount)
	if err != nil {
		return Intent{}, err
	}
	if req.Recipient == "" {
		return Intent{}, payerr.E(payerr.KindValidation, "recipient is required")
	}
	wallet, err := c.provider.GetWallet(ctx, req.WalletID)
	if err != nil {
		return Intent{}, err
	}

	chain, err := c.guards.ChainFor(ctx, wallet.ID, wallet.SetID)
	if err != nil {
		return Intent{}, err
	}
	if err := chain.Check(ctx, guard.Context{
		WalletID:    wallet.ID,
		WalletSetID: wallet.SetID,
		Amount:      amount,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	}); err != nil {
		return Intent{}, err
	}

	balance, err := c.provider.GetBalance(ctx, wallet.ID)
	if err != nil {
		return Intent{}, err
	}
	reserved, err := c.reservations.Total(ctx, wallet.ID)
	if err != nil {
		return Intent{}, err
	}
	available := balance.Sub(reserved)
	if available.LessThan(amount) {
		return Intent{}, payerr.E(payerr.KindInsufficientBalance,
			"available balance %s (balance %s, reserved %s) is below %s",
			available, balance, reserved, amount)
	}

	entry, err := c.ledger.Record(ctx, ledger.RecordRequest{
		WalletID:    wallet.ID,
		WalletSetID: wallet.SetID,
		Amount:      amount,
		Recipient:   req.Recipient,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return Intent{}, err
	}
	in, err := c.intents.Create(ctx, intent.CreateRequest{
		WalletID:  req.WalletID,
		Amount:    amount,
		Recipient: req.Recipient,
		Reason:    "api_create",
		EntryID:   entry.ID,
		Metadata:  req.Metadata,
		ExpiresIn: req.ExpiresIn,
	})
	if err != nil {
		if _, uerr := c.ledger.UpdateStatus(ctx, entry.ID, ledger.StatusUpdate{
			Status: ledger.StatusFailed,
			Error:  err.Error(),
		}); uerr != nil {
			c.log.Error("ledger failure write failed", zap.String("entry_id", entry.ID), zap.Error(uerr))
		}
		return Intent{}, err
	}
	if _, err := c.ledger.UpdateStatus(ctx, entry.ID, ledger.StatusUpdate{
		Status:   ledger.StatusPending,
		Metadata: map[string]string{"intent_id": in.ID},
	}); err != nil {
		c.log.Error("ledger intent link write failed", zap.String("entry_id", entry.ID), zap.Error(err))
	}
	return in, nil
}

// GetIntent returns an intent, lazily expiring it when its deadline has
// passed.
func (c *Client) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	in, err := c.intents.Get(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	if in.Expired() {
		c.closeParkedEntry(ctx, in.EntryID, "intent expired")
	}
	return in, nil
}

// ConfirmIntent executes a parked payment. The intent's fund reservation
// is consumed by the execution, which continues the intent's open ledger
// entry, and the intent lands in succeeded or failed state. Confirming
// an expired or already-settled intent is an error.
func (c *Client) ConfirmIntent(ctx context.Context, intentID string) (PaymentResult, error) {
	in, err := c.intents.BeginConfirm(ctx, intentID)
	if err != nil {
		if payerr.IsKind(err, payerr.KindIntentExpired) {
			if cur, gerr := c.intents.Get(ctx, intentID); gerr == nil {
				c.closeParkedEntry(ctx, cur.EntryID, "intent expired")
			}
		}
		return PaymentResult{}, err
	}

	res, execErr := c.execute(ctx, PaymentRequest{
		WalletID:  in.WalletID,
		Recipient: in.Recipient,
		Amount:    in.Amount,
		Metadata:  in.Metadata,
	}, in.ID, in.EntryID)

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	if _, err := c.intents.Complete(ctx, in.ID, execErr == nil, res.EntryID, errMsg); err != nil {
		c.log.Error("intent settle failed", zap.String("intent_id", in.ID), zap.Error(err))
	}
	res.IntentID = in.ID
	return res, execErr
}

// CancelIntent cancels an unconfirmed intent, releases its fund
// reservation and closes its ledger entry.
func (c *Client) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	in, err := c.intents.Cancel(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	c.closeParkedEntry(ctx, in.EntryID, "intent canceled")
	return in, nil
}

// ListIntents returns a wallet's intents, newest first. An empty wallet
// id lists all intents.
func (c *Client) ListIntents(ctx context.Context, walletID string) ([]Intent, error) {
	return c.intents.List(ctx, walletID)
}

// closeParkedEntry cancels the open ledger entry behind a parked intent.
// Entries already terminal, or intents predating the entry link, are
// left alone.
func (c *Client) closeParkedEntry(ctx context.Context, entryID, reason string) {
	if entryID == "" {
		return
	}
	e, ok, err := c.ledger.Get(ctx, entryID)
	if err != nil || !ok || e.Status.IsTerminal() {
		return
	}
	if _, err := c.ledger.UpdateStatus(ctx, entryID, ledger.StatusUpdate{
		Status: ledger.StatusCancelled,
		Error:  reason,
	}); err != nil {
		c.log.Error("ledger entry close failed", zap.String("entry_id", entryID), zap.Error(err))
	}
}
