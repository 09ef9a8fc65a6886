// Package reservation tracks funds earmarked for pending payment intents.
//
// A reservation does not move money. It reduces the wallet's available
// balance (balance minus the sum of active reservations) so a wallet cannot
// promise the same funds to two intents.
package reservation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

const (
	entryPrefix = "reservation:"
	totalPrefix = "reservation_total:"
)

// Record is a single reservation, keyed by intent.
type Record struct {
	IntentID  string          `json:"intent_id"`
	WalletID  string          `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Registry stores reservations and per-wallet totals.
type Registry struct {
	store storage.Store
	clock clock.Clock
	log   *zap.Logger
}

// NewRegistry returns a registry over the given store.
func NewRegistry(store storage.Store, c clock.Clock, log *zap.Logger) *Registry {
	return &Registry{store: store, clock: c, log: log}
}

// Reserve earmarks amount for intentID. Reserving the same intent twice is
// a no-op regardless of the amount passed the second time.
func (r *Registry) Reserve(ctx context.Context, intentID, walletID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return payerr.E(payerr.KindValidation, "reservation amount must be positive, got %s", amount)
	}
	created := false
	err := r.store.Update(ctx, entryPrefix+intentID, func(old []byte, exists bool) ([]byte, error) {
		if exists {
			return old, nil
		}
		created = true
		return json.Marshal(Record{
			IntentID:  intentID,
			WalletID:  walletID,
			Amount:    amount,
			CreatedAt: r.clock.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	if !created {
		r.log.Debug("reservation already exists", zap.String("intent_id", intentID))
		return nil
	}
	_, err = r.store.AtomicAdd(ctx, totalPrefix+walletID, amount, 0)
	return err
}

// Release frees the reservation for intentID. Releasing an unknown or
// already released intent is a no-op.
func (r *Registry) Release(ctx context.Context, intentID string) error {
	var rec Record
	found := false
	err := r.store.Update(ctx, entryPrefix+intentID, func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		if err := json.Unmarshal(old, &rec); err != nil {
			return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt reservation %s", intentID)
		}
		found = true
		return nil, nil
	})
	if err != nil || !found {
		return err
	}
	_, err = r.store.AtomicAdd(ctx, totalPrefix+rec.WalletID, rec.Amount.Neg(), 0)
	return err
}

// Get returns the reservation for intentID.
func (r *Registry) Get(ctx context.Context, intentID string) (Record, bool, error) {
	raw, ok, err := r.store.Get(ctx, entryPrefix+intentID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, payerr.Wrap(err, payerr.KindConfiguration, "corrupt reservation %s", intentID)
	}
	return rec, true, nil
}

// Total returns the sum of active reservations against walletID.
func (r *Registry) Total(ctx context.Context, walletID string) (decimal.Decimal, error) {
	raw, ok, err := r.store.Get(ctx, totalPrefix+walletID)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	total, err := storage.DecodeCounter(raw)
	if err != nil {
		return decimal.Zero, err
	}
	// Released reservations can momentarily leave a negative aggregate
	// under contention. Clamp rather than report negative headroom.
	if total.IsNegative() {
		return decimal.Zero, nil
	}
	return total, nil
}
