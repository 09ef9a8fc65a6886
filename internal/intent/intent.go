// Package intent implements deferred payments: a payment intent parks a
// fully specified payment behind an explicit confirmation step, with the
// funds reserved so they cannot be spent twice in the meantime.
package intent

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/reservation"
	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

const keyPrefix = "intent:"

// DefaultExpiry is how long an unconfirmed intent stays valid.
const DefaultExpiry = 24 * time.Hour

// Status is the intent lifecycle state.
type Status string

// Intent lifecycle states.
const (
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusProcessing           Status = "processing"
	StatusSucceeded            Status = "succeeded"
	StatusCanceled             Status = "canceled"
	StatusFailed               Status = "failed"
)

// IsTerminal reports whether s is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Intent is a parked payment awaiting confirmation.
type Intent struct {
	ID        string          `json:"id"`
	WalletID  string          `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
	Status    Status          `json:"status"`

	// Reason records why the payment was parked: a trust hold, a
	// queue_background strategy, or an explicit create call.
	Reason string `json:"reason,omitempty"`

	// EntryID links to the ledger entry once execution starts.
	EntryID string `json:"entry_id,omitempty"`

	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Expired reports whether the intent was auto-canceled for sitting
// unconfirmed past its expiry.
func (in Intent) Expired() bool {
	return in.Status == StatusCanceled && in.Error == "expired"
}

// Service manages intents and their fund reservations.
type Service struct {
	store        storage.Store
	reservations *reservation.Registry
	clock        clock.Clock
	log          *zap.Logger
	expiry       time.Duration
}

// New returns an intent service. expiry of zero applies DefaultExpiry.
func New(store storage.Store, res *reservation.Registry, c clock.Clock, expiry time.Duration, log *zap.Logger) *Service {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Service{store: store, reservations: res, clock: c, log: log, expiry: expiry}
}

// CreateRequest captures a new intent.
type CreateRequest struct {
	WalletID  string
	Amount    decimal.Decimal
	Recipient string
	Reason    string
	Metadata  map[string]string

	// EntryID links the intent to an already-open ledger entry.
	EntryID string

	// ExpiresIn overrides the service expiry when positive.
	ExpiresIn time.Duration
}

// Create parks a payment and reserves its funds.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Intent, error) {
	now := s.clock.Now().UTC()
	expiry := s.expiry
	if req.ExpiresIn > 0 {
		expiry = req.ExpiresIn
	}
	in := Intent{
		ID:        uuid.NewString(),
		WalletID:  req.WalletID,
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Status:    StatusRequiresConfirmation,
		Reason:    req.Reason,
		EntryID:   req.EntryID,
		Metadata:  req.Metadata,
		ExpiresAt: now.Add(expiry),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.reservations.Reserve(ctx, in.ID, in.WalletID, in.Amount); err != nil {
		return Intent{}, err
	}
	if err := s.put(ctx, in); err != nil {
		_ = s.reservations.Release(ctx, in.ID)
		return Intent{}, err
	}
	s.log.Info("payment intent created",
		zap.String("intent_id", in.ID),
		zap.String("wallet_id", in.WalletID),
		zap.String("amount", in.Amount.String()),
		zap.Time("expires_at", in.ExpiresAt))
	return in, nil
}

// Get returns an intent, auto-canceling it first if it sat unconfirmed
// past its expiry.
func (s *Service) Get(ctx context.Context, intentID string) (Intent, error) {
	in, err := s.load(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	if !s.dueToExpire(in) {
		return in, nil
	}
	out, err := s.expire(ctx, intentID)
	if err != nil {
		return Intent{}, err
	}
	return out, nil
}

// BeginConfirm transitions a confirmable intent to processing. The caller
// executes the payment and settles with Complete. The transition runs as
// a single atomic mutation, so when two confirmations race exactly one
// wins and the other fails with intent_already_terminal. Expired intents
// are auto-canceled and reported as intent_expired.
func (s *Service) BeginConfirm(ctx context.Context, intentID string) (Intent, error) {
	var expired bool
	out, err := s.mutate(ctx, intentID, func(in *Intent) error {
		expired = false
		if s.dueToExpire(*in) {
			expired = true
			in.Status = StatusCanceled
			in.Error = "expired"
			return nil
		}
		if in.Status.IsTerminal() {
			return payerr.E(payerr.KindIntentTerminal,
				"intent %s is already %s", intentID, in.Status)
		}
		if in.Status == StatusProcessing {
			return payerr.E(payerr.KindIntentTerminal,
				"intent %s is already being confirmed", intentID)
		}
		in.Status = StatusProcessing
		return nil
	})
	if err != nil {
		return Intent{}, err
	}
	if expired {
		s.releaseExpired(ctx, out)
		return Intent{}, payerr.E(payerr.KindIntentExpired,
			"intent %s expired at %s", intentID, out.ExpiresAt)
	}
	return out, nil
}

// Complete settles a processing intent after execution.
func (s *Service) Complete(ctx context.Context, intentID string, succeeded bool, entryID, errMsg string) (Intent, error) {
	return s.mutate(ctx, intentID, func(in *Intent) error {
		if in.Status.IsTerminal() {
			return payerr.E(payerr.KindIntentTerminal,
				"intent %s is already %s", intentID, in.Status)
		}
		if succeeded {
			in.Status = StatusSucceeded
		} else {
			in.Status = StatusFailed
			in.Error = errMsg
		}
		if entryID != "" {
			in.EntryID = entryID
		}
		return nil
	})
}

// Cancel cancels a confirmable intent and frees its reservation.
func (s *Service) Cancel(ctx context.Context, intentID string) (Intent, error) {
	out, err := s.mutate(ctx, intentID, func(in *Intent) error {
		if in.Status != StatusRequiresConfirmation {
			return payerr.E(payerr.KindIntentTerminal,
				"intent %s is %s and cannot be canceled", intentID, in.Status)
		}
		in.Status = StatusCanceled
		return nil
	})
	if err != nil {
		return Intent{}, err
	}
	if err := s.reservations.Release(ctx, intentID); err != nil {
		return Intent{}, err
	}
	s.log.Info("payment intent canceled", zap.String("intent_id", intentID))
	return out, nil
}

// List returns a wallet's intents, newest first. Empty walletID lists all.
func (s *Service) List(ctx context.Context, walletID string) ([]Intent, error) {
	kvs, err := s.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []Intent
	for _, kv := range kvs {
		var in Intent
		if err := json.Unmarshal(kv.Value, &in); err != nil {
			s.log.Warn("skipping corrupt intent", zap.String("key", kv.Key))
			continue
		}
		if walletID != "" && in.WalletID != walletID {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// dueToExpire reports whether an unconfirmed intent sat past its expiry.
func (s *Service) dueToExpire(in Intent) bool {
	return in.Status == StatusRequiresConfirmation && !s.clock.Now().Before(in.ExpiresAt)
}

// expire atomically auto-cancels an overdue intent and frees its
// reservation. A concurrent transition wins cleanly: the intent is
// returned in whatever state the race left it.
func (s *Service) expire(ctx context.Context, intentID string) (Intent, error) {
	var expired bool
	out, err := s.mutate(ctx, intentID, func(in *Intent) error {
		expired = false
		if !s.dueToExpire(*in) {
			return nil
		}
		expired = true
		in.Status = StatusCanceled
		in.Error = "expired"
		return nil
	})
	if err != nil {
		return Intent{}, err
	}
	if expired {
		s.releaseExpired(ctx, out)
	}
	return out, nil
}

func (s *Service) releaseExpired(ctx context.Context, in Intent) {
	if err := s.reservations.Release(ctx, in.ID); err != nil {
		s.log.Warn("releasing expired intent reservation",
			zap.String("intent_id", in.ID), zap.Error(err))
		return
	}
	s.log.Info("payment intent expired", zap.String("intent_id", in.ID))
}

// mutate applies fn to the stored intent under the store's atomic Update,
// so racing transitions serialize and exactly one writer observes any
// given prior state.
func (s *Service) mutate(ctx context.Context, intentID string, fn func(*Intent) error) (Intent, error) {
	var out Intent
	err := s.store.Update(ctx, keyPrefix+intentID, func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, payerr.E(payerr.KindIntentNotFound, "intent %s does not exist", intentID)
		}
		var in Intent
		if err := json.Unmarshal(old, &in); err != nil {
			return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt intent %s", intentID)
		}
		if err := fn(&in); err != nil {
			return nil, err
		}
		in.UpdatedAt = s.clock.Now().UTC()
		out = in
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, payerr.Wrap(err, payerr.KindConfiguration, "encode intent")
		}
		return raw, nil
	})
	if err != nil {
		return Intent{}, err
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, intentID string) (Intent, error) {
	raw, ok, err := s.store.Get(ctx, keyPrefix+intentID)
	if err != nil {
		return Intent{}, err
	}
	if !ok {
		return Intent{}, payerr.E(payerr.KindIntentNotFound, "intent %s does not exist", intentID)
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, payerr.Wrap(err, payerr.KindConfiguration, "corrupt intent %s", intentID)
	}
	return in, nil
}

func (s *Service) put(ctx context.Context, in Intent) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return payerr.Wrap(err, payerr.KindConfiguration, "encode intent")
	}
	return s.store.Put(ctx, keyPrefix+in.ID, raw)
}
