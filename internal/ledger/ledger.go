// Package ledger records every payment attempt from first touch to terminal
// state. The ledger is the audit trail: entries are written before any
// external effect and funds never move without one.
package ledger

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

const keyPrefix = "ledger:"

// Status is the lifecycle state of a ledger entry.
type Status string

// Entry lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// IsTerminal reports whether s is a final state. Terminal entries are
// immutable.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked:
		return true
	}
	return false
}

// Entry is a single payment attempt record.
type Entry struct {
	ID             string            `json:"id"`
	WalletID       string            `json:"wallet_id"`
	WalletSetID    string            `json:"wallet_set_id,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Recipient      string            `json:"recipient"`
	Method         string            `json:"method,omitempty"`
	Strategy       string            `json:"strategy,omitempty"`
	Purpose        string            `json:"purpose,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Status         Status            `json:"status"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	GuardsPassed   []string          `json:"guards_passed,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Query filters ledger listings. Zero fields match everything.
type Query struct {
	WalletID       string
	WalletSetID    string
	Recipient      string
	Method         string
	Status         Status
	IdempotencyKey string
	From           time.Time
	To             time.Time
	Limit          int
}

// DefaultQueryLimit caps listings when Query.Limit is zero.
const DefaultQueryLimit = 100

// Ledger stores payment attempt records.
type Ledger struct {
	store storage.Store
	clock clock.Clock
	log   *zap.Logger
}

// New returns a ledger over the given store.
func New(store storage.Store, c clock.Clock, log *zap.Logger) *Ledger {
	return &Ledger{store: store, clock: c, log: log}
}

// RecordRequest captures the fields of a new entry.
type RecordRequest struct {
	WalletID       string
	WalletSetID    string
	Amount         decimal.Decimal
	Recipient      string
	Strategy       string
	Purpose        string
	IdempotencyKey string
	Metadata       map[string]string
}

// Record creates a pending entry and returns it.
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (Entry, error) {
	now := l.clock.Now().UTC()
	e := Entry{
		ID:             uuid.NewString(),
		WalletID:       req.WalletID,
		WalletSetID:    req.WalletSetID,
		Amount:         req.Amount,
		Recipient:      req.Recipient,
		Strategy:       req.Strategy,
		Purpose:        req.Purpose,
		IdempotencyKey: req.IdempotencyKey,
		Status:         StatusPending,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, payerr.Wrap(err, payerr.KindConfiguration, "encode ledger entry")
	}
	if err := l.store.Put(ctx, keyPrefix+e.ID, raw); err != nil {
		return Entry{}, err
	}
	l.log.Debug("ledger entry recorded",
		zap.String("entry_id", e.ID),
		zap.String("wallet_id", e.WalletID),
		zap.String("amount", e.Amount.String()))
	return e, nil
}

// StatusUpdate carries the mutable fields of a status transition.
type StatusUpdate struct {
	Status        Status
	Method        string
	TransactionID string
	GuardsPassed  []string
	Error         string
	Metadata      map[string]string
}

// UpdateStatus transitions an entry. Entries already in a terminal state
// reject further transitions. Metadata merges key by key.
func (l *Ledger) UpdateStatus(ctx context.Context, entryID string, upd StatusUpdate) (Entry, error) {
	var out Entry
	err := l.store.Update(ctx, keyPrefix+entryID, func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, payerr.E(payerr.KindValidation, "ledger entry %s not found", entryID)
		}
		var e Entry
		if err := json.Unmarshal(old, &e); err != nil {
			return nil, payerr.Wrap(err, payerr.KindConfiguration, "corrupt ledger entry %s", entryID)
		}
		if e.Status.IsTerminal() {
			return nil, payerr.E(payerr.KindValidation,
				"ledger entry %s is %s and cannot transition to %s", entryID, e.Status, upd.Status)
		}
		e.Status = upd.Status
		if upd.Method != "" {
			e.Method = upd.Method
		}
		if upd.TransactionID != "" {
			e.TransactionID = upd.TransactionID
		}
		if len(upd.GuardsPassed) > 0 {
			e.GuardsPassed = upd.GuardsPassed
		}
		if upd.Error != "" {
			e.Error = upd.Error
		}
		if len(upd.Metadata) > 0 {
			if e.Metadata == nil {
				e.Metadata = make(map[string]string, len(upd.Metadata))
			}
			for k, v := range upd.Metadata {
				e.Metadata[k] = v
			}
		}
		e.UpdatedAt = l.clock.Now().UTC()
		out = e
		return json.Marshal(e)
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

// Get returns a single entry by id.
func (l *Ledger) Get(ctx context.Context, entryID string) (Entry, bool, error) {
	raw, ok, err := l.store.Get(ctx, keyPrefix+entryID)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, payerr.Wrap(err, payerr.KindConfiguration, "corrupt ledger entry %s", entryID)
	}
	return e, true, nil
}

// List returns entries matching q, newest first.
func (l *Ledger) List(ctx context.Context, q Query) ([]Entry, error) {
	kvs, err := l.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, kv := range kvs {
		var e Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			l.log.Warn("skipping corrupt ledger entry", zap.String("key", kv.Key))
			continue
		}
		if matches(e, q) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TotalSpent sums completed outflows for a wallet since the given time.
func (l *Ledger) TotalSpent(ctx context.Context, walletID string, since time.Time) (decimal.Decimal, error) {
	entries, err := l.List(ctx, Query{WalletID: walletID, Status: StatusCompleted, From: since, Limit: 1 << 30})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func matches(e Entry, q Query) bool {
	if q.WalletID != "" && e.WalletID != q.WalletID {
		return false
	}
	if q.WalletSetID != "" && e.WalletSetID != q.WalletSetID {
		return false
	}
	if q.Recipient != "" && e.Recipient != q.Recipient {
		return false
	}
	if q.Method != "" && e.Method != q.Method {
		return false
	}
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	if q.IdempotencyKey != "" && e.IdempotencyKey != q.IdempotencyKey {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	return true
}
