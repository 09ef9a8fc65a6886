package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

func newLedger(c clock.Clock) *Ledger {
	return New(storage.NewMemory(c), c, zap.NewNop())
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	e, err := l.Record(ctx, RecordRequest{
		WalletID:  "w1",
		Amount:    amt("1.50"),
		Recipient: "0x1111111111111111111111111111111111111111",
		Strategy:  "fail_fast",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)
	require.NotEmpty(t, e.ID)

	got, ok, err := l.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Amount.Equal(amt("1.5")))
}

func TestUpdateStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewReal())

	e, err := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("1"), Recipient: "r"})
	require.NoError(t, err)

	e, err = l.UpdateStatus(ctx, e.ID, StatusUpdate{Status: StatusProcessing, Method: "transfer"})
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, e.Status)
	require.Equal(t, "transfer", e.Method)

	e, err = l.UpdateStatus(ctx, e.ID, StatusUpdate{
		Status:        StatusCompleted,
		TransactionID: "tx-123",
		Metadata:      map[string]string{"network": "BASE"},
	})
	require.NoError(t, err)
	require.Equal(t, "tx-123", e.TransactionID)
	require.Equal(t, "BASE", e.Metadata["network"])
}

func TestTerminalEntriesAreImmutable(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewReal())

	e, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("1"), Recipient: "r"})
	_, err := l.UpdateStatus(ctx, e.ID, StatusUpdate{Status: StatusFailed, Error: "boom"})
	require.NoError(t, err)

	_, err = l.UpdateStatus(ctx, e.ID, StatusUpdate{Status: StatusCompleted})
	require.Error(t, err)
	require.Equal(t, payerr.KindValidation, payerr.KindOf(err))

	got, _, _ := l.Get(ctx, e.ID)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, "boom", got.Error)
}

func TestUpdateUnknownEntry(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewReal())
	_, err := l.UpdateStatus(ctx, "nope", StatusUpdate{Status: StatusCompleted})
	require.Error(t, err)
}

func TestMetadataMerges(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewReal())

	e, _ := l.Record(ctx, RecordRequest{
		WalletID: "w1", Amount: amt("1"), Recipient: "r",
		Metadata: map[string]string{"a": "1", "b": "2"},
	})
	e, err := l.UpdateStatus(ctx, e.ID, StatusUpdate{
		Status:   StatusProcessing,
		Metadata: map[string]string{"b": "3", "c": "4"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, e.Metadata)
}

func TestListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	l := newLedger(clock.NewFunc(func() time.Time {
		step++
		return now.Add(time.Duration(step) * time.Minute)
	}))

	a, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("1"), Recipient: "r1"})
	b, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("2"), Recipient: "r2"})
	_, _ = l.Record(ctx, RecordRequest{WalletID: "w2", Amount: amt("3"), Recipient: "r1"})

	_, err := l.UpdateStatus(ctx, a.ID, StatusUpdate{Status: StatusCompleted})
	require.NoError(t, err)

	got, err := l.List(ctx, Query{WalletID: "w1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, b.ID, got[0].ID, "newest first")

	got, err = l.List(ctx, Query{WalletID: "w1", Status: StatusCompleted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, a.ID, got[0].ID)

	got, err = l.List(ctx, Query{WalletID: "w1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestTotalSpent(t *testing.T) {
	ctx := context.Background()
	l := newLedger(clock.NewReal())

	a, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("1.25"), Recipient: "r"})
	b, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("2.75"), Recipient: "r"})
	c, _ := l.Record(ctx, RecordRequest{WalletID: "w1", Amount: amt("10"), Recipient: "r"})

	_, err := l.UpdateStatus(ctx, a.ID, StatusUpdate{Status: StatusCompleted})
	require.NoError(t, err)
	_, err = l.UpdateStatus(ctx, b.ID, StatusUpdate{Status: StatusCompleted})
	require.NoError(t, err)
	_, err = l.UpdateStatus(ctx, c.ID, StatusUpdate{Status: StatusFailed, Error: "x"})
	require.NoError(t, err)

	total, err := l.TotalSpent(ctx, "w1", time.Time{})
	require.NoError(t, err)
	require.True(t, total.Equal(amt("4")), "got %s", total)
}
