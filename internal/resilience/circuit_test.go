package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(t *testing.T) (*Breaker, *testClock) {
	t.Helper()
	tc := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemory(clock.NewFunc(tc.Now))
	return NewBreaker(store, DefaultBreakerConfig(), tc, zap.NewNop()), tc
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	b, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
		require.NoError(t, b.Allow(ctx, "circle"), "failure %d must not trip", i+1)
	}
	require.NoError(t, b.RecordFailure(ctx, "circle"))

	err := b.Allow(ctx, "circle")
	require.Equal(t, payerr.KindCircuitOpen, payerr.KindOf(err))
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	ctx := context.Background()
	b, tc := newBreaker(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
	}
	require.Error(t, b.Allow(ctx, "circle"))

	tc.Advance(31 * time.Second)

	// First call after the timeout goes through as a probe.
	require.NoError(t, b.Allow(ctx, "circle"))
	require.NoError(t, b.RecordSuccess(ctx, "circle"))
	require.NoError(t, b.Allow(ctx, "circle"), "success while half-open closes the circuit")
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	ctx := context.Background()
	b, tc := newBreaker(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
	}
	tc.Advance(31 * time.Second)

	require.NoError(t, b.Allow(ctx, "circle"))
	err := b.Allow(ctx, "circle")
	require.Equal(t, payerr.KindCircuitOpen, payerr.KindOf(err), "only one caller may probe while half-open")

	require.NoError(t, b.RecordSuccess(ctx, "circle"))
	require.NoError(t, b.Allow(ctx, "circle"))
}

func TestBreakerHalfOpenFailureRetrips(t *testing.T) {
	ctx := context.Background()
	b, tc := newBreaker(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
	}
	tc.Advance(31 * time.Second)
	require.NoError(t, b.Allow(ctx, "circle"))

	require.NoError(t, b.RecordFailure(ctx, "circle"))
	err := b.Allow(ctx, "circle")
	require.Equal(t, payerr.KindCircuitOpen, payerr.KindOf(err), "single half-open failure must re-trip")
}

func TestSuccessDecaysFailureCount(t *testing.T) {
	ctx := context.Background()
	b, _ := newBreaker(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
	}
	require.NoError(t, b.RecordSuccess(ctx, "circle"))
	require.NoError(t, b.RecordFailure(ctx, "circle"))
	require.NoError(t, b.Allow(ctx, "circle"), "decay keeps count below threshold")
}

func TestFailureWindowExpires(t *testing.T) {
	ctx := context.Background()
	b, tc := newBreaker(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "circle"))
	}
	tc.Advance(61 * time.Second)
	require.NoError(t, b.RecordFailure(ctx, "circle"))
	require.NoError(t, b.Allow(ctx, "circle"), "old failures outside the window do not count")
}

func TestBreakersAreIndependentPerService(t *testing.T) {
	ctx := context.Background()
	b, _ := newBreaker(t)

	require.NoError(t, b.Trip(ctx, "circle"))
	require.Error(t, b.Allow(ctx, "circle"))
	require.NoError(t, b.Allow(ctx, "iris"))
}
