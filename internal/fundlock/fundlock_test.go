package fundlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

func newService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory(clock.NewReal())
	svc := New(store, DefaultConfig(), zap.NewNop())
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc, store
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	token, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.Release(ctx, "wallet-1", token))

	// Lock is free again.
	token2, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)
	require.NotEqual(t, token, token2)
}

func TestContendedAcquireReturnsWalletBusy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, "wallet-1")
	require.Error(t, err)
	require.Equal(t, payerr.KindWalletBusy, payerr.KindOf(err))
}

func TestRetrySucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	first, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)

	released := false
	svc.sleep = func(context.Context, time.Duration) error {
		if !released {
			released = true
			require.NoError(t, svc.Release(ctx, "wallet-1", first))
		}
		return nil
	}

	second, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)
	require.NotEmpty(t, second)
}

func TestStaleTokenReleaseIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	token, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, "wallet-1", token))

	other, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)

	// Releasing with the stale token must not free the new holder's lock.
	require.NoError(t, svc.Release(ctx, "wallet-1", token))
	_, err = svc.Acquire(ctx, "wallet-1")
	require.Equal(t, payerr.KindWalletBusy, payerr.KindOf(err))

	require.NoError(t, svc.Release(ctx, "wallet-1", other))
}

func TestIndependentWallets(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Acquire(ctx, "wallet-1")
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, "wallet-2")
	require.NoError(t, err, "locks are per wallet")
}
