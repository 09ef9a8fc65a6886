package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentpay/pkg/payerr"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 5, InitialInterval: time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), zap.NewNop(), func() error {
		calls++
		if calls < 3 {
			return payerr.E(payerr.KindTimeout, "slow upstream")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	blocked := payerr.Blocked("budget", "over limit")
	err := Retry(context.Background(), fastRetry(), zap.NewNop(), func() error {
		calls++
		return blocked
	})
	require.Equal(t, 1, calls, "guard blocks must never be retried")
	require.Equal(t, payerr.KindGuardBlocked, payerr.KindOf(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(), zap.NewNop(), func() error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	require.Equal(t, 5, calls)
}

func TestRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialInterval: 50 * time.Millisecond}, zap.NewNop(), func() error {
		calls++
		cancel()
		return payerr.E(payerr.KindNetwork, "flaky")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryNeverRetriesPermanentKinds(t *testing.T) {
	for _, kind := range []payerr.Kind{
		payerr.KindInsufficientBalance,
		payerr.KindValidation,
		payerr.KindCircuitOpen,
	} {
		calls := 0
		_ = Retry(context.Background(), fastRetry(), zap.NewNop(), func() error {
			calls++
			return payerr.E(kind, "permanent")
		})
		require.Equal(t, 1, calls, "kind %s", kind)
	}
}
