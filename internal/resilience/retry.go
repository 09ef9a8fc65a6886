package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"agentpay/pkg/payerr"
)

// RetryConfig tunes the retry policy.
type RetryConfig struct {
	// MaxAttempts bounds total attempts, the first included.
	MaxAttempts int

	// InitialInterval is the delay before the first retry; each further
	// retry doubles it.
	InitialInterval time.Duration
}

// DefaultRetryConfig returns the standard retry schedule:
// five attempts at 1s, 2s, 4s, 8s, 16s spacing.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Second,
	}
}

// Retry runs fn, retrying transient failures on an exponential schedule.
// Permanent failures (guard blocks, validation, insufficient balance, open
// circuits) abort immediately. The last error is returned on exhaustion.
func Retry(ctx context.Context, cfg RetryConfig, log *zap.Logger, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = cfg.InitialInterval * 32
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !payerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		log.Debug("transient failure, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1)), ctx))
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	return err
}
