// Package resilience protects payment execution from failing downstream
// services with a storage-backed circuit breaker and a transient-only
// retry policy.
package resilience

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agentpay/internal/metrics"
	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

// Circuit states. Stored as strings so operators can inspect them directly.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half_open"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within the window that
	// trips the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open probe.
	RecoveryTimeout time.Duration

	// Window bounds how long failures count toward the threshold.
	Window time.Duration
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		Window:           60 * time.Second,
	}
}

// Breaker is a per-service circuit breaker. State lives in storage so that
// every process sharing a Redis backend sees the same circuit.
type Breaker struct {
	store storage.Store
	cfg   BreakerConfig
	clock clock.Clock
	log   *zap.Logger
}

// NewBreaker returns a breaker over the given store.
func NewBreaker(store storage.Store, cfg BreakerConfig, c clock.Clock, log *zap.Logger) *Breaker {
	return &Breaker{store: store, cfg: cfg, clock: c, log: log}
}

func stateKey(service string) string    { return "circuit:" + service + ":state" }
func failuresKey(service string) string { return "circuit:" + service + ":failures" }
func recoveryKey(service string) string { return "circuit:" + service + ":recovery_ts" }

// Allow reports whether a call to service may proceed. While open, it
// returns a circuit_open error until the recovery timeout elapses; the
// caller that then wins the open-to-half-open transition goes through as
// the single probe, and everyone else stays rejected until the probe's
// result is recorded.
func (b *Breaker) Allow(ctx context.Context, service string) error {
	raw, ok, err := b.store.Get(ctx, stateKey(service))
	if err != nil {
		return err
	}
	if !ok || string(raw) == stateClosed {
		return nil
	}
	switch string(raw) {
	case stateHalfOpen:
		return payerr.E(payerr.KindCircuitOpen, "service %s is recovering, probe in flight", service)
	case stateOpen:
		rawTS, ok, err := b.store.Get(ctx, recoveryKey(service))
		if err != nil {
			return err
		}
		if ok {
			ts, parseErr := strconv.ParseInt(string(rawTS), 10, 64)
			if parseErr == nil && b.clock.Now().Unix() >= ts {
				admitted, err := b.admitProbe(ctx, service)
				if err != nil {
					return err
				}
				if admitted {
					b.log.Info("circuit half-open, probing", zap.String("service", service))
					return nil
				}
				return payerr.E(payerr.KindCircuitOpen, "service %s is recovering, probe in flight", service)
			}
		}
		return payerr.E(payerr.KindCircuitOpen, "service %s is unavailable", service)
	}
	return nil
}

// admitProbe transitions the circuit from open to half-open. The swap runs
// under the store's atomic Update, so exactly one caller wins the probe
// slot no matter how many race past the recovery deadline.
func (b *Breaker) admitProbe(ctx context.Context, service string) (bool, error) {
	var won, cleared bool
	err := b.store.Update(ctx, stateKey(service), func(old []byte, exists bool) ([]byte, error) {
		won, cleared = false, false
		if !exists {
			// Reset raced us; the circuit is closed.
			cleared = true
			return nil, nil
		}
		if string(old) != stateOpen {
			return old, nil
		}
		won = true
		return []byte(stateHalfOpen), nil
	})
	if err != nil {
		return false, err
	}
	return won || cleared, nil
}

// RecordFailure counts a failed call. Crossing the threshold, or any
// failure while half-open, trips the circuit.
func (b *Breaker) RecordFailure(ctx context.Context, service string) error {
	raw, ok, err := b.store.Get(ctx, stateKey(service))
	if err != nil {
		return err
	}
	if ok && string(raw) == stateHalfOpen {
		return b.trip(ctx, service)
	}
	count, err := b.store.AtomicAdd(ctx, failuresKey(service), decimal.NewFromInt(1), b.cfg.Window)
	if err != nil {
		return err
	}
	if count.IntPart() >= int64(b.cfg.FailureThreshold) {
		return b.trip(ctx, service)
	}
	return nil
}

// RecordSuccess counts a successful call. While half-open it closes the
// circuit; while closed it decays the failure count.
func (b *Breaker) RecordSuccess(ctx context.Context, service string) error {
	raw, ok, err := b.store.Get(ctx, stateKey(service))
	if err != nil {
		return err
	}
	if ok && string(raw) == stateHalfOpen {
		b.log.Info("circuit closed after successful probe", zap.String("service", service))
		return b.reset(ctx, service)
	}
	// Decay one failure per success, deleting the counter at zero.
	return b.store.Update(ctx, failuresKey(service), func(old []byte, exists bool) ([]byte, error) {
		if !exists {
			return nil, nil
		}
		n, err := storage.DecodeCounter(old)
		if err != nil || n.IntPart() <= 1 {
			return nil, nil
		}
		return storage.EncodeCounter(n.Sub(decimal.NewFromInt(1))), nil
	})
}

// Trip forces the circuit open immediately.
func (b *Breaker) Trip(ctx context.Context, service string) error {
	return b.trip(ctx, service)
}

// Reset forces the circuit closed and clears all counters.
func (b *Breaker) Reset(ctx context.Context, service string) error {
	return b.reset(ctx, service)
}

func (b *Breaker) trip(ctx context.Context, service string) error {
	recoverAt := b.clock.Now().Add(b.cfg.RecoveryTimeout).Unix()
	if err := b.store.Put(ctx, recoveryKey(service), []byte(strconv.FormatInt(recoverAt, 10))); err != nil {
		return err
	}
	if err := b.store.Put(ctx, stateKey(service), []byte(stateOpen)); err != nil {
		return err
	}
	metrics.CircuitTrips.WithLabelValues(service).Inc()
	b.log.Warn("circuit tripped",
		zap.String("service", service),
		zap.Int64("recover_at", recoverAt))
	return nil
}

func (b *Breaker) reset(ctx context.Context, service string) error {
	for _, key := range []string{stateKey(service), failuresKey(service), recoveryKey(service)} {
		if err := b.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
