// Package fundlock serializes payment execution per wallet.
//
// A wallet's funds are mutated by at most one payment at a time. The lock is
// a storage-backed mutex with a caller-owned token and a TTL so that a
// crashed holder can never wedge a wallet permanently.
package fundlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentpay/internal/storage"
	"agentpay/pkg/payerr"
)

const keyPrefix = "lock:"

// Config tunes lock acquisition.
type Config struct {
	// TTL is how long a held lock survives without release.
	TTL time.Duration

	// Retries is how many additional attempts follow a contended first try.
	Retries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultConfig returns the standard lock tuning.
func DefaultConfig() Config {
	return Config{
		TTL:        30 * time.Second,
		Retries:    3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Service acquires and releases per-wallet fund locks.
type Service struct {
	store storage.Store
	cfg   Config
	log   *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a lock service over the given store.
func New(store storage.Store, cfg Config, log *zap.Logger) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
		sleep: realSleep,
	}
}

// Acquire takes the fund lock for walletID and returns the release token.
// Contended acquisition is retried; exhaustion yields wallet_busy.
func (s *Service) Acquire(ctx context.Context, walletID string) (string, error) {
	token := uuid.NewString()
	key := keyPrefix + walletID
	attempts := s.cfg.Retries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return "", payerr.Wrap(err, payerr.KindTimeout, "waiting for fund lock %s", walletID)
			}
		}
		ok, err := s.store.AcquireLock(ctx, key, token, s.cfg.TTL)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		s.log.Debug("fund lock contended",
			zap.String("wallet_id", walletID),
			zap.Int("attempt", i+1))
	}
	return "", payerr.E(payerr.KindWalletBusy, "wallet %s has a payment in flight", walletID)
}

// Release gives the lock back. Only the matching token releases; a stale
// token after TTL expiry and re-acquisition is a silent no-op.
func (s *Service) Release(ctx context.Context, walletID, token string) error {
	released, err := s.store.ReleaseLock(ctx, keyPrefix+walletID, token)
	if err != nil {
		return err
	}
	if !released {
		s.log.Warn("fund lock already released or re-owned",
			zap.String("wallet_id", walletID))
	}
	return nil
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
