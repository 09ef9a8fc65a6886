package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agentpay/internal/storage"
	"agentpay/pkg/clock"
	"agentpay/pkg/payerr"
)

// RateConfig caps payment counts per time unit. Zero disables a unit.
type RateConfig struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`

	SetScoped bool `json:"set_scoped,omitempty"`
}

type rateUnit struct {
	name   string
	limit  int
	bucket string
	ttl    time.Duration
}

// RateLimitGuard caps how many payments a wallet makes per minute, hour
// and day. Counts live in calendar-bucket keys that expire on their own.
type RateLimitGuard struct {
	store storage.Store
	clock clock.Clock
	cfg   RateConfig
}

// NewRateLimitGuard returns a rate limit guard with the given caps.
func NewRateLimitGuard(store storage.Store, c clock.Clock, cfg RateConfig) *RateLimitGuard {
	return &RateLimitGuard{store: store, clock: c, cfg: cfg}
}

// Name implements Guard.
func (r *RateLimitGuard) Name() string { return "rate_limit" }

// Type implements Guard.
func (r *RateLimitGuard) Type() Type { return TypeRateLimit }

func (r *RateLimitGuard) units(now time.Time) []rateUnit {
	now = now.UTC()
	var us []rateUnit
	if r.cfg.PerMinute > 0 {
		us = append(us, rateUnit{"minute", r.cfg.PerMinute, "minute:" + now.Format("200601021504"), 2 * time.Minute})
	}
	if r.cfg.PerHour > 0 {
		us = append(us, rateUnit{"hour", r.cfg.PerHour, "hour:" + now.Format("2006010215"), 2 * time.Hour})
	}
	if r.cfg.PerDay > 0 {
		us = append(us, rateUnit{"day", r.cfg.PerDay, "day:" + now.Format("20060102"), 48 * time.Hour})
	}
	return us
}

func rateKey(scope, bucket string) string {
	return fmt.Sprintf("rate:%s:%s", scope, bucket)
}

// rateToken records the buckets a reserve incremented.
type rateToken struct {
	Scope   string   `json:"scope"`
	Buckets []string `json:"buckets"`
}

// Check reports whether one more payment fits each unit's cap.
func (r *RateLimitGuard) Check(ctx context.Context, g Context) error {
	scope := g.scopeKey(r.cfg.SetScoped)
	for _, u := range r.units(r.clock.Now()) {
		raw, ok, err := r.store.Get(ctx, rateKey(scope, u.bucket))
		if err != nil {
			return err
		}
		count := decimal.Zero
		if ok {
			count, err = storage.DecodeCounter(raw)
			if err != nil {
				return err
			}
		}
		if count.IntPart() >= int64(u.limit) {
			return blocked(r.Name(), fmt.Sprintf(
				"rate limit exceeded: %d payments per %s", u.limit, u.name))
		}
	}
	return nil
}

// Reserve counts the payment against each unit, rolling back on any cap.
func (r *RateLimitGuard) Reserve(ctx context.Context, g Context) (string, error) {
	scope := g.scopeKey(r.cfg.SetScoped)
	one := decimal.NewFromInt(1)
	var claimed []string
	rollback := func() {
		for _, bucket := range claimed {
			_, _ = r.store.AtomicAdd(ctx, rateKey(scope, bucket), one.Neg(), 0)
		}
	}
	for _, u := range r.units(r.clock.Now()) {
		count, err := r.store.AtomicAdd(ctx, rateKey(scope, u.bucket), one, u.ttl)
		if err != nil {
			rollback()
			return "", err
		}
		claimed = append(claimed, u.bucket)
		if count.IntPart() > int64(u.limit) {
			rollback()
			return "", blocked(r.Name(), fmt.Sprintf(
				"rate limit exceeded: %d payments per %s", u.limit, u.name))
		}
	}
	raw, err := json.Marshal(rateToken{Scope: scope, Buckets: claimed})
	if err != nil {
		rollback()
		return "", payerr.Wrap(err, payerr.KindConfiguration, "encode rate token")
	}
	return string(raw), nil
}

// Commit is a no-op. A counted payment stays counted whether it settles
// or not; only a rolled-back reserve uncounts.
func (r *RateLimitGuard) Commit(context.Context, Context, string) error { return nil }

// Release uncounts the payment so a failed attempt does not consume rate
// headroom.
func (r *RateLimitGuard) Release(ctx context.Context, _ Context, token string) error {
	var tok rateToken
	if err := json.Unmarshal([]byte(token), &tok); err != nil {
		return payerr.Wrap(err, payerr.KindValidation, "invalid rate token")
	}
	one := decimal.NewFromInt(1)
	for _, bucket := range tok.Buckets {
		if _, err := r.store.AtomicAdd(ctx, rateKey(tok.Scope, bucket), one.Neg(), 0); err != nil {
			return err
		}
	}
	return nil
}

var _ Guard = (*RateLimitGuard)(nil)
