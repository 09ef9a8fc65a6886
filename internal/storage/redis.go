package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// releaseScript deletes a lock key only when it still holds the caller's
// token. Compare and delete must be a single server-side step or two
// clients could both believe they released the lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// addScript increments a counter by a scaled-integer delta and arms its
// window TTL on first touch. Increment and expiry must be one server-side
// step so a window cannot be created without its deadline.
var addScript = redis.NewScript(`
local total = redis.call("INCRBY", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 and redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return total
`)

// Redis is a Store backed by a Redis server, for multi-process
// deployments where guards, locks and circuit state must be shared.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a Store over an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewRedisFromURL dials a Redis server from a redis:// URL.
func NewRedisFromURL(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, payerr.Wrap(err, payerr.KindConfiguration, "invalid redis url")
	}
	return NewRedis(redis.NewClient(opts)), nil
}

// Put stores value under key.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return payerr.Wrap(err, payerr.KindNetwork, "redis set %q", key)
	}
	return nil
}

// Get returns the value under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, payerr.Wrap(err, payerr.KindNetwork, "redis get %q", key)
	}
	return val, true, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return payerr.Wrap(err, payerr.KindNetwork, "redis del %q", key)
	}
	return nil
}

// Update applies fn under an optimistic WATCH transaction, retrying on
// concurrent modification.
func (r *Redis) Update(ctx context.Context, key string, fn Mutator) error {
	const maxAttempts = 16
	for i := 0; i < maxAttempts; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			old, getErr := tx.Get(ctx, key).Bytes()
			exists := true
			if errors.Is(getErr, redis.Nil) {
				exists = false
				old = nil
			} else if getErr != nil {
				return getErr
			}
			next, fnErr := fn(old, exists)
			if fnErr != nil {
				return fnErr
			}
			_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if next == nil {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, next, redis.KeepTTL)
				}
				return nil
			})
			return pipeErr
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !isPayerr(err) {
			return payerr.Wrap(err, payerr.KindNetwork, "redis update %q", key)
		}
		return err
	}
	return payerr.E(payerr.KindNetwork, "redis update %q: too much contention", key)
}

// AtomicAdd adds delta to the counter under key. Deltas travel as
// micro-unit integers so the server-side addition never rounds.
func (r *Redis) AtomicAdd(ctx context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error) {
	units := delta.Shift(CounterScale).Round(0).IntPart()
	total, err := addScript.Run(ctx, r.client, []string{key}, units, ttl.Milliseconds()).Int64()
	if err != nil {
		return decimal.Zero, payerr.Wrap(err, payerr.KindNetwork, "redis counter add %q", key)
	}
	return decimal.New(total, -CounterScale), nil
}

// AcquireLock takes the lock via SET NX PX.
func (r *Redis) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, payerr.Wrap(err, payerr.KindNetwork, "redis lock %q", key)
	}
	if ok {
		return true, nil
	}
	// Refresh when we already hold it.
	held, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return false, payerr.Wrap(err, payerr.KindNetwork, "redis lock %q", key)
		}
		return ok, nil
	}
	if err != nil {
		return false, payerr.Wrap(err, payerr.KindNetwork, "redis lock %q", key)
	}
	if held == token {
		if err := r.client.PExpire(ctx, key, ttl).Err(); err != nil {
			return false, payerr.Wrap(err, payerr.KindNetwork, "redis lock %q", key)
		}
		return true, nil
	}
	return false, nil
}

// ReleaseLock runs the compare-and-delete script.
func (r *Redis) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return false, payerr.Wrap(err, payerr.KindNetwork, "redis unlock %q", key)
	}
	return n == 1, nil
}

// Scan iterates keys matching prefix* and fetches their values.
func (r *Redis) Scan(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		val, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, payerr.Wrap(err, payerr.KindNetwork, "redis get %q", key)
		}
		out = append(out, KV{Key: key, Value: val})
	}
	if err := iter.Err(); err != nil {
		return nil, payerr.Wrap(err, payerr.KindNetwork, "redis scan %q", prefix)
	}
	return out, nil
}

func isPayerr(err error) bool {
	var e *payerr.Error
	return errors.As(err, &e)
}

var _ Store = (*Redis)(nil)
