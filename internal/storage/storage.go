// Package storage defines the key/value persistence contract shared by every
// subsystem (ledger, guards, reservations, circuit breakers, locks) and its
// in-memory and Redis backends.
//
// The contract is deliberately small: callers compose atomic counters and
// compare-and-delete locks out of it rather than reaching for backend
// features directly, so memory and Redis stay interchangeable.
package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"agentpay/pkg/payerr"
)

// CounterScale is the number of fractional digits counters carry, matching
// USDC's six decimals.
const CounterScale = 6

// EncodeCounter renders a counter value as a scaled integer string. Counters
// are stored in micro-units so both backends add them with exact integer
// arithmetic.
func EncodeCounter(d decimal.Decimal) []byte {
	return strconv.AppendInt(nil, d.Shift(CounterScale).Round(0).IntPart(), 10)
}

// DecodeCounter parses a counter value written by AtomicAdd.
func DecodeCounter(raw []byte) (decimal.Decimal, error) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return decimal.Zero, payerr.Wrap(err, payerr.KindConfiguration, "corrupt counter value %q", raw)
	}
	return decimal.New(n, -CounterScale), nil
}

// KV is a key/value pair returned by Scan.
type KV struct {
	Key   string
	Value []byte
}

// Mutator transforms the current value of a key. exists is false when the
// key is absent, in which case old is nil. Returning (nil, nil) deletes
// the key.
type Mutator func(old []byte, exists bool) ([]byte, error)

// Store is the persistence contract. All operations are safe for
// concurrent use.
type Store interface {
	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the value under key. The second return is false when
	// the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Update applies fn to the current value of key atomically with
	// respect to other Update calls on the same key.
	Update(ctx context.Context, key string, fn Mutator) error

	// AtomicAdd adds delta to the numeric counter under key and returns
	// the new total. An absent key counts as zero. When ttl is positive
	// and the key is newly created, the counter expires after ttl.
	AtomicAdd(ctx context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error)

	// AcquireLock attempts to take the lock named key with the caller's
	// token. It returns false without error when the lock is held by
	// another token and has not expired.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLock releases the lock named key only when it is held with
	// the given token. The compare and delete is atomic. Returns false
	// when the lock is absent or held with a different token.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)

	// Scan returns all pairs whose key starts with prefix.
	Scan(ctx context.Context, prefix string) ([]KV, error)
}
