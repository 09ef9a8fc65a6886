package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agentpay/pkg/clock"
)

// entry is a stored value with optional expiry. A zero expiresAt means the
// entry never expires.
type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store for development and tests. Expiry is
// evaluated lazily against the injected clock on every read.
type Memory struct {
	mu    sync.Mutex
	data  map[string]entry
	clock clock.Clock
}

// NewMemory returns an empty in-memory store.
func NewMemory(c clock.Clock) *Memory {
	return &Memory{data: make(map[string]entry), clock: c}
}

// Put stores value under key.
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = entry{value: append([]byte(nil), value...)}
	return nil
}

// Get returns the value under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Update applies fn to the current value of key under the store mutex.
func (m *Memory) Update(_ context.Context, key string, fn Mutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	var old []byte
	if ok {
		old = e.value
	}
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.data, key)
		return nil
	}
	m.data[key] = entry{value: append([]byte(nil), next...), expiresAt: e.expiresAt}
	return nil
}

// AtomicAdd adds delta to the counter under key.
func (m *Memory) AtomicAdd(_ context.Context, key string, delta decimal.Decimal, ttl time.Duration) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	e, ok := m.live(key)
	if ok {
		parsed, err := DecodeCounter(e.value)
		if err != nil {
			return decimal.Zero, err
		}
		total = parsed
	}
	total = total.Add(delta)
	next := entry{value: EncodeCounter(total)}
	if ok {
		next.expiresAt = e.expiresAt
	} else if ttl > 0 {
		next.expiresAt = m.clock.Now().Add(ttl)
	}
	m.data[key] = next
	return total, nil
}

// AcquireLock takes the lock named key unless another live token holds it.
// Re-acquiring with the same token refreshes the TTL.
func (m *Memory) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.live(key); ok && string(e.value) != token {
		return false, nil
	}
	m.data[key] = entry{value: []byte(token), expiresAt: m.clock.Now().Add(ttl)}
	return true, nil
}

// ReleaseLock removes the lock only when held with token.
func (m *Memory) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || string(e.value) != token {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

// Scan returns all live pairs whose key starts with prefix.
func (m *Memory) Scan(_ context.Context, prefix string) ([]KV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var out []KV
	for k, e := range m.data {
		if !strings.HasPrefix(k, prefix) || e.expired(now) {
			continue
		}
		out = append(out, KV{Key: k, Value: append([]byte(nil), e.value...)})
	}
	return out, nil
}

// live returns the entry under key, dropping it first if expired.
// Caller must hold m.mu.
func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.clock.Now()) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

var _ Store = (*Memory)(nil)
