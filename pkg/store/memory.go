package store

import (
	"context"
	"sync"
	"time"

	"github.com/quotaguard/quotaguard/pkg/clock"
)

type memoryBucket struct {
	rec       BucketRecord
	expiresAt time.Time
}

type memoryCounter struct {
	n         int64
	expiresAt time.Time
}

// MemoryStore is the process-local fallback Store. Its state is private to
// one process and discarded on restart, so limits enforced through it are
// per-replica rather than global; that is the intended degradation when the
// shared store is unreachable.
//
// Entries expire lazily: an entry past its TTL is treated as absent on the
// next access and re-created fresh.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*memoryBucket
	counters map[string]*memoryCounter
	clk      clock.Clock
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock replaces the wall clock used for TTL expiry. Intended for
// tests.
func WithMemoryClock(clk clock.Clock) MemoryOption {
	return func(m *MemoryStore) {
		m.clk = clk
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		buckets:  make(map[string]*memoryBucket),
		counters: make(map[string]*memoryCounter),
		clk:      clock.System{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) GetBucket(_ context.Context, key string) (BucketRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || m.clk.Now().After(b.expiresAt) {
		delete(m.buckets, key)
		return BucketRecord{}, false, nil
	}
	return b.rec, true, nil
}

func (m *MemoryStore) UpdateBucket(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	b, ok := m.buckets[key]
	if ok && now.After(b.expiresAt) {
		delete(m.buckets, key)
		ok = false
	}

	var rec BucketRecord
	if ok {
		rec = b.rec
	}
	next := fn(rec, ok)
	m.buckets[key] = &memoryBucket{rec: next, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	c, ok := m.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		m.counters[key] = c
	}
	c.n++
	return c.n, nil
}

func (m *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || m.clk.Now().After(c.expiresAt) {
		delete(m.counters, key)
		return 0, nil
	}
	return c.n, nil
}

// Len reports how many live bucket records the store holds. Used by tests to
// assert that unknown services leave no state behind.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets) + len(m.counters)
}
