// Package store defines the shared counter store contract that the rate
// limiter and the quota manager coordinate through.
//
// A Store needs only four capabilities: read a small field map, write it with
// a TTL, atomically increment an integer counter, and read a counter back.
// Anything that can do those (Redis hashes plus INCR/EXPIRE, or a guarded
// in-process map) can serve as a backend, so the limiter and the quota
// manager never care which one they are talking to.
package store

import (
	"context"
	"time"
)

// BucketRecord is the persisted state of one token bucket. Tokens is the
// current balance and LastRefill the instant of the last refill, in
// nanoseconds since the Unix epoch.
type BucketRecord struct {
	Tokens     float64
	LastRefill int64
}

// UpdateFunc transforms a bucket record. found reports whether a record
// already existed for the key; when false the record is the zero value.
type UpdateFunc func(rec BucketRecord, found bool) BucketRecord

// Store is a key-value counter store shared by the limiter and the quota
// manager. Implementations must make Incr atomic; UpdateBucket must be
// atomic with respect to other callers in the same process.
type Store interface {
	// GetBucket reads the bucket record stored under key.
	GetBucket(ctx context.Context, key string) (BucketRecord, bool, error)

	// UpdateBucket applies fn to the record under key and persists the
	// result with the given inactivity TTL. The returned record is always
	// written, whether or not the caller's check was admitted.
	UpdateBucket(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error

	// Incr atomically increments the counter under key and returns the
	// post-increment value. The TTL is applied when the increment creates
	// the key, so a counter expires with its period.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Count reads the counter under key, returning 0 when absent.
	Count(ctx context.Context, key string) (int64, error)
}
