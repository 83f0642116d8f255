package limiter

import (
	"time"

	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/pkg/clock"
	"github.com/quotaguard/quotaguard/pkg/metrics"
	"github.com/quotaguard/quotaguard/pkg/store"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithPrefix sets the key prefix used in the shared store (default
// "ratelimit:").
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithTimeout bounds each shared-store round trip (default 100ms). On
// timeout the check proceeds against the local fallback instead of blocking
// the caller's request path.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = timeout
	}
}

// WithBucketTTL sets the inactivity TTL after which an idle bucket expires
// from the store (default 1 hour).
func WithBucketTTL(ttl time.Duration) Option {
	return func(l *Limiter) {
		l.bucketTTL = ttl
	}
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) {
		l.clk = clk
	}
}

// WithLocalStore replaces the process-local fallback store. Useful for
// sharing one fallback across components, or for fault injection in tests.
func WithLocalStore(s store.Store) Option {
	return func(l *Limiter) {
		l.local = s
	}
}

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// WithRecorder injects a metrics backend (default no-op).
func WithRecorder(rec metrics.Recorder) Option {
	return func(l *Limiter) {
		l.rec = rec
	}
}
