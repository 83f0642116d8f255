package limiter

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/pkg/clock"
	"github.com/quotaguard/quotaguard/pkg/metrics"
	"github.com/quotaguard/quotaguard/pkg/store"
)

const (
	defaultPrefix    = "ratelimit:"
	defaultTimeout   = 100 * time.Millisecond
	defaultBucketTTL = time.Hour
)

// Limiter enforces per-(service, scope) token bucket limits against a shared
// counter store, degrading to a process-local store when the shared one is
// unreachable. It never returns an error for store trouble: the contract is
// always an Allowed/Denied decision, because admission control must not
// become a point of failure for the caller's primary operation.
type Limiter struct {
	profiles map[string]Profile
	shared   store.Store
	local    store.Store

	prefix    string
	timeout   time.Duration
	bucketTTL time.Duration
	clk       clock.Clock
	log       *zap.Logger
	rec       metrics.Recorder
}

// New constructs a Limiter over the given profiles. shared may be nil, in
// which case every check runs against the local store only.
func New(profiles map[string]Profile, shared store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		profiles:  profiles,
		shared:    shared,
		local:     store.NewMemoryStore(),
		prefix:    defaultPrefix,
		timeout:   defaultTimeout,
		bucketTTL: defaultBucketTTL,
		clk:       clock.System{},
		log:       zap.NewNop(),
		rec:       metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Services returns the configured service names, sorted.
func (l *Limiter) Services() []string {
	names := make([]string, 0, len(l.profiles))
	for name := range l.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile returns the profile for a service, if one is configured.
func (l *Limiter) Profile(service string) (Profile, bool) {
	p, ok := l.profiles[service]
	return p, ok
}

// Check decides whether cost tokens may be spent against service. scopeKey
// narrows the bucket to one user or tenant; empty means the service-wide
// bucket. Services without a profile are always allowed and leave no state
// behind, so wiring up a new upstream never breaks callers that have not
// been given a profile yet.
//
// The only possible error is ErrInvalidCost; store failures are resolved
// internally by falling back to local state.
func (l *Limiter) Check(ctx context.Context, service string, cost int64, scopeKey string) (Decision, error) {
	if cost < 1 {
		return Decision{}, ErrInvalidCost
	}

	profile, ok := l.profiles[service]
	if !ok {
		return Decision{Allowed: true}, nil
	}

	key := l.bucketKey(service, scopeKey)
	now := l.clk.Now()
	start := time.Now()

	var out outcome
	update := func(rec store.BucketRecord, found bool) store.BucketRecord {
		next, o := refillSpend(rec, found, profile, cost, now)
		out = o
		return next
	}

	backend := "shared"
	var updateErr error
	if l.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.timeout)
		updateErr = l.shared.UpdateBucket(opCtx, key, l.bucketTTL, update)
		cancel()
		if updateErr != nil {
			l.degrade(service, updateErr)
			backend = "local"
			updateErr = l.local.UpdateBucket(ctx, key, l.bucketTTL, update)
		}
	} else {
		backend = "local"
		updateErr = l.local.UpdateBucket(ctx, key, l.bucketTTL, update)
	}
	if updateErr != nil {
		// Both paths down. A rate limit must never be the reason the
		// caller's primary operation fails, so the check fails open.
		l.log.Error("rate limit check failed on both stores, failing open",
			zap.String("service", service), zap.Error(updateErr))
		out = outcome{allowed: true, tokens: float64(profile.Capacity)}
	}

	l.rec.Observe("ratelimit.latency", time.Since(start).Seconds(), map[string]string{
		"service": service, "backend": backend,
	})
	l.rec.Add("ratelimit.check", 1, map[string]string{
		"service": service, "backend": backend, "allowed": boolTag(out.allowed),
	})

	return Decision{Allowed: out.allowed, RetryAfter: out.retryAfter, Remaining: out.tokens}, nil
}

// Status reports the bucket's current state with the refill applied
// virtually; nothing is persisted. It prefers the shared store and falls
// back to local state; with both unreadable it returns the store error.
func (l *Limiter) Status(ctx context.Context, service, scopeKey string) (Status, error) {
	profile, ok := l.profiles[service]
	if !ok {
		return Status{}, ErrUnknownService
	}

	key := l.bucketKey(service, scopeKey)
	now := l.clk.Now()

	rec, found, err := l.readBucket(ctx, key)
	if err != nil {
		return Status{}, err
	}

	tokens := project(rec, found, profile, now)
	missing := float64(profile.Capacity) - tokens
	resetAt := now.Add(time.Duration(missing / float64(profile.RefillPerMinute) * float64(time.Minute)))

	return Status{
		Service:         service,
		Scope:           scopeLabel(scopeKey),
		Tokens:          tokens,
		Capacity:        profile.Capacity,
		RefillPerMinute: profile.RefillPerMinute,
		Utilization:     1 - tokens/float64(profile.Capacity),
		ResetAt:         resetAt,
	}, nil
}

func (l *Limiter) readBucket(ctx context.Context, key string) (store.BucketRecord, bool, error) {
	if l.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, l.timeout)
		rec, found, err := l.shared.GetBucket(opCtx, key)
		cancel()
		if err == nil {
			return rec, found, nil
		}
		l.log.Warn("shared store unreadable, reading local bucket state",
			zap.String("key", key), zap.Error(err))
	}
	return l.local.GetBucket(ctx, key)
}

func (l *Limiter) degrade(service string, err error) {
	l.log.Warn("shared store unavailable, degrading to local rate limit state",
		zap.String("service", service), zap.Error(err))
	l.rec.Add("ratelimit.fallback", 1, map[string]string{"service": service})
}

func (l *Limiter) bucketKey(service, scopeKey string) string {
	return l.prefix + service + ":" + scopeLabel(scopeKey)
}

func scopeLabel(scopeKey string) string {
	if scopeKey == "" {
		return "global"
	}
	return "user:" + scopeKey
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
