// Package quota enforces absolute per-period usage caps (emails sent per
// day, workflow triggers per month) on top of the shared counter store.
// Quotas are a coarser, business-level ceiling, independent of the token
// bucket limits that protect third-party rate limits.
package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quotaguard/quotaguard/pkg/clock"
	"github.com/quotaguard/quotaguard/pkg/metrics"
	"github.com/quotaguard/quotaguard/pkg/store"
)

const (
	defaultPrefix  = "quota:"
	defaultTimeout = 100 * time.Millisecond
)

// Usage is the read model for one scope's counter in the current period.
type Usage struct {
	Used      int64
	PeriodKey string
	ResetsAt  time.Time
}

// Manager tracks monotone usage counters keyed by calendar period. Counters
// live in the shared store so the cap holds across replicas, with the same
// local degradation policy as the limiter.
type Manager struct {
	shared store.Store
	local  store.Store

	prefix  string
	timeout time.Duration
	clk     clock.Clock
	log     *zap.Logger
	rec     metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the store key prefix (default "quota:").
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithTimeout bounds each shared-store round trip (default 100ms).
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clk = clk }
}

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRecorder injects a metrics backend (default no-op).
func WithRecorder(rec metrics.Recorder) Option {
	return func(m *Manager) { m.rec = rec }
}

// WithLocalStore replaces the process-local fallback store. Useful for
// sharing one fallback across components, or for fault injection in tests.
func WithLocalStore(s store.Store) Option {
	return func(m *Manager) { m.local = s }
}

// New constructs a Manager. shared may be nil for local-only operation.
func New(shared store.Store, opts ...Option) *Manager {
	m := &Manager{
		shared:  shared,
		local:   store.NewMemoryStore(),
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		clk:     clock.System{},
		log:     zap.NewNop(),
		rec:     metrics.NopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckAndIncrement charges one unit against (scopeID, quotaType, period)
// and reports whether the scope is still within limit afterwards.
//
// The counter is incremented before the comparison, and the caller is
// charged whether or not the result is within quota. A read-compare-write
// would let N concurrent callers all observe "under quota" before any of
// them increments; the atomic increment-then-compare closes that race and
// is a contract of this operation, not an implementation detail.
//
// An unknown period returns ErrUnknownPeriod. Store failures never block
// the caller: the shared store falls back to local state, and if both paths
// fail the check fails open, because a quota is a soft business constraint
// rather than a correctness gate.
func (m *Manager) CheckAndIncrement(ctx context.Context, scopeID, quotaType string, limit int64, period Period) (bool, error) {
	now := m.clk.Now()
	periodKey, err := period.Key(now)
	if err != nil {
		return false, err
	}
	key := m.counterKey(scopeID, quotaType, period, periodKey)

	count, backend, err := m.increment(ctx, key, period.TTL())
	if err != nil {
		m.log.Error("quota increment failed on both stores, failing open",
			zap.String("scope", scopeID), zap.String("quota_type", quotaType), zap.Error(err))
		m.rec.Add("quota.failopen", 1, map[string]string{"quota_type": quotaType})
		return true, nil
	}

	within := count <= limit
	m.rec.Add("quota.check", 1, map[string]string{
		"quota_type": quotaType, "period": string(period),
		"backend": backend, "within": boolTag(within),
	})
	return within, nil
}

// Usage returns the current period's count with its key and reset boundary.
// Limits are not returned: they are supplied by callers at check time and
// never stored centrally.
func (m *Manager) Usage(ctx context.Context, scopeID, quotaType string, period Period) (Usage, error) {
	now := m.clk.Now()
	periodKey, err := period.Key(now)
	if err != nil {
		return Usage{}, err
	}
	resetsAt, err := period.ResetsAt(now)
	if err != nil {
		return Usage{}, err
	}
	key := m.counterKey(scopeID, quotaType, period, periodKey)

	count, err := m.read(ctx, key)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: count, PeriodKey: periodKey, ResetsAt: resetsAt}, nil
}

func (m *Manager) increment(ctx context.Context, key string, ttl time.Duration) (int64, string, error) {
	if m.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, m.timeout)
		n, err := m.shared.Incr(opCtx, key, ttl)
		cancel()
		if err == nil {
			return n, "shared", nil
		}
		m.log.Warn("shared store unavailable, degrading to local quota state",
			zap.String("key", key), zap.Error(err))
		m.rec.Add("quota.fallback", 1, nil)
	}

	n, err := m.local.Incr(ctx, key, ttl)
	if err != nil {
		return 0, "local", err
	}
	return n, "local", nil
}

func (m *Manager) read(ctx context.Context, key string) (int64, error) {
	if m.shared != nil {
		opCtx, cancel := context.WithTimeout(ctx, m.timeout)
		n, err := m.shared.Count(opCtx, key)
		cancel()
		if err == nil {
			return n, nil
		}
		m.log.Warn("shared store unreadable, reading local quota state",
			zap.String("key", key), zap.Error(err))
	}
	return m.local.Count(ctx, key)
}

func (m *Manager) counterKey(scopeID, quotaType string, period Period, periodKey string) string {
	return m.prefix + string(period) + ":" + quotaType + ":" + scopeID + ":" + periodKey
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
