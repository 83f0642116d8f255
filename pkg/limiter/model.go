package limiter

import (
	"errors"
	"time"
)

// ErrInvalidCost reports a non-positive token cost. This is a caller bug,
// distinct from a denial, and is the only way Check returns an error.
var ErrInvalidCost = errors.New("limiter: cost must be >= 1")

// ErrUnknownService reports a status request for a service with no
// configured profile. Checking an unknown service is deliberately not an
// error (it is always allowed); asking for its bucket status is, because
// there is no bucket to describe.
var ErrUnknownService = errors.New("limiter: no profile configured for service")

// Profile is the static rate limit configuration for one external service:
// Capacity is the burst size (maximum tokens held) and RefillPerMinute the
// steady-state rate. Profiles are immutable at runtime.
type Profile struct {
	Capacity        int64 `yaml:"capacity"`
	RefillPerMinute int64 `yaml:"refill_per_minute"`
}

// Decision is the outcome of a single admission check. Denial is data, not
// an error: RetryAfter tells the caller how long until the requested cost
// could be covered.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  float64
}

// Status is a read-only projection of one bucket with the refill applied
// virtually, for dashboards. ResetAt estimates when the bucket is full
// again at the configured refill rate.
type Status struct {
	Service         string
	Scope           string
	Tokens          float64
	Capacity        int64
	RefillPerMinute int64
	Utilization     float64
	ResetAt         time.Time
}
