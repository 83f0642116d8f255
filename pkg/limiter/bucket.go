package limiter

import (
	"time"

	"github.com/quotaguard/quotaguard/pkg/store"
)

// outcome carries the result of one refill-then-spend pass alongside the
// record to persist.
type outcome struct {
	allowed    bool
	retryAfter time.Duration
	tokens     float64
}

// refillSpend is the token bucket arithmetic, defined once and shared by the
// shared-store and local-fallback paths; which store the record lives in is
// purely an adapter concern.
//
// The record's timestamp advances unconditionally, on denial as well as on
// grant. A denied caller retrying in a tight loop must not bank the elapsed
// time and have it credited twice on the next successful check.
func refillSpend(rec store.BucketRecord, found bool, p Profile, cost int64, now time.Time) (store.BucketRecord, outcome) {
	if !found {
		rec = store.BucketRecord{Tokens: float64(p.Capacity), LastRefill: now.UnixNano()}
	}

	elapsed := time.Duration(now.UnixNano() - rec.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	refill := elapsed.Seconds() / 60.0 * float64(p.RefillPerMinute)
	tokens := rec.Tokens + refill
	if tokens > float64(p.Capacity) {
		tokens = float64(p.Capacity)
	}
	rec.LastRefill = now.UnixNano()

	if tokens >= float64(cost) {
		tokens -= float64(cost)
		rec.Tokens = tokens
		return rec, outcome{allowed: true, tokens: tokens}
	}

	// Denied: persist the refilled balance without spending.
	rec.Tokens = tokens
	waitSeconds := (float64(cost) - tokens) / float64(p.RefillPerMinute) * 60.0
	if waitSeconds < 0 {
		waitSeconds = 0
	}
	return rec, outcome{
		retryAfter: time.Duration(waitSeconds * float64(time.Second)),
		tokens:     tokens,
	}
}

// project applies the refill virtually, without producing a record to
// persist. Used by Status.
func project(rec store.BucketRecord, found bool, p Profile, now time.Time) float64 {
	if !found {
		return float64(p.Capacity)
	}
	elapsed := time.Duration(now.UnixNano() - rec.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := rec.Tokens + elapsed.Seconds()/60.0*float64(p.RefillPerMinute)
	if tokens > float64(p.Capacity) {
		tokens = float64(p.Capacity)
	}
	return tokens
}
