// Package limiter provides per-service admission control based on the Token
// Bucket algorithm, shared across process instances through a counter store.
//
// The primary entry point is Limiter.Check:
//
//	dec, err := l.Check(ctx, "email", 1, userID)
//
// The returned Decision says whether the call may proceed, how many tokens
// remain, and on denial how long to wait before retrying.
//
// # Overview
//
// Each (service, scope) pair has a bucket holding up to Capacity tokens,
// refilled continuously at RefillPerMinute. A check refills the bucket for
// the elapsed time, then spends the requested cost if the balance covers it.
// The refill timestamp advances on denial as well, so a caller hammering a
// drained bucket cannot bank elapsed time for a double refill later.
//
// # Scopes
//
// A check with an empty scope key works against the service-wide bucket;
// a non-empty scope key selects a separate per-user bucket. The two are
// independent: callers that want both ceilings check both.
//
// # Backends and degradation
//
// State lives in a shared counter store (Redis in production) so that every
// replica enforces one global limit. Each store round trip is bounded by a
// short timeout; on any store error or timeout the check transparently runs
// the identical arithmetic against a process-local store and logs the
// degradation. Check never surfaces store failures to the caller; the
// result of a check is always a Decision.
//
// The local path trades cross-instance consistency for availability: during
// an outage each replica enforces the limit independently.
//
// # Unknown services
//
// A service with no configured profile is never limited and no state is
// created for it. Integrating a new upstream therefore cannot break callers
// that have not been given a profile yet.
//
// # Errors
//
// Denial is data, not an error. Check returns an error only for
// ErrInvalidCost (cost < 1), which indicates caller misuse.
//
// # Configuration
//
// Limiter uses functional options:
//
//	l := limiter.New(profiles, sharedStore,
//		limiter.WithPrefix("myapp:ratelimit:"),
//		limiter.WithTimeout(50*time.Millisecond),
//		limiter.WithLogger(log),
//		limiter.WithRecorder(rec),
//	)
//
// Profiles come from LoadProfiles (YAML) or DefaultProfiles.
package limiter
