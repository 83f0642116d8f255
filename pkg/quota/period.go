package quota

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPeriod reports a period value outside {daily, weekly, monthly}.
// It indicates caller misuse and is surfaced, unlike store failures.
var ErrUnknownPeriod = errors.New("quota: unknown period")

// Period selects the calendar granularity of a quota counter.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// ParsePeriod validates a raw period string.
func ParsePeriod(raw string) (Period, error) {
	switch Period(raw) {
	case Daily, Weekly, Monthly:
		return Period(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
}

// Key derives the deterministic period key for t, in UTC: the date for
// daily, the ISO year-week for weekly, the year-month for monthly. A new
// calendar period yields a new key and therefore a fresh counter; no reset
// logic exists anywhere.
func (p Period) Key(t time.Time) (string, error) {
	t = t.UTC()
	switch p {
	case Daily:
		return t.Format("2006-01-02"), nil
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week), nil
	case Monthly:
		return t.Format("2006-01"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
	}
}

// TTL is the counter's self-expiry, matching the period's natural length.
// Monthly uses a fixed 30 days rather than true calendar-month precision,
// so the effective monthly window drifts slightly across the year.
func (p Period) TTL() time.Duration {
	switch p {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// ResetsAt is the calendar boundary at which the period containing t rolls
// over: next UTC midnight, next ISO-week Monday, or the first of the next
// month.
func (p Period) ResetsAt(t time.Time) (time.Time, error) {
	t = t.UTC()
	switch p {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC), nil
	case Weekly:
		days := (8 - int(t.Weekday())) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()+days, 0, 0, 0, 0, time.UTC), nil
	case Monthly:
		return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, p)
	}
}
