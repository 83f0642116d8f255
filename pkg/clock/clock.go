// Package clock abstracts time so that refill arithmetic and period-key
// computation can be tested against a controlled clock instead of wall-clock
// sleeps.
package clock

import "time"

// Clock supplies the current time to components that do time arithmetic.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by time.Now. The zero value is ready to use.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}
