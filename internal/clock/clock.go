// Package clock fixes the time source shared by expiry, inactivity and refresh-tick logic.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock provides the current time and timers
type Clock = clockwork.Clock

// Timer is a cancellable timer returned by AfterFunc
type Timer = clockwork.Timer

// Manual is a clock that only moves when Advance is called.
// AfterFunc callbacks run on their own goroutine, as with time.AfterFunc.
type Manual = clockwork.FakeClock

// NewReal returns the wall clock
func NewReal() Clock {
	return clockwork.NewRealClock()
}

// NewManual creates a manual clock starting at start
func NewManual(start time.Time) *Manual {
	return clockwork.NewFakeClockAt(start)
}
