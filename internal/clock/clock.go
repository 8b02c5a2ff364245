package clock

import "time"

// Clock is the time source used by watchdogs. Production code uses
// Real(); tests drive a Fake.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f once d has elapsed unless the timer is stopped first.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc.
type Timer interface {
	// Stop reports whether the call prevented f from running.
	Stop() bool
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
