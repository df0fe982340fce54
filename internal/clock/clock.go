// Package clock abstracts the timer operations used by the session loops so
// tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the supervisors depend on
type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed. d <= 0 fires immediately.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f once d has elapsed and returns a handle that can cancel it.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled call
type Timer struct {
	stop func() bool
}

// Stop prevents the call from firing. It reports whether the call was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
