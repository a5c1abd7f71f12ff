// Package clock abstracts time so that scheduling, grace delays and
// backoff windows can be driven deterministically in tests.
package clock

import "time"

// Clock is the subset of the time package the agent depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f in its own goroutine (Real) or synchronously during
	// Advance (Fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(d time.Duration)
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// still pending.
	Stop() bool
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
