package session

import "time"

// clock abstracts the two timers a session uses.
type clock interface {
	// After fires once after d.
	After(d time.Duration) <-chan time.Time
	// Tick fires every d until stop is called.
	Tick(d time.Duration) (c <-chan time.Time, stop func())
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.NewTimer(d).C
}

func (realClock) Tick(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
