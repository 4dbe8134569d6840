// Package system provides clock implementations for run timestamps.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at T. Scrape dates and generated indexes use it in tests.
type Fixed struct {
	T time.Time
}

// Now returns the frozen time.
func (f Fixed) Now() time.Time {
	return f.T
}

// Date formats t the way scrape dates are written into front matter.
func Date(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
