// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock implements pipeline.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Truncate returns now rounded down to the given granularity; logical run
// dates are truncated this way so that reruns of a period share a date.
func (c Clock) Truncate(d time.Duration) time.Time {
	return c.Now().Truncate(d)
}
