// Package system provides the wall clock used to stamp cache records.
package system

import "time"

// Clock implements crawler.Clock using time.Now.
type Clock struct {
	precision time.Duration
}

// New creates a Clock that truncates to milliseconds, the finest precision
// every storage backend keeps.
func New() *Clock {
	return &Clock{precision: time.Millisecond}
}

// Now returns the current UTC time truncated to the clock precision.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision <= 0 {
		return now
	}
	return now.Truncate(c.precision)
}
