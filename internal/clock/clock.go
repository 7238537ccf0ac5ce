// Package clock lets eligibility and staleness checks run against an injected time.
package clock

import "time"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock returns the system time in UTC.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns T.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time {
	return c.T
}

// NewReal returns the system clock.
func NewReal() Clock {
	return RealClock{}
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) Clock {
	return FixedClock{T: t}
}
