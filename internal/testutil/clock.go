// Package testutil holds deterministic stand-ins used by tests and the
// scenario harness.
package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the wall time of tick zero.
var DefaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a logical clock that advances one tick per call.
// Ticks double as sequence numbers and, through Now, as timestamps one
// second apart, so scenario traces and stored call times are identical
// across runs.
//
// All methods are safe for concurrent use.
type DeterministicClock struct {
	mu    sync.Mutex
	seq   int64
	epoch time.Time
}

// NewDeterministicClock returns a clock at tick 0 of DefaultEpoch.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{epoch: DefaultEpoch}
}

// NewDeterministicClockAt returns a clock at tick 0 of epoch.
func NewDeterministicClockAt(epoch time.Time) *DeterministicClock {
	return &DeterministicClock{epoch: epoch}
}

// Next advances the clock and returns the new tick. The first call
// returns 1.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the tick without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Now advances the clock and returns the tick as a time. It fits
// contacts.WithClock.
func (c *DeterministicClock) Now() time.Time {
	tick := c.Next()
	return c.epoch.Add(time.Duration(tick) * time.Second)
}

// Reset rewinds to tick 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
