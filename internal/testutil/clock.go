// Package testutil holds deterministic stand-ins for the clocks and id
// sources the engine and its collaborators take as options.
package testutil

import (
	"sync"
	"time"
)

// DefaultStart is the wall time a DeterministicClock starts at when none is
// given.
var DefaultStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe wall clock for tests.
//
// Every call to Now returns the start time advanced by step times the number
// of earlier calls. A zero step freezes the clock. Reset rewinds it so the
// same scenario can run again with identical timestamps.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock starting at start. A zero start
// uses DefaultStart.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &DeterministicClock{start: start, step: step}
}

// Now returns the current time and advances the clock by one step.
// Its signature matches the WithNow options across the module.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.ticks) * c.step)
	c.ticks++
	return t
}

// Ticks returns how many times Now has been called.
func (c *DeterministicClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

// Reset rewinds the clock to its start time.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
