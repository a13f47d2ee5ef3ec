package testutil

import "sync"

// DeterministicClock is a manually advanced wall clock in epoch milliseconds.
//
// Recorded sessions are stamped with wall-clock time, and tests need the
// same timestamps on every run. Now never moves on its own; Advance moves it.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	now   int64
}

// NewDeterministicClock creates a clock reading start.
func NewDeterministicClock(start int64) *DeterministicClock {
	return &DeterministicClock{start: start, now: start}
}

// Now returns the current time without advancing.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms and returns the new time.
// Negative values are ignored; the clock never goes backwards.
func (c *DeterministicClock) Advance(ms int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms > 0 {
		c.now += ms
	}
	return c.now
}

// Reset moves the clock back to its start time for test reuse.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
