package testutil

import (
	"sync"
	"time"
)

// StepClock is a deterministic time source for tests.
//
// Every call to Now advances the clock by a fixed step, so durations
// computed from two readings are predictable and reports built from it are
// byte-identical across runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	n    int64
}

// NewStepClock creates a clock whose first reading is base.
func NewStepClock(base time.Time, step time.Duration) *StepClock {
	return &StepClock{base: base, step: step}
}

// Now returns the next reading and advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.base.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Readings returns how many times Now has been called.
func (c *StepClock) Readings() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock so the next reading is base again.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
