// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"time"
)

// StepClock is a thread-safe wall clock for tests. Every call to Now
// advances the clock by a fixed step, so two successive readings are always
// strictly ordered.
//
// A single StepClock is usually shared by the sync engine and the in-memory
// remote store so that server-assigned updated_at values and the pull
// watermark live on one timeline.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock creates a clock whose first reading is start+step.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Second
	}
	return &StepClock{now: start, step: step}
}

// Now advances the clock by one step and returns the new time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Current returns the last reading without advancing.
func (c *StepClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without producing a reading.
func (c *StepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
