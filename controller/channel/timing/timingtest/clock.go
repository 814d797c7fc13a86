// Package timingtest provides clocks for testing code that paces packets.
package timingtest

import (
	"sync"
	"time"
)

// InstantClock fires every wait immediately and advances its own time
// by the requested duration.
type InstantClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewInstantClock(start time.Time) *InstantClock {
	return &InstantClock{now: start}
}

func (c *InstantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *InstantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// GatedClock only fires a wait when Tick is called.
// It supports a single waiter at a time.
type GatedClock struct {
	InstantClock
	ticks chan time.Time
}

func NewGatedClock(start time.Time) *GatedClock {
	return &GatedClock{InstantClock: InstantClock{now: start}, ticks: make(chan time.Time)}
}

func (c *GatedClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.ticks
}

// Tick blocks until the pending wait has been released
func (c *GatedClock) Tick() {
	c.ticks <- c.Now()
}

// TickTimeout is Tick with a bound, for tests that must not hang.
// It reports whether a waiter was released.
func (c *GatedClock) TickTimeout(d time.Duration) bool {
	select {
	case c.ticks <- c.Now():
		return true
	case <-time.After(d):
		return false
	}
}
