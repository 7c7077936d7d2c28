package testutil

import (
	"sync"
	"time"

	"github.com/roach88/privlog/internal/ir"
)

// DefaultEpoch is where fake clocks start: 2025-01-01T00:00:00Z.
var DefaultEpoch = ir.TimestampOf(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

// FakeClock is a manually advanced clock for tests.
//
// Every Now() returns a distinct timestamp: the clock ticks forward by one
// microsecond per call, so envelopes signed back to back still differ.
// Advance moves it by larger steps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now ir.Timestamp
}

// NewFakeClock creates a clock starting at DefaultEpoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: DefaultEpoch}
}

// NewFakeClockAt creates a clock starting at ts.
func NewFakeClockAt(ts ir.Timestamp) *FakeClock {
	return &FakeClock{now: ts}
}

// Now returns the current time and ticks one microsecond.
func (c *FakeClock) Now() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now
	c.now++
	return ts
}

// Current returns the current time without ticking.
func (c *FakeClock) Current() ir.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ir.Timestamp(d / time.Microsecond)
}

// Set jumps to ts. Moving backwards is allowed.
func (c *FakeClock) Set(ts ir.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts
}
