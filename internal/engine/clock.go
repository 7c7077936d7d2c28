package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/privlog/internal/ir"
)

// Clock stamps new envelopes.
type Clock interface {
	Now() ir.Timestamp
}

// SystemClock reads wall-clock time but never returns the same or an
// earlier timestamp twice, so two envelopes signed by one agent in the
// same microsecond still differ.
//
// Thread-safety: safe for concurrent use.
type SystemClock struct {
	last atomic.Int64
	now  func() time.Time
}

// NewSystemClock creates a clock reading time.Now.
func NewSystemClock() *SystemClock {
	return &SystemClock{now: time.Now}
}

// Now returns max(wall clock, last + 1µs).
func (c *SystemClock) Now() ir.Timestamp {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	for {
		last := c.last.Load()
		next := int64(ir.TimestampOf(now()))
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return ir.Timestamp(next)
		}
	}
}
