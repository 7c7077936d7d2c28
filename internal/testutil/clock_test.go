package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privlog/internal/ir"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock()
	assert.Equal(t, DefaultEpoch, clock.Current())
}

func TestFakeClock_NowTicks(t *testing.T) {
	clock := NewFakeClockAt(100)

	assert.Equal(t, ir.Timestamp(100), clock.Now())
	assert.Equal(t, ir.Timestamp(101), clock.Now())
	assert.Equal(t, ir.Timestamp(102), clock.Current())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClockAt(0)
	clock.Advance(2 * time.Second)
	assert.Equal(t, ir.Timestamp(2_000_000), clock.Current())

	clock.Set(5)
	assert.Equal(t, ir.Timestamp(5), clock.Now())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClockAt(0)

	const goroutines = 10
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	results := make(chan ir.Timestamp, goroutines*callsPerGoroutine)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
				results <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[ir.Timestamp]bool)
	for ts := range results {
		require.False(t, seen[ts], "duplicate timestamp: %d", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines*callsPerGoroutine)
	assert.Equal(t, ir.Timestamp(goroutines*callsPerGoroutine), clock.Current())
}
