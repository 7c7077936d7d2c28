package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/privlog/internal/ir"
)

func TestSystemClock_StrictlyIncreasing(t *testing.T) {
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &SystemClock{now: func() time.Time { return frozen }}

	first := c.Now()
	assert.Equal(t, ir.TimestampOf(frozen), first)
	assert.Equal(t, first+1, c.Now())
	assert.Equal(t, first+2, c.Now())
}

func TestSystemClock_FollowsWallClock(t *testing.T) {
	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &SystemClock{now: func() time.Time { return current }}

	c.Now()
	current = current.Add(time.Hour)
	assert.Equal(t, ir.TimestampOf(current), c.Now())
}

func TestSystemClock_GoingBackwards(t *testing.T) {
	current := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &SystemClock{now: func() time.Time { return current }}

	first := c.Now()
	current = current.Add(-time.Minute)
	assert.Greater(t, c.Now(), first)
}

func TestSystemClock_Concurrent(t *testing.T) {
	c := NewSystemClock()

	const goroutines = 8
	const perGoroutine = 200
	results := make(chan ir.Timestamp, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				results <- c.Now()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[ir.Timestamp]bool)
	for ts := range results {
		assert.False(t, seen[ts], "duplicate timestamp %d", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
