// Package testutil provides deterministic fixtures shared by tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe manual clock for tests. It hands out UTC
// timestamps at explicit millisecond offsets from a fixed epoch, so event
// times in fixtures are deterministic and readable.
type Clock struct {
	mu    sync.Mutex
	epoch time.Time
	now   time.Time
}

// Epoch is the base instant fixtures count from.
const Epoch = int64(1600000000000) // 2020-09-13T12:26:40Z

// NewClock creates a clock positioned at Epoch.
func NewClock() *Clock {
	e := time.UnixMilli(Epoch).UTC()
	return &Clock{epoch: e, now: e}
}

// At returns the instant at the given millisecond offset from the epoch
// without moving the clock.
func (c *Clock) At(offsetMillis int64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch.Add(time.Duration(offsetMillis) * time.Millisecond)
}

// Advance moves the clock forward and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Now returns the current instant without moving the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset returns the clock to the epoch for test reuse.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.epoch
}

// At is a package-level shorthand for fixtures that only need absolute
// instants, not a moving clock.
func At(offsetMillis int64) time.Time {
	return time.UnixMilli(Epoch + offsetMillis).UTC()
}
