package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a settable clock for deterministic tests.
// Params: initial instant.
// Returns: clock whose time moves only when advanced.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates fake clock pinned to the given instant.
// Params: initial instant (normalized to UTC).
// Returns: initialized fake clock.
func NewFake(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

// Now returns the pinned instant.
// Params: none.
// Returns: current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward.
// Params: duration step.
// Returns: none.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the fake clock to an absolute instant.
// Params: replacement instant (normalized to UTC).
// Returns: none.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now.UTC()
}
