package swrcache

import (
	"sync"
	"time"
)

// MockClock is a manually driven time source. Installed, it replaces NowFunc
// so entry stamping and classification follow the mocked time instead of the
// wall clock.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock creates a clock frozen at start
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time
func (c *MockClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t, which may lie in the past
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Install points NowFunc at the clock and returns a func restoring the
// previous source. Background revalidation reads NowFunc too, so restore only
// after the Wrapper using it has been closed.
func (c *MockClock) Install() (restore func()) {
	prev := NowFunc
	NowFunc = c.Now
	return func() {
		NowFunc = prev
	}
}
