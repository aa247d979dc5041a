// Package timeutil lets the dispatcher's response windows run on a real or a
// manually advanced clock.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of a dispatch.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// NewTimer fires once, no earlier than d from now.
	NewTimer(d time.Duration) Timer
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop reports whether the timer was still pending.
	Stop() bool
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) NewTimer(d time.Duration) Timer  { return wallTimer{time.NewTimer(d)} }

type wallTimer struct{ *time.Timer }

func (t wallTimer) C() <-chan time.Time { return t.Timer.C }

// MockClock only moves when Advance is called. Timers whose deadline has been
// reached fire during Advance, in creation order.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*mockTimer
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{clock: c, at: c.now.Add(d), ch: make(chan time.Time, 1)}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock forward by d and fires every due timer.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var keep []*mockTimer
	for _, t := range c.pending {
		if now.Before(t.at) {
			keep = append(keep, t)
			continue
		}
		t.ch <- now
	}
	c.pending = keep
	c.mu.Unlock()
}

// PendingTimers counts timers that have neither fired nor been stopped.
// Tests poll it to learn that a goroutine is waiting on the clock.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

type mockTimer struct {
	clock *MockClock
	at    time.Time
	ch    chan time.Time
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}
