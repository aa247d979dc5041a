package api

import (
	"sync"
	"time"
)

// ActivityCounter is a driver.ActivitySink that counts moves per head.
type ActivityCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	last   map[string]time.Time
}

func NewActivityCounter() *ActivityCounter {
	return &ActivityCounter{
		counts: make(map[string]int64),
		last:   make(map[string]time.Time),
	}
}

func (a *ActivityCounter) HeadActivity(head string) {
	a.mu.Lock()
	a.counts[head]++
	a.last[head] = time.Now()
	a.mu.Unlock()
}

// Counts returns a copy of the per-head move counts.
func (a *ActivityCounter) Counts() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// LastActivity returns when head last moved.
func (a *ActivityCounter) LastActivity(head string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.last[head]
	return t, ok
}
