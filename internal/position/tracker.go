package position

import "sync"

// Tracker caches the absolute location of every head seen in a session.
// Entries are created lazily at the origin and replaced wholesale, so readers
// never observe a partially applied move.
type Tracker struct {
	mu    sync.RWMutex
	heads map[string]Location
}

func NewTracker() *Tracker {
	return &Tracker{heads: make(map[string]Location)}
}

// HeadLocation returns the cached location of head, initialising it to the
// origin on first use.
func (t *Tracker) HeadLocation(head string) Location {
	t.mu.RLock()
	l, ok := t.heads[head]
	t.mu.RUnlock()
	if ok {
		return l
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok = t.heads[head]; !ok {
		l = Origin
		t.heads[head] = l
	}
	return l
}

// UpdateAfterMove applies commanded to the cached head location, keeping the
// previous value of every NaN axis, and returns the new location.
func (t *Tracker) UpdateAfterMove(head string, commanded Location) Location {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.heads[head].Derive(commanded)
	t.heads[head] = l
	return l
}

// Resolve returns the working position of a mountable: its head's absolute
// location plus the mountable's offset.
func (t *Tracker) Resolve(m Mountable) Location {
	return t.HeadLocation(m.Head).Add(m.Offset)
}

// Heads returns a copy of every tracked head location.
func (t *Tracker) Heads() map[string]Location {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Location, len(t.heads))
	for h, l := range t.heads {
		out[h] = l
	}
	return out
}
