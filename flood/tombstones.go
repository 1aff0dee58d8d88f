package flood

import (
	"sync"
	"time"
)

// tombstones remembers released broadcast ids for a bounded time, so a
// duplicate FORWARD that arrives after a node finished is still answered with
// CALLBACK_INVALID instead of being processed as new data.
//
// Entries expire after ttl; Sweep removes them. The owner decides when to
// sweep (the node runs it from its sweep loop).
type tombstones struct {
	mu      sync.Mutex
	entries map[BroadcastID]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newTombstones(ttl time.Duration) *tombstones {
	return &tombstones{
		entries: make(map[BroadcastID]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// add marks id released. Expiry restarts on every add.
func (t *tombstones) add(id BroadcastID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = t.now().Add(t.ttl)
}

// has reports whether id was released and has not expired.
func (t *tombstones) has(id BroadcastID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.entries[id]
	if !ok {
		return false
	}
	if t.now().After(exp) {
		delete(t.entries, id)
		return false
	}
	return true
}

// sweep drops expired entries and returns how many were removed.
func (t *tombstones) sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, exp := range t.entries {
		if now.After(exp) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *tombstones) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
