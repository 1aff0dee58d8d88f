package flood

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

/*
Completion Tracker

One broadcastState per BroadcastID, created the first time this node
processes a FORWARD for that id and released when the owning call returns:

	Open             Unvisited -> Active (fails if live or tombstoned)
	IncrementExpected fan-out counted one more neighbor
	RecordCallback   a CALLBACK / CALLBACK_INVALID came back
	Await            seal the fan-out, then block until received >= expected
	Release          Active -> Completed (tombstoned for a while)

The map lock only guards lookups. Counters live behind the per-state mutex, so
unrelated broadcasts never contend, and Await holds no lock while blocked.
Completion is a channel closed exactly once, after the state is sealed: a
callback that races ahead of the fan-out loop can never end the wait early.
*/

// Callback is one acknowledgment collected for a broadcast.
type Callback struct {
	Kind    Kind
	From    PeerID
	Payload Payload
	// Synthetic marks an acknowledgment injected locally after a failed send.
	Synthetic bool
	// Shed is the number of peers in the sender's subtree that dropped the
	// broadcast unprocessed.
	Shed int
}

// Completion summarizes a finished (or abandoned) wait.
type Completion struct {
	Expected  int
	Received  int
	Invalid   int
	Callbacks []Callback
}

// Shed sums the shed peers reported by the collected callbacks.
func (c Completion) Shed() int {
	total := 0
	for _, cb := range c.Callbacks {
		total += cb.Shed
	}
	return total
}

type broadcastState struct {
	mu        sync.Mutex
	expected  int
	received  int
	invalid   int
	collected []Callback
	sealed    bool
	fired     bool
	done      chan struct{}
}

// finishLocked closes done once the state is sealed and balanced.
func (s *broadcastState) finishLocked() {
	if s.sealed && !s.fired && s.received >= s.expected {
		s.fired = true
		close(s.done)
	}
}

func (s *broadcastState) snapshot() Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	cbs := make([]Callback, len(s.collected))
	copy(cbs, s.collected)
	return Completion{
		Expected:  s.expected,
		Received:  s.received,
		Invalid:   s.invalid,
		Callbacks: cbs,
	}
}

// Tracker owns every BroadcastState of one node.
type Tracker struct {
	mu   sync.Mutex
	live map[BroadcastID]*broadcastState
	dead *tombstones
}

// NewTracker creates a tracker whose released ids stay tombstoned for ttl.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		live: make(map[BroadcastID]*broadcastState),
		dead: newTombstones(ttl),
	}
}

// Open creates the state for id. It returns false when this node has already
// seen id, either still active or recently released.
func (t *Tracker) Open(id BroadcastID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; ok {
		return false
	}
	if t.dead.has(id) {
		return false
	}
	t.live[id] = &broadcastState{done: make(chan struct{})}
	return true
}

// Seen reports whether id is active or tombstoned.
func (t *Tracker) Seen(id BroadcastID) bool {
	t.mu.Lock()
	_, ok := t.live[id]
	t.mu.Unlock()
	return ok || t.dead.has(id)
}

func (t *Tracker) lookup(id BroadcastID) (*broadcastState, error) {
	t.mu.Lock()
	st, ok := t.live[id]
	t.mu.Unlock()
	if ok {
		return st, nil
	}
	if t.dead.has(id) {
		return nil, fmt.Errorf("%w: %s", ErrLateCallback, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBroadcast, id)
}

// IncrementExpected counts one more outstanding neighbor for id.
func (t *Tracker) IncrementExpected(id BroadcastID) error {
	st, err := t.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.expected++
	st.mu.Unlock()
	return nil
}

// RecordCallback applies one acknowledgment to id.
func (t *Tracker) RecordCallback(id BroadcastID, cb Callback) error {
	st, err := t.lookup(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.received++
	if cb.Kind == KindCallbackInvalid {
		st.invalid++
	}
	st.collected = append(st.collected, cb)
	st.finishLocked()
	return nil
}

// Await seals the fan-out of id and blocks until every expected callback has
// arrived, the timeout elapses (timeout <= 0 disables it) or ctx ends.
func (t *Tracker) Await(ctx context.Context, id BroadcastID, timeout time.Duration) (Completion, error) {
	st, err := t.lookup(id)
	if err != nil {
		return Completion{}, err
	}

	st.mu.Lock()
	st.sealed = true
	st.finishLocked()
	st.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-st.done:
		return st.snapshot(), nil
	case <-expired:
		c := st.snapshot()
		return c, fmt.Errorf("%w: %s after %v (%d/%d callbacks)", ErrTimeout, id, timeout, c.Received, c.Expected)
	case <-ctx.Done():
		c := st.snapshot()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c, fmt.Errorf("%w: %s (%d/%d callbacks): %w", ErrTimeout, id, c.Received, c.Expected, ctx.Err())
		}
		return c, ctx.Err()
	}
}

// Pending returns the counters of an active broadcast.
func (t *Tracker) Pending(id BroadcastID) (expected, received int, ok bool) {
	st, err := t.lookup(id)
	if err != nil {
		return 0, 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.expected, st.received, true
}

// Release destroys the state of id and tombstones it.
func (t *Tracker) Release(id BroadcastID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead.add(id)
	delete(t.live, id)
}

// Active returns the number of broadcasts currently in flight on this node.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Sweep drops expired tombstones.
func (t *Tracker) Sweep() int {
	return t.dead.sweep()
}

// Tombstoned returns the number of remembered released ids.
func (t *Tracker) Tombstoned() int {
	return t.dead.len()
}
