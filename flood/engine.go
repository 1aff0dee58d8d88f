package flood

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

/*
Broadcast Engine

Every (node, broadcast) pair walks one state machine:

	Unvisited --FORWARD--> Active --all callbacks--> Completed

onEnvelope:
 1. already seen this id?
    - callback variant      -> Completion Tracker, stop
    - another FORWARD       -> CALLBACK_INVALID to returnTo, stop
 2. first time: open state, deliver the payload (wrappers deliver at their own
    terminal point), build the outgoing envelope with self appended to visited
    and returnTo = self
 3. fan out to every neighbor not in visited: count, then send concurrently
 4. block until received == expected
 5. originator: return the collected payloads to the caller
 6. otherwise: CALLBACK to returnTo carrying this subtree's contribution

A node with no unvisited neighbors expects zero callbacks, so step 4 returns
at once. The originator's first envelope names itself as both originator and
returnTo.
*/

const (
	DefaultTimeout      = 30 * time.Second
	DefaultTombstoneTTL = 2 * time.Minute
)

var (
	errSelfRequired      = errors.New("flood: self peer id is required")
	errDirectoryRequired = errors.New("flood: directory is required")
	errSenderRequired    = errors.New("flood: sender is required")
)

// Sender delivers one envelope to a neighbor. It is the engine's view of the
// transport adapter.
type Sender interface {
	Send(ctx context.Context, to PeerID, env Envelope) error
}

// Reachability is optionally implemented by a Sender that knows a link is down
// before trying it. Unreachable neighbors are skipped without being counted.
type Reachability interface {
	Reachable(peer PeerID) bool
}

// Directory is the read-only neighbor table.
type Directory interface {
	Neighbors() []PeerID
	IsNeighbor(peer PeerID) bool
}

// Delivery is an application payload handed over by the engine.
type Delivery struct {
	ID         BroadcastID
	Originator PeerID
	From       PeerID
	Payload    Payload
}

// DeliverFunc receives every payload this node accepts, exactly once per broadcast.
type DeliverFunc func(d Delivery)

// Voter computes this node's verdict for a poll.
type Voter func(id BroadcastID) bool

// Config wires an Engine to its collaborators.
type Config struct {
	Self      PeerID
	Directory Directory
	Sender    Sender
	Deliver   DeliverFunc
	Voter     Voter // defaults to a random verdict

	Timeout      time.Duration // per await; <= 0 uses DefaultTimeout
	TombstoneTTL time.Duration // <= 0 uses DefaultTombstoneTTL

	Rand *rand.Rand // source for random depth and default votes
	Logf func(format string, args ...interface{})
}

// Result describes a finished broadcast at its originator.
type Result struct {
	ID       BroadcastID
	Depth    int
	Expected int
	Received int
	Invalid  int
	// Shed counts peers that dropped the broadcast unprocessed. A flood
	// with Shed > 0 completed without reaching them; a poll lacks their votes.
	Shed int
	// Aggregate is the merged poll ballot or topology; nil for plain floods.
	Aggregate Payload
}

// Engine runs the flood protocol for one peer.
type Engine struct {
	self    PeerID
	dir     Directory
	sender  Sender
	deliver DeliverFunc
	voter   Voter
	timeout time.Duration
	tracker *Tracker
	ids     *idSource
	logf    func(format string, args ...interface{})

	rngMu sync.Mutex
	rng   *rand.Rand

	stats  counters
	closed atomic.Bool
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Self == "" {
		return nil, errSelfRequired
	}
	if cfg.Directory == nil {
		return nil, errDirectoryRequired
	}
	if cfg.Sender == nil {
		return nil, errSenderRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = DefaultTombstoneTTL
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...interface{}) {}
	}

	return &Engine{
		self:    cfg.Self,
		dir:     cfg.Directory,
		sender:  cfg.Sender,
		deliver: cfg.Deliver,
		voter:   cfg.Voter,
		timeout: cfg.Timeout,
		tracker: NewTracker(cfg.TombstoneTTL),
		ids:     newIDSource(cfg.Self),
		logf:    cfg.Logf,
		rng:     cfg.Rand,
	}, nil
}

// Self returns the local peer id.
func (e *Engine) Self() PeerID { return e.self }

// Stats returns the engine's message accounting.
func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	s.ActiveBroadcasts = e.tracker.Active()
	return s
}

// Sweep drops expired tombstones of released broadcasts.
func (e *Engine) Sweep() int {
	return e.tracker.Sweep()
}

// Close rejects new broadcasts. In-flight floods finish or time out.
func (e *Engine) Close() {
	e.closed.Store(true)
}

// BroadcastToAll floods payload to every reachable peer and blocks until the
// flood has returned to this node.
func (e *Engine) BroadcastToAll(ctx context.Context, payload Payload) (Result, error) {
	if payload == nil {
		return Result{}, fmt.Errorf("%w: nil payload", ErrUnknownPayload)
	}
	return e.start(ctx, payload, nil)
}

// HandleEnvelope processes one inbound envelope. FORWARD envelopes block until
// the subtree below this node has acknowledged; callbacks return immediately.
func (e *Engine) HandleEnvelope(ctx context.Context, env Envelope) error {
	if !env.Kind.Valid() {
		return fmt.Errorf("flood: envelope %s has invalid kind %d", env.ID, env.Kind)
	}
	if env.Kind.IsCallback() {
		return e.acceptCallback(env)
	}
	_, err := e.run(ctx, env, nil)
	return err
}

// Reject answers a FORWARD with CALLBACK_INVALID without processing it. The
// node uses it to shed load when its worker pool is saturated; the broadcast
// stays unseen here, so a later copy from another neighbor is still accepted.
func (e *Engine) Reject(ctx context.Context, env Envelope) {
	if env.Kind != KindForward {
		return
	}
	e.stats.rejected.Add(1)
	e.logf("shedding forward %s from %s", env.ID, env.ReturnTo)
	e.acknowledge(ctx, env, KindCallbackInvalid, nil, 1)
}

func (e *Engine) start(ctx context.Context, payload Payload, targets []PeerID) (Result, error) {
	if e.closed.Load() {
		return Result{}, ErrClosed
	}
	env := Envelope{
		ID:         e.ids.next(),
		Kind:       KindForward,
		Originator: e.self,
		ReturnTo:   e.self,
		Payload:    payload,
	}
	e.stats.started.Add(1)
	e.logf("starting broadcast %s (%s)", env.ID, Describe(payload))
	return e.run(ctx, env, targets)
}

// run is steps 1-6 for a FORWARD. targets restricts the fan-out of a
// locally originated flood; nil means every neighbor.
func (e *Engine) run(ctx context.Context, env Envelope, targets []PeerID) (Result, error) {
	res := Result{ID: env.ID}

	if !e.tracker.Open(env.ID) {
		e.rejectDuplicate(ctx, env)
		return res, nil
	}
	defer e.tracker.Release(env.ID)

	origin := env.Originator == e.self

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outgoing, leaf, err := e.prepare(env)
	if err != nil {
		if !origin {
			e.acknowledge(ctx, env, KindCallbackInvalid, nil, 0)
		}
		return res, err
	}
	if leaf {
		if origin {
			e.stats.completed.Add(1)
			return res, nil
		}
		e.acknowledge(ctx, env, KindCallback, nil, 0)
		return res, nil
	}

	out := env.forward(e.self, outgoing)
	for _, nb := range e.fanoutTargets(out, targets) {
		if err := e.tracker.IncrementExpected(env.ID); err != nil {
			return res, err
		}
		e.stats.forwardsSent.Add(1)
		go e.dispatch(ctx, nb, out.Clone())
	}

	completion, err := e.tracker.Await(ctx, env.ID, 0)
	res.Expected = completion.Expected
	res.Received = completion.Received
	res.Invalid = completion.Invalid
	res.Shed = completion.Shed()
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			e.stats.timeouts.Add(1)
		}
		e.logf("broadcast %s abandoned: %v", env.ID, err)
		return res, err
	}

	aggregate := mergeAggregate(outgoing, completion.Callbacks)
	if origin {
		res.Aggregate = aggregate
		e.stats.completed.Add(1)
		if res.Shed > 0 {
			e.stats.shedReported.Add(uint64(res.Shed))
			e.logf("broadcast %s completed without %d shed peers", env.ID, res.Shed)
		} else {
			e.logf("broadcast %s reached all nodes: %d callbacks, %d invalid", env.ID, completion.Received, completion.Invalid)
		}
		return res, nil
	}

	e.acknowledge(ctx, env, KindCallback, aggregate, res.Shed)
	return res, nil
}

// prepare is step 2's payload handling. It returns the payload to forward, or
// leaf=true when this node must acknowledge without forwarding.
func (e *Engine) prepare(env Envelope) (Payload, bool, error) {
	switch p := env.Payload.(type) {
	case Text:
		e.deliverPayload(env, p)
		return p, false, nil
	case Opaque:
		e.deliverPayload(env, p)
		return p, false, nil
	case Hop:
		if p.Inner == nil {
			return nil, false, fmt.Errorf("%w: hop without inner payload", ErrUnknownPayload)
		}
		if p.Leaf() {
			e.deliverPayload(env, p.Inner)
			return nil, true, nil
		}
		return p.Next(), false, nil
	case Ballot:
		b := p.Clone()
		b.Cast(e.self, e.vote(env.ID))
		return b, false, nil
	case Topology:
		t := p.Clone()
		t.Add(e.self, e.dir.Neighbors())
		return t, false, nil
	default:
		return nil, false, fmt.Errorf("%w: %T", ErrUnknownPayload, env.Payload)
	}
}

func (e *Engine) fanoutTargets(out Envelope, restrict []PeerID) []PeerID {
	candidates := restrict
	if candidates == nil {
		candidates = e.dir.Neighbors()
	}
	reach, _ := e.sender.(Reachability)

	targets := make([]PeerID, 0, len(candidates))
	for _, nb := range candidates {
		if nb == e.self || out.HasVisited(nb) || !e.dir.IsNeighbor(nb) {
			continue
		}
		if reach != nil && !reach.Reachable(nb) {
			e.logf("skipping unreachable neighbor %s for %s", nb, out.ID)
			continue
		}
		targets = append(targets, nb)
	}
	return targets
}

// dispatch sends one fan-out branch. The branch was already counted, so a
// failed send is balanced with a synthetic CALLBACK_INVALID.
func (e *Engine) dispatch(ctx context.Context, to PeerID, env Envelope) {
	err := e.sender.Send(ctx, to, env)
	if err == nil {
		return
	}
	e.stats.sendFailures.Add(1)
	e.logf("forward %s to %s failed: %v", env.ID, to, err)
	cb := Callback{Kind: KindCallbackInvalid, From: to, Synthetic: true}
	if rerr := e.tracker.RecordCallback(env.ID, cb); rerr != nil && !errors.Is(rerr, ErrLateCallback) {
		e.logf("synthetic callback for %s: %v", env.ID, rerr)
	}
}

// acknowledge answers env's sender. shed is the number of peers at or below
// this node that dropped the broadcast unprocessed.
func (e *Engine) acknowledge(ctx context.Context, env Envelope, kind Kind, payload Payload, shed int) {
	reply := env.reply(e.self, kind, payload)
	reply.Shed = shed
	if kind == KindCallbackInvalid {
		e.stats.invalidSent.Add(1)
	} else {
		e.stats.callbacksSent.Add(1)
	}
	if err := e.sender.Send(ctx, env.ReturnTo, reply); err != nil {
		e.stats.sendFailures.Add(1)
		e.logf("%s for %s to %s failed: %v", kind, env.ID, env.ReturnTo, err)
	}
}

func (e *Engine) rejectDuplicate(ctx context.Context, env Envelope) {
	e.stats.duplicates.Add(1)
	e.logf("duplicate forward %s from %s", env.ID, env.ReturnTo)
	e.acknowledge(ctx, env, KindCallbackInvalid, nil, 0)
}

func (e *Engine) acceptCallback(env Envelope) error {
	if env.Kind == KindCallbackInvalid {
		e.stats.invalidRecv.Add(1)
	} else {
		e.stats.callbacksRecv.Add(1)
	}
	err := e.tracker.RecordCallback(env.ID, Callback{Kind: env.Kind, From: env.ReturnTo, Payload: env.Payload, Shed: env.Shed})
	if errors.Is(err, ErrLateCallback) {
		e.stats.lateCallbacks.Add(1)
		e.logf("dropping late %s for %s from %s", env.Kind, env.ID, env.ReturnTo)
		return nil
	}
	return err
}

func (e *Engine) deliverPayload(env Envelope, p Payload) {
	e.stats.deliveries.Add(1)
	if e.deliver == nil {
		return
	}
	e.deliver(Delivery{
		ID:         env.ID,
		Originator: env.Originator,
		From:       env.ReturnTo,
		Payload:    ClonePayload(p),
	})
}

// mergeAggregate folds the subtree contributions into the local ballot or
// topology. Plain floods have nothing to aggregate.
func mergeAggregate(local Payload, cbs []Callback) Payload {
	switch p := local.(type) {
	case Ballot:
		merged := p.Clone()
		for _, cb := range cbs {
			if b, ok := cb.Payload.(Ballot); ok {
				merged.Merge(b)
			}
		}
		return merged
	case Topology:
		merged := p.Clone()
		for _, cb := range cbs {
			if t, ok := cb.Payload.(Topology); ok {
				merged.Merge(t)
			}
		}
		return merged
	default:
		return nil
	}
}

func (e *Engine) vote(id BroadcastID) bool {
	if e.voter != nil {
		return e.voter(id)
	}
	return e.intn(2) == 1
}

func (e *Engine) intn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.IntN(n)
}

func (e *Engine) int64n(n int64) int64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Int64N(n)
}
