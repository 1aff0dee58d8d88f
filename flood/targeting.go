package flood

import (
	"context"
	"fmt"
	"math"
)

// MaxDepth is the largest hop distance a depth-limited flood may ask for;
// hop counters travel as 32-bit values.
const MaxDepth = math.MaxInt32

// BroadcastToDepth delivers payload to peers at most n hops away. Nodes at
// hop n deliver and acknowledge without forwarding; nodes closer than n only
// relay. With n == 0 the payload is delivered locally.
func (e *Engine) BroadcastToDepth(ctx context.Context, n int, payload Payload) (Result, error) {
	if n < 0 || n > MaxDepth {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidDepth, n)
	}
	if payload == nil {
		return Result{}, fmt.Errorf("%w: nil payload", ErrUnknownPayload)
	}
	res, err := e.start(ctx, Hop{Current: 0, Max: n, Inner: payload}, nil)
	res.Depth = n
	return res, err
}

// BroadcastToRandomDepth draws a depth uniformly from [min, max] and runs a
// depth-limited flood with it. This reaches a peer at a random distance only
// statistically; it is not an addressed unicast.
func (e *Engine) BroadcastToRandomDepth(ctx context.Context, min, max int, payload Payload) (Result, error) {
	if min < 0 || max < min || max > MaxDepth {
		return Result{}, fmt.Errorf("%w: range [%d, %d]", ErrInvalidDepth, min, max)
	}
	depth := min + int(e.int64n(int64(max-min)+1))
	return e.BroadcastToDepth(ctx, depth, payload)
}

// SendToNeighbors delivers payload to every immediate neighbor.
func (e *Engine) SendToNeighbors(ctx context.Context, payload Payload) (Result, error) {
	return e.BroadcastToDepth(ctx, 1, payload)
}

// SendDirect delivers payload to a single neighbor and waits for its
// acknowledgment.
func (e *Engine) SendDirect(ctx context.Context, peer PeerID, payload Payload) (Result, error) {
	if !e.dir.IsNeighbor(peer) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if payload == nil {
		return Result{}, fmt.Errorf("%w: nil payload", ErrUnknownPayload)
	}
	res, err := e.start(ctx, Hop{Current: 0, Max: 1, Inner: payload}, []PeerID{peer})
	res.Depth = 1
	return res, err
}
