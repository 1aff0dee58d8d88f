package flood

import (
	"context"
	"fmt"
)

// StartPoll floods an empty ballot and returns one vote per reachable peer,
// this node included. Only the originator surfaces a result; every other node
// hands its subtree's ballot upward in its callback.
func (e *Engine) StartPoll(ctx context.Context) (map[PeerID]bool, error) {
	res, err := e.start(ctx, NewBallot(), nil)
	if err != nil {
		return nil, err
	}
	b, ok := res.Aggregate.(Ballot)
	if !ok {
		return nil, fmt.Errorf("%w: poll %s returned %s", ErrUnknownPayload, res.ID, Describe(res.Aggregate))
	}
	return b.Votes, nil
}

// DiscoverTopology floods an empty topology and returns every reachable
// peer's neighbor list.
func (e *Engine) DiscoverTopology(ctx context.Context) (map[PeerID][]PeerID, error) {
	res, err := e.start(ctx, NewTopology(), nil)
	if err != nil {
		return nil, err
	}
	t, ok := res.Aggregate.(Topology)
	if !ok {
		return nil, fmt.Errorf("%w: discovery %s returned %s", ErrUnknownPayload, res.ID, Describe(res.Aggregate))
	}
	return t.Adjacency, nil
}
