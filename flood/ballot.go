package flood

import "sort"

/*
Poll ballots

A ballot rides a flood and collects exactly one vote per peer:

	FORWARD   each node inserts {self: vote} before fanning out
	CALLBACK  each node returns the ballot of its whole subtree
	origin    the merged ballot is the poll result

Merging is a set-union keyed by PeerID. A peer only ever writes its own key,
so merging the same partial ballot twice changes nothing.
*/

// Ballot maps each peer to its boolean verdict.
type Ballot struct {
	Votes map[PeerID]bool
}

func NewBallot() Ballot {
	return Ballot{Votes: make(map[PeerID]bool)}
}

func (Ballot) Kind() PayloadKind { return PayloadBallot }

func (b Ballot) clonePayload() Payload { return b.Clone() }

// Clone returns an independent copy.
func (b Ballot) Clone() Ballot {
	out := Ballot{Votes: make(map[PeerID]bool, len(b.Votes))}
	for k, v := range b.Votes {
		out.Votes[k] = v
	}
	return out
}

// Cast records the vote of peer. A second vote by the same peer is ignored.
func (b Ballot) Cast(peer PeerID, vote bool) {
	if _, ok := b.Votes[peer]; ok {
		return
	}
	b.Votes[peer] = vote
}

// Merge unions other into b.
func (b Ballot) Merge(other Ballot) {
	for peer, vote := range other.Votes {
		b.Cast(peer, vote)
	}
}

// Tally returns the number of yes and no votes.
func (b Ballot) Tally() (yes, no int) {
	for _, v := range b.Votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

// Voters returns the voting peers sorted.
func (b Ballot) Voters() []PeerID {
	out := make([]PeerID, 0, len(b.Votes))
	for p := range b.Votes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
