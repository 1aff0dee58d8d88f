package flood

import (
	"sort"
	"time"
)

// PayloadKind enumerates the closed set of payload variants.
type PayloadKind int

const (
	PayloadText PayloadKind = iota + 1
	PayloadHop
	PayloadBallot
	PayloadOpaque
	PayloadTopology
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadHop:
		return "hop"
	case PayloadBallot:
		return "ballot"
	case PayloadOpaque:
		return "opaque"
	case PayloadTopology:
		return "topology"
	default:
		return "unknown"
	}
}

// Payload is the closed union carried by an Envelope:
// Text | Hop | Ballot | Opaque | Topology. The marker method is unexported so
// no other package can add a variant; every switch over payloads has a default
// branch returning ErrUnknownPayload.
type Payload interface {
	Kind() PayloadKind
	clonePayload() Payload
}

// Text is a human-readable message.
type Text struct {
	Body   string
	Source PeerID
	SentAt time.Time
}

func (Text) Kind() PayloadKind { return PayloadText }

func (t Text) clonePayload() Payload { return t }

// Opaque carries application bytes the engine never inspects.
type Opaque struct {
	Data []byte
}

func (Opaque) Kind() PayloadKind { return PayloadOpaque }

func (o Opaque) clonePayload() Payload {
	data := make([]byte, len(o.Data))
	copy(data, o.Data)
	return Opaque{Data: data}
}

// Hop wraps a payload for the depth-limited flood.
//
// Hop distance contract: the originator is hop 0. The envelope a node sends
// to its neighbors carries Current = own hop + 1, so a node reads its own
// distance from Current on receipt. Once Current == Max the node is a leaf:
// it delivers Inner locally, acknowledges, and forwards nothing. Max is
// therefore an inclusive hop distance ("depth 1" = immediate neighbors).
type Hop struct {
	Current int
	Max     int
	Inner   Payload
}

func (Hop) Kind() PayloadKind { return PayloadHop }

func (h Hop) clonePayload() Payload {
	return Hop{Current: h.Current, Max: h.Max, Inner: ClonePayload(h.Inner)}
}

// Leaf reports whether a node holding this hop counter must stop forwarding.
func (h Hop) Leaf() bool {
	return h.Current >= h.Max
}

// Next returns the counter sent to the next ring of neighbors.
func (h Hop) Next() Hop {
	return Hop{Current: h.Current + 1, Max: h.Max, Inner: h.Inner}
}

// Topology maps each visited peer to its neighbor list.
type Topology struct {
	Adjacency map[PeerID][]PeerID
}

func NewTopology() Topology {
	return Topology{Adjacency: make(map[PeerID][]PeerID)}
}

func (Topology) Kind() PayloadKind { return PayloadTopology }

func (t Topology) clonePayload() Payload { return t.Clone() }

// Clone deep-copies the adjacency map.
func (t Topology) Clone() Topology {
	out := NewTopology()
	for peer, nbs := range t.Adjacency {
		cp := make([]PeerID, len(nbs))
		copy(cp, nbs)
		out.Adjacency[peer] = cp
	}
	return out
}

// Add records the neighbor list of peer. The list is stored sorted.
func (t Topology) Add(peer PeerID, neighbors []PeerID) {
	cp := make([]PeerID, len(neighbors))
	copy(cp, neighbors)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	t.Adjacency[peer] = cp
}

// Merge unions other into t keyed by peer. Each peer reports its own list
// exactly once, so an existing entry is left alone.
func (t Topology) Merge(other Topology) {
	for peer, nbs := range other.Adjacency {
		if _, ok := t.Adjacency[peer]; ok {
			continue
		}
		cp := make([]PeerID, len(nbs))
		copy(cp, nbs)
		t.Adjacency[peer] = cp
	}
}

// Peers returns the reporting peers in sorted order.
func (t Topology) Peers() []PeerID {
	out := make([]PeerID, 0, len(t.Adjacency))
	for p := range t.Adjacency {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClonePayload deep-copies p; nil stays nil.
func ClonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	return p.clonePayload()
}

// Describe renders a payload for logs.
func Describe(p Payload) string {
	switch v := p.(type) {
	case nil:
		return "<none>"
	case Text:
		return "text(" + v.Body + ")"
	case Opaque:
		return "opaque"
	case Hop:
		return "hop(" + Describe(v.Inner) + ")"
	case Ballot:
		return "ballot"
	case Topology:
		return "topology"
	default:
		return "unknown"
	}
}
