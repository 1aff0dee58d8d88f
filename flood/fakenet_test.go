package flood

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeNet wires engines together in-process. Every Send hands a deep copy of
// the envelope to the destination engine on its own goroutine, the way the
// node's worker pool does.
type fakeNet struct {
	mu         sync.Mutex
	engines    map[PeerID]*Engine
	adjacency  map[PeerID][]PeerID
	broken     map[[2]PeerID]bool
	blackholes map[PeerID]bool
	saturated  map[PeerID]bool
	sent       []sentRecord
	deliveries map[PeerID][]Delivery
}

type sentRecord struct {
	From, To PeerID
	Kind     Kind
	ID       BroadcastID
}

type fakeDir struct {
	self PeerID
	nbs  []PeerID
}

func (d fakeDir) Neighbors() []PeerID {
	out := make([]PeerID, len(d.nbs))
	copy(out, d.nbs)
	return out
}

func (d fakeDir) IsNeighbor(p PeerID) bool {
	for _, nb := range d.nbs {
		if nb == p {
			return true
		}
	}
	return false
}

type fakeSender struct {
	net  *fakeNet
	from PeerID
}

func (s fakeSender) Send(ctx context.Context, to PeerID, env Envelope) error {
	n := s.net
	n.mu.Lock()
	if n.broken[[2]PeerID{s.from, to}] {
		n.mu.Unlock()
		return fmt.Errorf("%w: link %s->%s down", ErrTransport, s.from, to)
	}
	n.sent = append(n.sent, sentRecord{From: s.from, To: to, Kind: env.Kind, ID: env.ID})
	dst, ok := n.engines[to]
	drop := n.blackholes[to]
	shed := n.saturated[to] && env.Kind == KindForward
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no peer %s", ErrTransport, to)
	}
	if drop {
		return nil
	}
	cp := env.Clone()
	if shed {
		go dst.Reject(context.Background(), cp)
		return nil
	}
	go func() { _ = dst.HandleEnvelope(context.Background(), cp) }()
	return nil
}

type netOption func(*Config)

func withTimeout(d time.Duration) netOption {
	return func(c *Config) { c.Timeout = d }
}

// newFakeNet builds one engine per peer named in edges. Votes are fixed per
// peer so poll results are deterministic.
func newFakeNet(t *testing.T, edges [][2]PeerID, opts ...netOption) *fakeNet {
	t.Helper()
	n := &fakeNet{
		engines:    make(map[PeerID]*Engine),
		adjacency:  make(map[PeerID][]PeerID),
		broken:     make(map[[2]PeerID]bool),
		blackholes: make(map[PeerID]bool),
		saturated:  make(map[PeerID]bool),
		deliveries: make(map[PeerID][]Delivery),
	}
	for _, e := range edges {
		n.adjacency[e[0]] = append(n.adjacency[e[0]], e[1])
		n.adjacency[e[1]] = append(n.adjacency[e[1]], e[0])
	}
	for peer, nbs := range n.adjacency {
		peer := peer
		sort.Slice(nbs, func(i, j int) bool { return nbs[i] < nbs[j] })
		cfg := Config{
			Self:      peer,
			Directory: fakeDir{self: peer, nbs: nbs},
			Sender:    fakeSender{net: n, from: peer},
			Deliver: func(d Delivery) {
				n.mu.Lock()
				n.deliveries[peer] = append(n.deliveries[peer], d)
				n.mu.Unlock()
			},
			Voter:   func(BroadcastID) bool { return fixedVote(peer) },
			Timeout: 5 * time.Second,
			Rand:    rand.New(rand.NewPCG(1, 2)),
		}
		for _, o := range opts {
			o(&cfg)
		}
		eng, err := NewEngine(cfg)
		require.NoError(t, err)
		n.engines[peer] = eng
	}
	return n
}

func fixedVote(p PeerID) bool {
	return len(p) > 0 && p[0]%2 == 1 // A, C, E... vote yes
}

// saturate makes p shed every forward it receives, like a node whose worker
// pool is full.
func (n *fakeNet) saturate(p PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.saturated[p] = true
}

func (n *fakeNet) engine(p PeerID) *Engine {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engines[p]
}

func (n *fakeNet) delivered(p PeerID) []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.deliveries[p]))
	copy(out, n.deliveries[p])
	return out
}

func (n *fakeNet) countSent(kind Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

func (n *fakeNet) totalSent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *fakeNet) breakLink(from, to PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broken[[2]PeerID{from, to}] = true
}

func (n *fakeNet) blackhole(p PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackholes[p] = true
}

func lineEdges(peers ...PeerID) [][2]PeerID {
	var out [][2]PeerID
	for i := 0; i+1 < len(peers); i++ {
		out = append(out, [2]PeerID{peers[i], peers[i+1]})
	}
	return out
}

func completeEdges(peers ...PeerID) [][2]PeerID {
	var out [][2]PeerID
	for i := range peers {
		for j := i + 1; j < len(peers); j++ {
			out = append(out, [2]PeerID{peers[i], peers[j]})
		}
	}
	return out
}
