package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/wire"
)

const memoryLinkBuffer = 1024

// MemoryNetwork is an in-process switch connecting Memory transports. Every
// envelope is encoded on send and decoded on receipt, so the codec sits on the
// path exactly as it does over a socket. Links can be severed to simulate
// failures.
type MemoryNetwork struct {
	mu      sync.RWMutex
	nodes   map[flood.PeerID]*Memory
	severed map[[2]flood.PeerID]bool
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		nodes:   make(map[flood.PeerID]*Memory),
		severed: make(map[[2]flood.PeerID]bool),
	}
}

// NewTransport creates an unstarted transport for opts.Self on this network.
func (n *MemoryNetwork) NewTransport(opts Options) *Memory {
	return &Memory{
		net:     n,
		self:    opts.Self,
		dir:     opts.Directory,
		recv:    newReceiver(opts),
		logf:    opts.logf(),
		inbound: make(map[flood.PeerID]chan []byte),
		done:    make(chan struct{}),
	}
}

func linkKey(a, b flood.PeerID) [2]flood.PeerID {
	if b < a {
		a, b = b, a
	}
	return [2]flood.PeerID{a, b}
}

// Sever cuts the link between a and b in both directions.
func (n *MemoryNetwork) Sever(a, b flood.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.severed[linkKey(a, b)] = true
}

// Heal restores a severed link.
func (n *MemoryNetwork) Heal(a, b flood.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.severed, linkKey(a, b))
}

// InjectRaw pushes raw bytes onto the link from -> to as if from had sent
// them. Used to exercise decode failures.
func (n *MemoryNetwork) InjectRaw(from, to flood.PeerID, raw []byte) error {
	dst, err := n.route(from, to)
	if err != nil {
		return err
	}
	return dst.enqueue(context.Background(), from, raw)
}

func (n *MemoryNetwork) join(m *Memory) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.nodes[m.self]; dup {
		return fmt.Errorf("memory network: %s already joined", m.self)
	}
	n.nodes[m.self] = m
	return nil
}

func (n *MemoryNetwork) leave(m *Memory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nodes[m.self] == m {
		delete(n.nodes, m.self)
	}
}

func (n *MemoryNetwork) route(from, to flood.PeerID) (*Memory, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.severed[linkKey(from, to)] {
		return nil, fmt.Errorf("%w: link %s-%s severed", flood.ErrTransport, from, to)
	}
	dst, ok := n.nodes[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not running", flood.ErrTransport, to)
	}
	return dst, nil
}

// Memory is one peer's attachment to a MemoryNetwork.
type Memory struct {
	net  *MemoryNetwork
	self flood.PeerID
	dir  Admitter
	recv *receiver
	logf func(format string, args ...interface{})

	mu      sync.Mutex
	inbound map[flood.PeerID]chan []byte
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Transport = (*Memory)(nil)
var _ flood.Reachability = (*Memory)(nil)

func (m *Memory) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	if err := m.net.join(m); err != nil {
		return err
	}
	m.started = true
	return nil
}

func (m *Memory) SetHandler(h Handler) { m.recv.setHandler(h) }

// Send encodes env and queues it on the link to peer.
func (m *Memory) Send(ctx context.Context, to flood.PeerID, env flood.Envelope) error {
	m.mu.Lock()
	started, closed := m.started, m.closed
	m.mu.Unlock()
	if closed {
		return sendError(to, ErrClosed)
	}
	if !started {
		return sendError(to, ErrNotStarted)
	}
	if m.dir != nil && !m.dir.IsNeighbor(to) {
		return sendError(to, ErrNotNeighbor)
	}
	raw, err := wire.Encode(env)
	if err != nil {
		return sendError(to, err)
	}
	dst, err := m.net.route(m.self, to)
	if err != nil {
		return err
	}
	if err := dst.enqueue(ctx, m.self, raw); err != nil {
		return sendError(to, err)
	}
	return nil
}

// Reachable reports whether the link to peer is up.
func (m *Memory) Reachable(peer flood.PeerID) bool {
	dst, err := m.net.route(m.self, peer)
	if err != nil {
		return false
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	return !dst.closed
}

// Stats reports envelopes dropped on inbound links.
func (m *Memory) Stats() LinkStats { return m.recv.stats() }

func (m *Memory) enqueue(ctx context.Context, from flood.PeerID, raw []byte) error {
	if err := m.recv.admit(from, nil); err != nil {
		return err
	}
	ch, err := m.link(from)
	if err != nil {
		return err
	}
	select {
	case ch <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// link returns the inbound queue for from, starting its reader on first use.
func (m *Memory) link(from flood.PeerID) (chan []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	ch, ok := m.inbound[from]
	if ok {
		return ch, nil
	}
	ch = make(chan []byte, memoryLinkBuffer)
	m.inbound[from] = ch
	m.wg.Add(1)
	go m.readLoop(from, ch)
	return ch, nil
}

func (m *Memory) readLoop(from flood.PeerID, ch chan []byte) {
	defer m.wg.Done()
	for {
		select {
		case raw := <-ch:
			m.recv.deliver(from, raw)
		case <-m.done:
			return
		}
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.net.leave(m)
	m.wg.Wait()
	m.logf("memory transport for %s closed", m.self)
	return nil
}
