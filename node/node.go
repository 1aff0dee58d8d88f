package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/logger"
	"github.com/adamgarcia4/goLearning/floodnet/peers"
	"github.com/adamgarcia4/goLearning/floodnet/transport"
)

// Node is one flood peer: a directory, a transport and the broadcast engine
// wired together.
type Node struct {
	config     *Config
	dir        *peers.Directory
	transport  transport.Transport
	engine     *flood.Engine
	workers    *pool
	deliveries *deliveryLog
	onDeliver  func(DeliveryRecord)

	logf   func(format string, args ...interface{})
	debugf func(format string, args ...interface{})
	warnf  func(format string, args ...interface{})

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
	since   time.Time
}

// Option customizes a Node at construction.
type Option func(*options)

type options struct {
	transport  transport.Transport
	network    *transport.MemoryNetwork
	listener   net.Listener
	packetConn net.PacketConn
	voter      flood.Voter
	onDeliver  func(DeliveryRecord)
}

// WithTransport uses t instead of building one from Config.Transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithMemoryNetwork attaches a memory transport to network.
func WithMemoryNetwork(network *transport.MemoryNetwork) Option {
	return func(o *options) { o.network = network }
}

// WithListener hands an already bound TCP listener to the gRPC transport.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// WithPacketConn hands an already bound UDP socket to the QUIC transport.
func WithPacketConn(pc net.PacketConn) Option {
	return func(o *options) { o.packetConn = pc }
}

// WithVoter replaces the random poll verdict.
func WithVoter(v flood.Voter) Option {
	return func(o *options) { o.voter = v }
}

// WithDeliveryHook is called for every payload delivered to this peer.
func WithDeliveryHook(fn func(DeliveryRecord)) Option {
	return func(o *options) { o.onDeliver = fn }
}

// New creates a new peer with the given configuration
func New(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := peers.New(config.PeerID, config.Neighbors)
	if err != nil {
		return nil, fmt.Errorf("invalid neighbors: %w", err)
	}

	id := string(config.PeerID)
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:     config,
		dir:        dir,
		workers:    newPool(config.Workers),
		deliveries: newDeliveryLog(deliveryLogSize),
		onDeliver:  o.onDeliver,
		logf:       logger.ForPeer(id),
		debugf:     logger.ForPeerAt(id, logger.LevelDebug),
		warnf:      logger.ForPeerAt(id, logger.LevelWarn),
		ctx:        ctx,
		cancel:     cancel,
	}

	n.transport, err = n.buildTransport(&o)
	if err != nil {
		cancel()
		return nil, err
	}

	n.engine, err = flood.NewEngine(flood.Config{
		Self:         config.PeerID,
		Directory:    dir,
		Sender:       n.transport,
		Deliver:      n.record,
		Voter:        o.voter,
		Timeout:      config.FloodTimeout,
		TombstoneTTL: config.TombstoneTTL,
		Logf:         n.debugf,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	n.transport.SetHandler(n.handle)
	return n, nil
}

func (n *Node) buildTransport(o *options) (transport.Transport, error) {
	if o.transport != nil {
		return o.transport, nil
	}
	topts := transport.Options{
		Self:            n.config.PeerID,
		Listen:          n.config.GetAddress(),
		Directory:       n.dir,
		Listener:        o.listener,
		PacketConn:      o.packetConn,
		StrictAdmission: n.config.StrictAdmission,
		InboundRate:     n.config.inboundLimit(),
		InboundBurst:    n.config.InboundBurst,
		Logf:            n.warnf,
	}
	switch n.config.Transport {
	case TransportGRPC:
		return transport.NewGRPC(topts)
	case TransportQUIC:
		return transport.NewQUIC(topts)
	case TransportMemory:
		if o.network == nil {
			return nil, ErrNetworkRequired
		}
		return o.network.NewTransport(topts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, n.config.Transport)
	}
}

// Start brings up the transport and the tombstone sweeper.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return transport.ErrClosed
	}
	if n.started {
		return nil
	}

	// Binding errors (e.g. port already in use) surface here synchronously.
	if err := n.transport.Start(n.ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", n.config.Transport, err)
	}

	n.wg.Add(1)
	go n.sweepLoop(n.config.SweepInterval)

	n.started = true
	n.since = time.Now()
	n.logf("peer started on %s over %s with %d neighbors", n.config.GetAddress(), n.config.Transport, n.dir.Len())
	return nil
}

// Stop stops the peer gracefully. In-flight floods are abandoned.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.engine.Close()
	n.cancel()
	n.mu.Unlock()

	n.logf("stopping peer...")

	// Lock is released so handlers finishing up can still read the node.
	err := n.transport.Close()
	if err != nil {
		n.warnf("error closing transport: %v", err)
	}
	n.workers.wait()
	n.wg.Wait()

	n.logf("peer stopped")
	return err
}

// handle is the transport's inbound handler. It runs on a link reader, so it
// must not block: callbacks are applied inline and forwards go to the worker
// pool, or are shed when the pool is full.
func (n *Node) handle(from flood.PeerID, env flood.Envelope) {
	if env.Kind.IsCallback() {
		if err := n.engine.HandleEnvelope(n.ctx, env); err != nil {
			n.debugf("%s for %s from %s: %v", env.Kind, env.ID, from, err)
		}
		return
	}

	accepted := n.workers.tryGo(func() {
		if err := n.engine.HandleEnvelope(n.ctx, env); err != nil {
			n.warnf("forward %s from %s: %v", env.ID, from, err)
		}
	})
	if !accepted {
		n.engine.Reject(n.ctx, env)
	}
}

func (n *Node) record(d flood.Delivery) {
	rec := n.deliveries.add(d)
	n.logf("delivered %s from %s (origin %s): %s", rec.ID, rec.From, rec.Originator, rec.Summary)
	if n.onDeliver != nil {
		n.onDeliver(rec)
	}
}

func (n *Node) ready() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return flood.ErrClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return nil
}

// ID returns the peer's id.
func (n *Node) ID() flood.PeerID { return n.config.PeerID }

// GetConfig returns the peer configuration (for external access)
func (n *Node) GetConfig() *Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config
}

// Neighbors returns the configured neighbors.
func (n *Node) Neighbors() []flood.PeerID { return n.dir.Neighbors() }

// NewText wraps body as a text payload sent by this peer.
func (n *Node) NewText(body string) flood.Text {
	return flood.Text{Body: body, Source: n.config.PeerID, SentAt: time.Now().UTC()}
}

// BroadcastToAll floods payload to every reachable peer.
func (n *Node) BroadcastToAll(ctx context.Context, payload flood.Payload) (flood.Result, error) {
	if err := n.ready(); err != nil {
		return flood.Result{}, err
	}
	return n.engine.BroadcastToAll(ctx, payload)
}

// BroadcastToDepth delivers payload to peers up to depth hops away.
func (n *Node) BroadcastToDepth(ctx context.Context, depth int, payload flood.Payload) (flood.Result, error) {
	if err := n.ready(); err != nil {
		return flood.Result{}, err
	}
	return n.engine.BroadcastToDepth(ctx, depth, payload)
}

// BroadcastToRandomDepth runs a depth-limited flood with a depth drawn from [min, max].
func (n *Node) BroadcastToRandomDepth(ctx context.Context, min, max int, payload flood.Payload) (flood.Result, error) {
	if err := n.ready(); err != nil {
		return flood.Result{}, err
	}
	return n.engine.BroadcastToRandomDepth(ctx, min, max, payload)
}

// SendToNeighbors delivers payload to the immediate neighbors.
func (n *Node) SendToNeighbors(ctx context.Context, payload flood.Payload) (flood.Result, error) {
	if err := n.ready(); err != nil {
		return flood.Result{}, err
	}
	return n.engine.SendToNeighbors(ctx, payload)
}

// SendDirect delivers payload to one neighbor.
func (n *Node) SendDirect(ctx context.Context, peer flood.PeerID, payload flood.Payload) (flood.Result, error) {
	if err := n.ready(); err != nil {
		return flood.Result{}, err
	}
	return n.engine.SendDirect(ctx, peer, payload)
}

// StartPoll collects one vote per reachable peer.
func (n *Node) StartPoll(ctx context.Context) (map[flood.PeerID]bool, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.engine.StartPoll(ctx)
}

// DiscoverTopology collects every reachable peer's neighbor list.
func (n *Node) DiscoverTopology(ctx context.Context) (map[flood.PeerID][]flood.PeerID, error) {
	if err := n.ready(); err != nil {
		return nil, err
	}
	return n.engine.DiscoverTopology(ctx)
}

// Deliveries returns up to count of the most recent deliveries; count <= 0
// returns all that are kept.
func (n *Node) Deliveries(count int) []DeliveryRecord {
	return n.deliveries.recent(count)
}

// Stats combines engine, link and worker accounting.
type Stats struct {
	flood.Stats
	MessagesSent uint64              `json:"messages_sent"`
	Link         transport.LinkStats `json:"link"`
	WorkersBusy  int                 `json:"workers_busy"`
	Delivered    int                 `json:"delivered"`
}

// Stats returns a snapshot of the peer's counters.
func (n *Node) Stats() Stats {
	s := Stats{
		Stats:       n.engine.Stats(),
		WorkersBusy: n.workers.busy(),
		Delivered:   n.deliveries.count(),
	}
	s.MessagesSent = s.Stats.MessagesSent()
	if ls, ok := n.transport.(interface{ Stats() transport.LinkStats }); ok {
		s.Link = ls.Stats()
	}
	return s
}

// Status describes the peer for the console and admin API.
type Status struct {
	PeerID    flood.PeerID          `json:"peer_id"`
	Listen    string                `json:"listen"`
	Transport string                `json:"transport"`
	Started   bool                  `json:"started"`
	Uptime    string                `json:"uptime,omitempty"`
	Neighbors []flood.PeerID        `json:"neighbors"`
	Reachable map[flood.PeerID]bool `json:"reachable,omitempty"`
}

// Status returns the peer's identity and link state.
func (n *Node) Status() Status {
	n.mu.RLock()
	started := n.started && !n.stopped
	since := n.since
	n.mu.RUnlock()

	st := Status{
		PeerID:    n.config.PeerID,
		Listen:    n.config.GetAddress(),
		Transport: n.config.Transport,
		Started:   started,
		Neighbors: n.dir.Neighbors(),
	}
	if started {
		st.Uptime = time.Since(since).Truncate(time.Second).String()
	}
	if r, ok := n.transport.(flood.Reachability); ok {
		st.Reachable = make(map[flood.PeerID]bool, len(st.Neighbors))
		for _, nb := range st.Neighbors {
			st.Reachable[nb] = r.Reachable(nb)
		}
	}
	return st
}
