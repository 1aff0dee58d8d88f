package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/wire"
)

// GRPC links peers with one client-streaming PeerLink call per neighbor.
// Outbound links are dialed lazily on first send and reused; inbound links
// are served by the peerLinkService.
type GRPC struct {
	addr string
	srv  *grpc.Server
	lis  net.Listener
	self flood.PeerID
	dir  Admitter
	recv *receiver
	logf func(format string, args ...interface{})

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[flood.PeerID]*grpcLink
	closed bool
}

// grpcLink is one outbound stream. SendMsg is not safe for concurrent use,
// so every send holds mu.
type grpcLink struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

var _ Transport = (*GRPC)(nil)
var _ flood.Reachability = (*GRPC)(nil)

func NewGRPC(opts Options) (*GRPC, error) {
	addr := opts.Listen
	if opts.Listener != nil {
		addr = opts.Listener.Addr().String()
	}
	if addr == "" || !strings.Contains(addr, ":") {
		return nil, fmt.Errorf("invalid address: %s", addr)
	}
	if opts.Self == "" {
		return nil, fmt.Errorf("peer id must be provided")
	}

	return &GRPC{
		addr:  addr,
		lis:   opts.Listener,
		srv:   grpc.NewServer(grpc.MaxRecvMsgSize(wire.MaxFrameSize + 1024)),
		self:  opts.Self,
		dir:   opts.Directory,
		recv:  newReceiver(opts),
		logf:  opts.logf(),
		links: make(map[flood.PeerID]*grpcLink),
	}, nil
}

func (g *GRPC) setupTcp() (net.Listener, error) {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return lis, nil
}

func (g *GRPC) setupServices() {
	g.srv.RegisterService(&peerLinkServiceDesc, &peerLinkService{recv: g.recv})
}

// Start binds the listener and serves in the background. Binding happens
// before Start returns so bind errors reach the caller.
func (g *GRPC) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.ctx != nil {
		return nil
	}

	if g.lis == nil {
		lis, err := g.setupTcp()
		if err != nil {
			return fmt.Errorf("failed to setup TCP: %w", err)
		}
		g.lis = lis
	}

	g.setupServices()

	// Register reflection service for gRPC tools (grpcurl, grpcui, etc.)
	reflection.Register(g.srv)

	// Outbound streams outlive any single Send, so they hang off the
	// transport's own context.
	g.ctx, g.cancel = context.WithCancel(ctx)

	go func() {
		if err := g.srv.Serve(g.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			g.logf("gRPC server on %s stopped: %v", g.addr, err)
		}
	}()
	g.logf("gRPC transport listening on %s", g.lis.Addr())
	return nil
}

// Addr returns the bound listen address.
func (g *GRPC) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lis != nil {
		return g.lis.Addr().String()
	}
	return g.addr
}

func (g *GRPC) SetHandler(h Handler) { g.recv.setHandler(h) }

// Stats reports envelopes dropped on inbound links.
func (g *GRPC) Stats() LinkStats { return g.recv.stats() }

// Send encodes env and writes it on the link to peer, dialing it if needed.
// A failed link is discarded and redialed by the next Send.
func (g *GRPC) Send(ctx context.Context, to flood.PeerID, env flood.Envelope) error {
	if err := ctx.Err(); err != nil {
		return sendError(to, err)
	}
	if g.dir != nil && !g.dir.IsNeighbor(to) {
		return sendError(to, ErrNotNeighbor)
	}
	raw, err := wire.Encode(env)
	if err != nil {
		return sendError(to, err)
	}
	if len(raw) > wire.MaxFrameSize {
		return sendError(to, fmt.Errorf("%w: %d bytes", wire.ErrFrameSize, len(raw)))
	}

	l, err := g.link(to)
	if err != nil {
		return sendError(to, err)
	}

	l.mu.Lock()
	err = l.stream.SendMsg(&wrapperspb.BytesValue{Value: raw})
	if errors.Is(err, io.EOF) {
		// the server ended the stream; its status explains why
		if rerr := l.stream.RecvMsg(new(emptypb.Empty)); rerr != nil {
			err = rerr
		}
	}
	l.mu.Unlock()

	if err != nil {
		g.dropLink(to, l)
		return sendError(to, err)
	}
	return nil
}

func (g *GRPC) link(to flood.PeerID) (*grpcLink, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if g.ctx == nil {
		g.mu.Unlock()
		return nil, ErrNotStarted
	}
	if l, ok := g.links[to]; ok {
		g.mu.Unlock()
		return l, nil
	}
	base := g.ctx
	g.mu.Unlock()

	conn, err := grpc.NewClient(string(to),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(wire.MaxFrameSize+1024)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", to, err)
	}

	sctx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(base, peerHeader, string(g.self)))
	stream, err := conn.NewStream(sctx, &peerLinkServiceDesc.Streams[0], peerLinkMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("open link to %s: %w", to, err)
	}
	l := &grpcLink{conn: conn, stream: stream, cancel: cancel}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.links[to]; ok {
		// lost a dial race
		l.close()
		return existing, nil
	}
	if g.closed {
		l.close()
		return nil, ErrClosed
	}
	g.links[to] = l
	g.logf("link to %s opened", to)
	return l, nil
}

func (g *GRPC) dropLink(to flood.PeerID, l *grpcLink) {
	g.mu.Lock()
	if g.links[to] == l {
		delete(g.links, to)
	}
	g.mu.Unlock()
	l.close()
	g.logf("link to %s dropped", to)
}

func (l *grpcLink) close() {
	l.mu.Lock()
	_ = l.stream.CloseSend()
	l.mu.Unlock()
	l.cancel()
	_ = l.conn.Close()
}

// Reachable reports false only when an established link is known to be
// failing; peers without a link are assumed reachable until a send fails.
func (g *GRPC) Reachable(peer flood.PeerID) bool {
	g.mu.Lock()
	l, ok := g.links[peer]
	g.mu.Unlock()
	if !ok {
		return true
	}
	switch l.conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	default:
		return true
	}
}

func (g *GRPC) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	links := g.links
	g.links = make(map[flood.PeerID]*grpcLink)
	cancel := g.cancel
	g.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	if cancel != nil {
		cancel()
	}
	g.srv.Stop()
	g.logf("gRPC transport on %s closed", g.addr)
	return nil
}
