package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/wire"
)

const (
	quicDialTimeout = 5 * time.Second

	quicCodeClosing     quic.ApplicationErrorCode = 0
	quicCodeNotNeighbor quic.ApplicationErrorCode = 0x10
	quicCodeBadHello    quic.StreamErrorCode      = 0x11
)

// QUIC links peers with one long-lived stream per neighbor. The dialing side
// writes a hello frame naming itself, then length-prefixed envelope frames.
type QUIC struct {
	addr string
	pc   net.PacketConn
	ln   *quic.Listener
	self flood.PeerID
	dir  Admitter
	recv *receiver
	logf func(format string, args ...interface{})

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	links   map[flood.PeerID]*quicLink
	inbound map[*quic.Conn]struct{}
	closed  bool
}

type quicLink struct {
	mu     sync.Mutex
	conn   *quic.Conn
	stream *quic.Stream
}

var _ Transport = (*QUIC)(nil)
var _ flood.Reachability = (*QUIC)(nil)

func NewQUIC(opts Options) (*QUIC, error) {
	addr := opts.Listen
	if opts.PacketConn != nil {
		addr = opts.PacketConn.LocalAddr().String()
	}
	if addr == "" || !strings.Contains(addr, ":") {
		return nil, fmt.Errorf("invalid address: %s", addr)
	}
	if opts.Self == "" {
		return nil, fmt.Errorf("peer id must be provided")
	}
	return &QUIC{
		addr:    addr,
		pc:      opts.PacketConn,
		self:    opts.Self,
		dir:     opts.Directory,
		recv:    newReceiver(opts),
		logf:    opts.logf(),
		links:   make(map[flood.PeerID]*quicLink),
		inbound: make(map[*quic.Conn]struct{}),
	}, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  time.Minute,
	}
}

// Start binds the UDP socket and accepts links in the background.
func (q *QUIC) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.ctx != nil {
		return nil
	}

	tlsConf, err := serverTLSConfig()
	if err != nil {
		return fmt.Errorf("quic tls: %w", err)
	}
	var ln *quic.Listener
	if q.pc != nil {
		ln, err = quic.Listen(q.pc, tlsConf, quicConfig())
	} else {
		ln, err = quic.ListenAddr(q.addr, tlsConf, quicConfig())
	}
	if err != nil {
		return fmt.Errorf("quic listen %s: %w", q.addr, err)
	}
	q.ln = ln
	q.ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go q.acceptLoop()
	q.logf("QUIC transport listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (q *QUIC) Addr() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ln != nil {
		return q.ln.Addr().String()
	}
	return q.addr
}

func (q *QUIC) SetHandler(h Handler) { q.recv.setHandler(h) }

// Stats reports envelopes dropped on inbound links.
func (q *QUIC) Stats() LinkStats { return q.recv.stats() }

func (q *QUIC) acceptLoop() {
	defer q.wg.Done()
	for {
		conn, err := q.ln.Accept(q.ctx)
		if err != nil {
			if q.ctx.Err() == nil {
				q.logf("quic accept error: %v", err)
			}
			return
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			_ = conn.CloseWithError(quicCodeClosing, "shutting down")
			return
		}
		q.inbound[conn] = struct{}{}
		q.mu.Unlock()

		q.wg.Add(1)
		go q.serveConn(conn)
	}
}

func (q *QUIC) serveConn(conn *quic.Conn) {
	defer q.wg.Done()
	defer func() {
		q.mu.Lock()
		delete(q.inbound, conn)
		q.mu.Unlock()
	}()
	for {
		stream, err := conn.AcceptStream(q.ctx)
		if err != nil {
			return
		}
		q.wg.Add(1)
		go q.serveStream(conn, stream)
	}
}

// serveStream reads one neighbor's link: hello first, then envelope frames
// until the peer closes its side.
func (q *QUIC) serveStream(conn *quic.Conn, stream *quic.Stream) {
	defer q.wg.Done()

	from, err := wire.ReadHello(stream)
	if err != nil {
		q.logf("bad hello from %s: %v", conn.RemoteAddr(), err)
		stream.CancelRead(quicCodeBadHello)
		return
	}
	if err := q.recv.admit(from, conn.RemoteAddr()); err != nil {
		q.logf("rejecting link from %s: %v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(quicCodeNotNeighbor, err.Error())
		return
	}
	q.logf("link from %s opened", from)

	for {
		raw, err := wire.ReadFrame(stream)
		if err != nil {
			if errors.Is(err, io.EOF) || q.ctx.Err() != nil {
				q.logf("link from %s closed", from)
			} else {
				q.logf("link from %s failed: %v", from, err)
			}
			return
		}
		q.recv.deliver(from, raw)
	}
}

// Send frames env onto the stream to peer, dialing it if needed.
func (q *QUIC) Send(ctx context.Context, to flood.PeerID, env flood.Envelope) error {
	if err := ctx.Err(); err != nil {
		return sendError(to, err)
	}
	if q.dir != nil && !q.dir.IsNeighbor(to) {
		return sendError(to, ErrNotNeighbor)
	}
	raw, err := wire.Encode(env)
	if err != nil {
		return sendError(to, err)
	}

	l, err := q.link(to)
	if err != nil {
		return sendError(to, err)
	}

	l.mu.Lock()
	err = wire.WriteFrame(l.stream, raw)
	l.mu.Unlock()
	if err != nil {
		q.dropLink(to, l)
		return sendError(to, err)
	}
	return nil
}

func (q *QUIC) link(to flood.PeerID) (*quicLink, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if q.ctx == nil {
		q.mu.Unlock()
		return nil, ErrNotStarted
	}
	if l, ok := q.links[to]; ok {
		q.mu.Unlock()
		return l, nil
	}
	base := q.ctx
	q.mu.Unlock()

	dctx, cancel := context.WithTimeout(base, quicDialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dctx, string(to), clientTLSConfig(), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", to, err)
	}
	stream, err := conn.OpenStreamSync(dctx)
	if err != nil {
		_ = conn.CloseWithError(quicCodeClosing, "open stream failed")
		return nil, fmt.Errorf("open stream to %s: %w", to, err)
	}
	if err := wire.WriteHello(stream, q.self); err != nil {
		_ = conn.CloseWithError(quicCodeClosing, "hello failed")
		return nil, fmt.Errorf("hello to %s: %w", to, err)
	}
	l := &quicLink{conn: conn, stream: stream}

	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.links[to]; ok {
		l.close()
		return existing, nil
	}
	if q.closed {
		l.close()
		return nil, ErrClosed
	}
	q.links[to] = l
	q.logf("link to %s opened", to)
	return l, nil
}

func (q *QUIC) dropLink(to flood.PeerID, l *quicLink) {
	q.mu.Lock()
	if q.links[to] == l {
		delete(q.links, to)
	}
	q.mu.Unlock()
	l.close()
	q.logf("link to %s dropped", to)
}

func (l *quicLink) close() {
	l.mu.Lock()
	_ = l.stream.Close()
	l.mu.Unlock()
	_ = l.conn.CloseWithError(quicCodeClosing, "link closed")
}

// Reachable reports false once an established link's connection has died.
func (q *QUIC) Reachable(peer flood.PeerID) bool {
	q.mu.Lock()
	l, ok := q.links[peer]
	q.mu.Unlock()
	if !ok {
		return true
	}
	return l.conn.Context().Err() == nil
}

func (q *QUIC) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	links := q.links
	q.links = make(map[flood.PeerID]*quicLink)
	inbound := make([]*quic.Conn, 0, len(q.inbound))
	for c := range q.inbound {
		inbound = append(inbound, c)
	}
	cancel := q.cancel
	ln := q.ln
	q.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	for _, c := range inbound {
		_ = c.CloseWithError(quicCodeClosing, "shutting down")
	}
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	q.wg.Wait()
	q.logf("QUIC transport on %s closed", q.addr)
	return nil
}
