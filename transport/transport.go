// Package transport moves encoded envelopes between neighboring peers.
//
// Every implementation keeps one long-lived link per neighbor and one reader
// per inbound link. Readers decode frames, apply admission and rate limits,
// and hand envelopes to the Handler in arrival order. Decode failures are
// logged and the link stays up.
package transport

import (
	"context"
	"errors"
	"net"

	"golang.org/x/time/rate"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

var (
	// ErrNotNeighbor is returned when a peer outside the directory tries to
	// link, or when Send names one.
	ErrNotNeighbor = errors.New("transport: not a neighbor")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrNotStarted is returned by Send before Start.
	ErrNotStarted = errors.New("transport: not started")
)

// Handler receives every admitted inbound envelope. from is the link-level
// sender, which for callbacks may differ from env.Originator.
type Handler func(from flood.PeerID, env flood.Envelope)

// Transport is the node's view of the network. It satisfies flood.Sender.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, to flood.PeerID, env flood.Envelope) error
	SetHandler(h Handler)
	Close() error
}

// Admitter decides which remote peers may open links.
type Admitter interface {
	IsNeighbor(peer flood.PeerID) bool
	AllowsHost(host string) bool
}

// Options configure the network transports.
type Options struct {
	Self      flood.PeerID
	Listen    string
	Directory Admitter

	// Listener and PacketConn let callers hand over an already bound socket
	// (gRPC and QUIC respectively) instead of binding Listen.
	Listener   net.Listener
	PacketConn net.PacketConn

	// StrictAdmission also requires the remote host of an inbound link to
	// match a configured neighbor.
	StrictAdmission bool

	// Per-link inbound envelope rate; zero disables limiting.
	InboundRate  rate.Limit
	InboundBurst int

	Logf func(format string, args ...interface{})
}

func (o Options) logf() func(format string, args ...interface{}) {
	if o.Logf != nil {
		return o.Logf
	}
	return func(string, ...interface{}) {}
}
