package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/wire"
)

// receiver is the inbound half shared by every transport: admission, per-link
// rate limiting, decoding and handler dispatch.
type receiver struct {
	self    flood.PeerID
	dir     Admitter
	strict  bool
	limit   rate.Limit
	burst   int
	logf    func(format string, args ...interface{})
	handler atomic.Pointer[Handler]

	mu       sync.Mutex
	limiters map[flood.PeerID]*rate.Limiter

	dropped   atomic.Uint64
	malformed atomic.Uint64
}

func newReceiver(opts Options) *receiver {
	burst := opts.InboundBurst
	if opts.InboundRate > 0 && burst <= 0 {
		burst = int(opts.InboundRate)
		if burst < 1 {
			burst = 1
		}
	}
	return &receiver{
		self:     opts.Self,
		dir:      opts.Directory,
		strict:   opts.StrictAdmission,
		limit:    opts.InboundRate,
		burst:    burst,
		logf:     opts.logf(),
		limiters: make(map[flood.PeerID]*rate.Limiter),
	}
}

func (r *receiver) setHandler(h Handler) {
	r.handler.Store(&h)
}

// admit checks an inbound link from peer arriving from remote (nil when the
// transport has no address, as in memory).
func (r *receiver) admit(from flood.PeerID, remote net.Addr) error {
	if from == "" {
		return fmt.Errorf("%w: anonymous link", ErrNotNeighbor)
	}
	if r.dir == nil {
		return nil
	}
	if !r.dir.IsNeighbor(from) {
		return fmt.Errorf("%w: %s", ErrNotNeighbor, from)
	}
	if r.strict && remote != nil {
		host, _, err := net.SplitHostPort(remote.String())
		if err != nil {
			host = remote.String()
		}
		if !r.dir.AllowsHost(host) {
			return fmt.Errorf("%w: %s claims to be %s", ErrNotNeighbor, host, from)
		}
	}
	return nil
}

func (r *receiver) allow(from flood.PeerID) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[from]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[from] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}

// deliver decodes one frame from an admitted link and dispatches it.
func (r *receiver) deliver(from flood.PeerID, raw []byte) {
	if !r.allow(from) {
		r.dropped.Add(1)
		r.logf("rate limit exceeded on link from %s, dropping envelope", from)
		return
	}
	env, err := wire.Decode(raw)
	if err != nil {
		r.malformed.Add(1)
		r.logf("malformed envelope from %s: %v", from, err)
		return
	}
	h := r.handler.Load()
	if h == nil {
		r.logf("no handler installed, dropping %s %s from %s", env.Kind, env.ID, from)
		return
	}
	(*h)(from, env)
}

// LinkStats counts inbound envelopes discarded before reaching the handler.
type LinkStats struct {
	RateLimited uint64 `json:"rate_limited"`
	Malformed   uint64 `json:"malformed"`
}

func (r *receiver) stats() LinkStats {
	return LinkStats{RateLimited: r.dropped.Load(), Malformed: r.malformed.Load()}
}

// sendError marks a failed neighbor send as a flood transport failure.
func sendError(to flood.PeerID, err error) error {
	if errors.Is(err, flood.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: send to %s: %w", flood.ErrTransport, to, err)
}
