package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/peers"
)

type received struct {
	From flood.PeerID
	Env  flood.Envelope
}

// inbox collects handler calls.
type inbox struct {
	mu  sync.Mutex
	got []received
}

func (b *inbox) handler() Handler {
	return func(from flood.PeerID, env flood.Envelope) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.got = append(b.got, received{From: from, Env: env})
	}
}

func (b *inbox) all() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]received, len(b.got))
	copy(out, b.got)
	return out
}

func (b *inbox) waitFor(t *testing.T, n int) []received {
	t.Helper()
	require.Eventually(t, func() bool { return len(b.all()) >= n }, 5*time.Second, 5*time.Millisecond)
	return b.all()
}

func directory(t *testing.T, self flood.PeerID, nbs ...flood.PeerID) *peers.Directory {
	t.Helper()
	d, err := peers.New(self, nbs)
	require.NoError(t, err)
	return d
}

func textEnvelope(id string, from flood.PeerID, body string) flood.Envelope {
	return flood.Envelope{
		ID:         flood.BroadcastID(id),
		Kind:       flood.KindForward,
		Originator: from,
		ReturnTo:   from,
		Visited:    []flood.PeerID{from},
		Payload:    flood.Text{Body: body, Source: from},
	}
}

func startTransport(t *testing.T, tr Transport) {
	t.Helper()
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
}
