package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

const (
	memA flood.PeerID = "10.0.0.1:7000"
	memB flood.PeerID = "10.0.0.2:7000"
	memC flood.PeerID = "10.0.0.3:7000"
)

func newMemoryPair(t *testing.T, bOpts ...func(*Options)) (*MemoryNetwork, *Memory, *Memory, *inbox) {
	t.Helper()
	net := NewMemoryNetwork()
	a := net.NewTransport(Options{Self: memA, Directory: directory(t, memA, memB, memC)})
	opts := Options{Self: memB, Directory: directory(t, memB, memA)}
	for _, o := range bOpts {
		o(&opts)
	}
	b := net.NewTransport(opts)
	box := &inbox{}
	b.SetHandler(box.handler())
	startTransport(t, a)
	startTransport(t, b)
	return net, a, b, box
}

func TestMemorySendRoundTripsThroughCodec(t *testing.T) {
	_, a, _, box := newMemoryPair(t)

	env := textEnvelope("m1", memA, "hello")
	require.NoError(t, a.Send(context.Background(), memB, env))

	got := box.waitFor(t, 1)
	assert.Equal(t, memA, got[0].From)
	assert.Equal(t, env, got[0].Env)
}

func TestMemoryPreservesLinkOrder(t *testing.T) {
	_, a, _, box := newMemoryPair(t)

	for i := 0; i < 100; i++ {
		require.NoError(t, a.Send(context.Background(), memB, textEnvelope(fmt.Sprintf("m%d", i), memA, "x")))
	}
	got := box.waitFor(t, 100)
	for i, r := range got {
		assert.Equal(t, flood.BroadcastID(fmt.Sprintf("m%d", i)), r.Env.ID)
	}
}

func TestMemoryRejectsNonNeighbors(t *testing.T) {
	net, a, _, box := newMemoryPair(t)

	// a does not list d
	err := a.Send(context.Background(), "10.0.0.4:7000", textEnvelope("m1", memA, "x"))
	require.ErrorIs(t, err, ErrNotNeighbor)
	require.ErrorIs(t, err, flood.ErrTransport)

	// c lists b, but b does not list c
	c := net.NewTransport(Options{Self: memC, Directory: directory(t, memC, memB)})
	startTransport(t, c)
	err = c.Send(context.Background(), memB, textEnvelope("m2", memC, "x"))
	require.ErrorIs(t, err, ErrNotNeighbor)
	assert.Empty(t, box.all())
}

func TestMemorySeverAndHeal(t *testing.T) {
	net, a, _, box := newMemoryPair(t)

	net.Sever(memB, memA)
	assert.False(t, a.Reachable(memB))
	err := a.Send(context.Background(), memB, textEnvelope("m1", memA, "x"))
	require.ErrorIs(t, err, flood.ErrTransport)

	net.Heal(memA, memB)
	assert.True(t, a.Reachable(memB))
	require.NoError(t, a.Send(context.Background(), memB, textEnvelope("m2", memA, "x")))
	got := box.waitFor(t, 1)
	assert.Equal(t, flood.BroadcastID("m2"), got[0].Env.ID)
}

func TestMemoryMalformedFrameKeepsLinkUp(t *testing.T) {
	net, a, b, box := newMemoryPair(t)

	require.NoError(t, net.InjectRaw(memA, memB, []byte{0xff, 0x01, 0x02}))
	require.NoError(t, a.Send(context.Background(), memB, textEnvelope("m1", memA, "after")))

	got := box.waitFor(t, 1)
	assert.Equal(t, "after", got[0].Env.Payload.(flood.Text).Body)
	assert.Equal(t, uint64(1), b.Stats().Malformed)
}

func TestMemoryInboundRateLimit(t *testing.T) {
	_, a, b, box := newMemoryPair(t, func(o *Options) {
		o.InboundRate = 0.001
		o.InboundBurst = 2
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(context.Background(), memB, textEnvelope(fmt.Sprintf("m%d", i), memA, "x")))
	}
	require.Eventually(t, func() bool { return b.Stats().RateLimited == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, box.all(), 2)
}

func TestMemoryClosedAndUnstarted(t *testing.T) {
	net := NewMemoryNetwork()
	a := net.NewTransport(Options{Self: memA, Directory: directory(t, memA, memB)})
	err := a.Send(context.Background(), memB, textEnvelope("m1", memA, "x"))
	require.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, a.Start(context.Background()))
	err = a.Send(context.Background(), memB, textEnvelope("m1", memA, "x"))
	require.ErrorIs(t, err, flood.ErrTransport, "b never joined")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	err = a.Send(context.Background(), memB, textEnvelope("m1", memA, "x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, a.Start(context.Background()), ErrClosed)
}

func TestMemoryDuplicateJoin(t *testing.T) {
	net := NewMemoryNetwork()
	a1 := net.NewTransport(Options{Self: memA})
	a2 := net.NewTransport(Options{Self: memA})
	startTransport(t, a1)
	require.Error(t, a2.Start(context.Background()))
}
