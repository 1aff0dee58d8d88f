package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return lis
}

func TestNewGRPCValidates(t *testing.T) {
	_, err := NewGRPC(Options{Self: "a:1", Listen: "nocolon"})
	require.Error(t, err)
	_, err = NewGRPC(Options{Listen: "127.0.0.1:0"})
	require.Error(t, err)
}

func TestGRPCLink(t *testing.T) {
	lisA, lisB := listenTCP(t), listenTCP(t)
	idA, idB := flood.PeerID(lisA.Addr().String()), flood.PeerID(lisB.Addr().String())

	a, err := NewGRPC(Options{Self: idA, Listener: lisA, Directory: directory(t, idA, idB)})
	require.NoError(t, err)
	b, err := NewGRPC(Options{Self: idB, Listener: lisB, Directory: directory(t, idB, idA), StrictAdmission: true})
	require.NoError(t, err)

	boxA, boxB := &inbox{}, &inbox{}
	a.SetHandler(boxA.handler())
	b.SetHandler(boxB.handler())
	startTransport(t, a)
	startTransport(t, b)
	assert.Equal(t, string(idA), a.Addr())

	env := textEnvelope("g1", idA, "over grpc")
	require.NoError(t, a.Send(context.Background(), idB, env))
	got := boxB.waitFor(t, 1)
	assert.Equal(t, idA, got[0].From)
	assert.Equal(t, env, got[0].Env)

	// the reverse direction opens its own link
	reply := flood.Envelope{ID: "g1", Kind: flood.KindCallback, Originator: idA, ReturnTo: idB}
	require.NoError(t, b.Send(context.Background(), idA, reply))
	back := boxA.waitFor(t, 1)
	assert.Equal(t, idB, back[0].From)
	assert.Equal(t, flood.KindCallback, back[0].Env.Kind)
	assert.True(t, a.Reachable(idB))
}

func TestGRPCRejectsStranger(t *testing.T) {
	lisB, lisC := listenTCP(t), listenTCP(t)
	idB, idC := flood.PeerID(lisB.Addr().String()), flood.PeerID(lisC.Addr().String())

	b, err := NewGRPC(Options{Self: idB, Listener: lisB, Directory: directory(t, idB, "127.0.0.1:1")})
	require.NoError(t, err)
	boxB := &inbox{}
	b.SetHandler(boxB.handler())
	startTransport(t, b)

	c, err := NewGRPC(Options{Self: idC, Listener: lisC, Directory: directory(t, idC, idB)})
	require.NoError(t, err)
	startTransport(t, c)

	require.Eventually(t, func() bool {
		return c.Send(context.Background(), idB, textEnvelope("g2", idC, "let me in")) != nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, boxB.all())
}

func TestGRPCSendToDeadPeer(t *testing.T) {
	lisA, dead := listenTCP(t), listenTCP(t)
	idA, idDead := flood.PeerID(lisA.Addr().String()), flood.PeerID(dead.Addr().String())
	require.NoError(t, dead.Close())

	a, err := NewGRPC(Options{Self: idA, Listener: lisA, Directory: directory(t, idA, idDead)})
	require.NoError(t, err)
	startTransport(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Send(ctx, idDead, textEnvelope("g3", idA, "anyone?"))
	require.ErrorIs(t, err, flood.ErrTransport)
}

func TestGRPCSendBeforeStart(t *testing.T) {
	a, err := NewGRPC(Options{Self: "127.0.0.1:1", Listen: "127.0.0.1:0", Directory: directory(t, "127.0.0.1:1", "127.0.0.1:2")})
	require.NoError(t, err)
	err = a.Send(context.Background(), "127.0.0.1:2", textEnvelope("g4", "127.0.0.1:1", "x"))
	require.ErrorIs(t, err, ErrNotStarted)
}
