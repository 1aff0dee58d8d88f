package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

func TestAdmission(t *testing.T) {
	dir := directory(t, "10.0.0.1:7000", "10.0.0.2:7000")
	strict := newReceiver(Options{Self: "10.0.0.1:7000", Directory: dir, StrictAdmission: true})
	loose := newReceiver(Options{Self: "10.0.0.1:7000", Directory: dir})

	good := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 51234}
	spoofed := &net.TCPAddr{IP: net.ParseIP("10.9.9.9"), Port: 51234}

	require.NoError(t, strict.admit("10.0.0.2:7000", good))
	require.NoError(t, strict.admit("10.0.0.2:7000", nil))
	require.ErrorIs(t, strict.admit("10.0.0.2:7000", spoofed), ErrNotNeighbor)
	require.NoError(t, loose.admit("10.0.0.2:7000", spoofed))

	require.ErrorIs(t, loose.admit("10.0.0.3:7000", good), ErrNotNeighbor)
	require.ErrorIs(t, loose.admit("", good), ErrNotNeighbor)

	open := newReceiver(Options{Self: "x:1"})
	assert.NoError(t, open.admit("anyone:1", nil))
}

func TestReceiverRateLimitIsPerLink(t *testing.T) {
	r := newReceiver(Options{Self: "a:1", InboundRate: 0.001, InboundBurst: 1})
	assert.True(t, r.allow("b:1"))
	assert.False(t, r.allow("b:1"))
	assert.True(t, r.allow("c:1"), "another link has its own budget")

	unlimited := newReceiver(Options{Self: "a:1"})
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.allow(flood.PeerID("b:1")))
	}
}
