package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

func validConfig() *Config {
	c := DefaultConfig("10.0.0.1:7000")
	c.Neighbors = []flood.PeerID{"10.0.0.2:7000"}
	return c
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		mutate func(c *Config)
		want   error
	}{
		"ok":             {mutate: func(c *Config) {}},
		"no peer id":     {mutate: func(c *Config) { c.PeerID = "" }, want: ErrPeerIDRequired},
		"no neighbors":   {mutate: func(c *Config) { c.Neighbors = nil }, want: ErrNoNeighbors},
		"self neighbor":  {mutate: func(c *Config) { c.Neighbors = append(c.Neighbors, c.PeerID) }, want: ErrSelfNeighbor},
		"bad transport":  {mutate: func(c *Config) { c.Transport = "carrier-pigeon" }, want: ErrUnknownTransport},
		"zero timeout":   {mutate: func(c *Config) { c.FloodTimeout = 0 }, want: ErrInvalidTimeout},
		"negative sweep": {mutate: func(c *Config) { c.SweepInterval = -time.Second }, want: ErrInvalidTimeout},
		"no workers":     {mutate: func(c *Config) { c.Workers = 0 }, want: ErrInvalidWorkers},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGetAddressFallsBackToPeerID(t *testing.T) {
	c := validConfig()
	assert.Equal(t, "10.0.0.1:7000", c.GetAddress())
	c.Listen = "0.0.0.0:7000"
	assert.Equal(t, "0.0.0.0:7000", c.GetAddress())
	c.Listen = ""
	assert.Equal(t, "10.0.0.1:7000", c.GetAddress())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "peer.yaml", `
peer_id: 10.0.0.1:7000
transport: quic
neighbors:
  - 10.0.0.2:7000
  - 10.0.0.3:7000
flood_timeout: 5s
workers: 8
strict_admission: true
admin_addr: 127.0.0.1:8080
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, flood.PeerID("10.0.0.1:7000"), c.PeerID)
	assert.Equal(t, "10.0.0.1:7000", c.GetAddress())
	assert.Equal(t, TransportQUIC, c.Transport)
	assert.Len(t, c.Neighbors, 2)
	assert.Equal(t, 5*time.Second, c.FloodTimeout)
	assert.Equal(t, 8, c.Workers)
	assert.True(t, c.StrictAdmission)
	assert.Equal(t, "127.0.0.1:8080", c.AdminAddr)

	// untouched fields keep their defaults
	assert.Equal(t, DefaultTombstoneTTL, c.TombstoneTTL)
	assert.Equal(t, float64(DefaultInboundRate), c.InboundRate)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "peer.yaml", "peer_id: 10.0.0.1:7000\nheartbeat: 2s\n")
	_, err := LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseLegacyConfig(t *testing.T) {
	c, err := ParseLegacyConfig(strings.NewReader(`server:7000
adjPeer:10.0.0.2:7001
adjPeer:10.0.0.3:7002
some other line
`), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, flood.PeerID("10.0.0.1:7000"), c.PeerID)
	assert.Equal(t, []flood.PeerID{"10.0.0.2:7001", "10.0.0.3:7002"}, c.Neighbors)
	require.NoError(t, c.Validate())

	bad := map[string]string{
		"no server":  "adjPeer:10.0.0.2:7001\n",
		"no peers":   "server:7000\n",
		"bad port":   "server:70000\nadjPeer:10.0.0.2:7001\n",
		"short peer": "server:7000\nadjPeer:10.0.0.2\n",
		"peer port":  "server:7000\nadjPeer:10.0.0.2:x\n",
		"empty host": "server:7000\nadjPeer::7001\n",
	}
	for name, body := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLegacyConfig(strings.NewReader(body), "10.0.0.1")
			require.ErrorIs(t, err, ErrBadLegacyConfig)
		})
	}
}

func TestLoadLegacyConfigFile(t *testing.T) {
	path := writeFile(t, "peer-config.config", "server:7100\nadjPeer:127.0.0.1:7101\n")
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, flood.PeerID("127.0.0.1:7100"), c.PeerID)
	assert.Equal(t, DefaultTransport, c.Transport)
}

func TestLayoutEdges(t *testing.T) {
	line, err := LayoutLine.Edges(4)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}, {1, 2}, {2, 3}}, line)

	ring, err := LayoutRing.Edges(4)
	require.NoError(t, err)
	assert.Len(t, ring, 4)

	mesh, err := LayoutMesh.Edges(5)
	require.NoError(t, err)
	assert.Len(t, mesh, 10)

	tree, err := LayoutTree.Edges(7)
	require.NoError(t, err)
	assert.Equal(t, [2]int{2, 6}, tree[5])

	_, err = LayoutStar.Edges(1)
	require.Error(t, err)
	_, err = Layout("hypercube").Edges(4)
	require.Error(t, err)

	l, err := ParseLayout("RING")
	require.NoError(t, err)
	assert.Equal(t, LayoutRing, l)
}

func TestPoolTryGo(t *testing.T) {
	p := newPool(2)
	block := make(chan struct{})
	require.True(t, p.tryGo(func() { <-block }))
	require.True(t, p.tryGo(func() { <-block }))
	assert.False(t, p.tryGo(func() {}))
	assert.Equal(t, 2, p.busy())

	close(block)
	p.wait()
	assert.Equal(t, 0, p.busy())
}
