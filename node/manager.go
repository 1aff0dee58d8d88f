package node

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/transport"
)

// Layout names a preset cluster shape.
type Layout string

const (
	LayoutLine Layout = "line"
	LayoutRing Layout = "ring"
	LayoutStar Layout = "star"
	LayoutMesh Layout = "mesh"
	LayoutTree Layout = "tree"
)

// Layouts lists the presets in display order.
var Layouts = []Layout{LayoutLine, LayoutRing, LayoutStar, LayoutMesh, LayoutTree}

// ParseLayout matches a layout name case-insensitively.
func ParseLayout(s string) (Layout, error) {
	for _, l := range Layouts {
		if strings.EqualFold(s, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layout %q", s)
}

// Edges returns the undirected edges of layout over size peers, by index.
// Trees are binary and rooted at 0; stars are centered on 0.
func (l Layout) Edges(size int) ([][2]int, error) {
	if size < 2 {
		return nil, fmt.Errorf("a %s needs at least 2 peers, got %d", l, size)
	}
	var edges [][2]int
	switch l {
	case LayoutLine, LayoutRing:
		for i := 0; i+1 < size; i++ {
			edges = append(edges, [2]int{i, i + 1})
		}
		if l == LayoutRing && size > 2 {
			edges = append(edges, [2]int{size - 1, 0})
		}
	case LayoutStar:
		for i := 1; i < size; i++ {
			edges = append(edges, [2]int{0, i})
		}
	case LayoutMesh:
		for i := 0; i < size; i++ {
			for j := i + 1; j < size; j++ {
				edges = append(edges, [2]int{i, j})
			}
		}
	case LayoutTree:
		for i := 1; i < size; i++ {
			edges = append(edges, [2]int{(i - 1) / 2, i})
		}
	default:
		return nil, fmt.Errorf("unknown layout %q", l)
	}
	return edges, nil
}

// Manager runs a local cluster of peers on one in-memory network.
type Manager struct {
	network     *transport.MemoryNetwork
	nodes       []*Node              // maintain order with slice
	nodeMap     map[flood.PeerID]int // map peer ID to index for quick lookup
	mu          sync.RWMutex
	host        string
	portCounter int // for auto-assigning peer addresses
	timeout     time.Duration
	opts        []Option
}

// NewManager creates a new cluster manager. opts are applied to every peer it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		network:     transport.NewMemoryNetwork(),
		nodes:       make([]*Node, 0),
		nodeMap:     make(map[flood.PeerID]int),
		host:        DefaultHost,
		portCounter: 50051, // start from default port
		timeout:     5 * time.Second,
		opts:        opts,
	}
}

// SetFloodTimeout changes the flood timeout of peers created afterwards.
func (m *Manager) SetFloodTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// Network exposes the shared network, e.g. to sever links.
func (m *Manager) Network() *transport.MemoryNetwork { return m.network }

// CreateCluster stops any running peers, then builds and starts size peers
// wired as layout.
func (m *Manager) CreateCluster(layout Layout, size int) ([]*Node, error) {
	edges, err := layout.Edges(size)
	if err != nil {
		return nil, err
	}
	if err := m.StopAll(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]flood.PeerID, size)
	for i := range ids {
		ids[i] = m.nextID()
	}
	adjacency := make([][]flood.PeerID, size)
	for _, e := range edges {
		adjacency[e[0]] = append(adjacency[e[0]], ids[e[1]])
		adjacency[e[1]] = append(adjacency[e[1]], ids[e[0]])
	}

	nodes := make([]*Node, 0, size)
	for i, id := range ids {
		config := DefaultConfig(id)
		config.Transport = TransportMemory
		config.Neighbors = adjacency[i]
		config.FloodTimeout = m.timeout

		opts := append([]Option{WithMemoryNetwork(m.network)}, m.opts...)
		node, err := New(config, opts...)
		if err == nil {
			err = node.Start()
		}
		if err != nil {
			for _, started := range nodes {
				_ = started.Stop()
			}
			return nil, fmt.Errorf("failed to start peer %s: %w", id, err)
		}
		nodes = append(nodes, node)
	}

	m.nodes = nodes
	m.nodeMap = make(map[flood.PeerID]int, size)
	for i, n := range nodes {
		m.nodeMap[n.ID()] = i
	}

	out := make([]*Node, len(nodes))
	copy(out, nodes)
	return out, nil
}

func (m *Manager) nextID() flood.PeerID {
	port := m.portCounter
	m.portCounter++
	return flood.PeerID(fmt.Sprintf("%s:%d", m.host, port))
}

// Get returns the peer with id.
func (m *Manager) Get(id flood.PeerID) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.nodeMap[id]
	if !ok {
		return nil, false
	}
	return m.nodes[i], true
}

// DeleteNode stops and removes a peer by its index in the list. Its neighbors
// see the link as unreachable from then on.
func (m *Manager) DeleteNode(index int) error {
	m.mu.Lock()

	if index < 0 || index >= len(m.nodes) {
		m.mu.Unlock()
		return fmt.Errorf("invalid peer index: %d", index)
	}

	node := m.nodes[index]

	// Remove from slice and map before unlocking
	m.nodes = append(m.nodes[:index], m.nodes[index+1:]...)
	delete(m.nodeMap, node.ID())

	// Rebuild map indices
	for i, n := range m.nodes {
		m.nodeMap[n.ID()] = i
	}

	m.mu.Unlock()

	return node.Stop()
}

// GetNodes returns a list of all peers (maintains order)
func (m *Manager) GetNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Return a copy to avoid race conditions
	nodes := make([]*Node, len(m.nodes))
	copy(nodes, m.nodes)
	return nodes
}

// StopAll stops all peers
func (m *Manager) StopAll() error {
	m.mu.Lock()
	nodes := m.nodes
	m.nodes = make([]*Node, 0)
	m.nodeMap = make(map[flood.PeerID]int)
	m.mu.Unlock()

	var errs []error
	for _, node := range nodes {
		if err := node.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping peers: %v", errs)
	}

	return nil
}
