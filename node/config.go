package node

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

// Default configuration constants
const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = "50051"
	DefaultTransport = "grpc"

	DefaultFloodTimeout  = 30 * time.Second
	DefaultTombstoneTTL  = 2 * time.Minute
	DefaultSweepInterval = 15 * time.Second
	DefaultWorkers       = 64
	DefaultInboundRate   = 500
	DefaultInboundBurst  = 1000
)

// Transports a node can be built with.
const (
	TransportGRPC   = "grpc"
	TransportQUIC   = "quic"
	TransportMemory = "memory"
)

// Config holds the configuration for a peer
type Config struct {
	// PeerID is the address neighbors know this peer by (host:port).
	PeerID flood.PeerID `yaml:"peer_id"`
	// Listen is the bind address; it defaults to PeerID.
	Listen    string         `yaml:"listen"`
	Transport string         `yaml:"transport"`
	Neighbors []flood.PeerID `yaml:"neighbors"`

	// Flood configuration
	FloodTimeout  time.Duration `yaml:"flood_timeout"`
	TombstoneTTL  time.Duration `yaml:"tombstone_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Workers       int           `yaml:"workers"`

	// Inbound limits, in envelopes per second per link. Zero rate disables limiting.
	InboundRate     float64 `yaml:"inbound_rate"`
	InboundBurst    int     `yaml:"inbound_burst"`
	StrictAdmission bool    `yaml:"strict_admission"`

	// AdminAddr enables the HTTP admin API when set.
	AdminAddr string `yaml:"admin_addr"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig(peerID flood.PeerID) *Config {
	return &Config{
		PeerID:        peerID,
		Listen:        string(peerID),
		Transport:     DefaultTransport,
		Neighbors:     []flood.PeerID{},
		FloodTimeout:  DefaultFloodTimeout,
		TombstoneTTL:  DefaultTombstoneTTL,
		SweepInterval: DefaultSweepInterval,
		Workers:       DefaultWorkers,
		InboundRate:   DefaultInboundRate,
		InboundBurst:  DefaultInboundBurst,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.PeerID == "" {
		return ErrPeerIDRequired
	}
	if c.GetAddress() == "" {
		return ErrListenRequired
	}
	if len(c.Neighbors) == 0 {
		return ErrNoNeighbors
	}
	for _, nb := range c.Neighbors {
		if nb == c.PeerID {
			return fmt.Errorf("%w: %s", ErrSelfNeighbor, nb)
		}
	}
	switch c.Transport {
	case TransportGRPC, TransportQUIC, TransportMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if c.FloodTimeout <= 0 || c.TombstoneTTL <= 0 || c.SweepInterval <= 0 {
		return ErrInvalidTimeout
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	return nil
}

// GetAddress returns the address to bind
func (c *Config) GetAddress() string {
	if c.Listen != "" {
		return c.Listen
	}
	return string(c.PeerID)
}

func (c *Config) inboundLimit() rate.Limit {
	if c.InboundRate <= 0 {
		return 0
	}
	return rate.Limit(c.InboundRate)
}

// LoadConfig reads a YAML config file on top of the defaults. Files ending in
// .config use the legacy line format instead, see ParseLegacyConfig.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if filepath.Ext(path) == ".config" {
		return ParseLegacyConfig(f, DefaultHost)
	}

	cfg := DefaultConfig("")
	cfg.Listen = ""
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseLegacyConfig reads the peer-config.config line format:
//
//	server:<port>
//	adjPeer:<ip>:<port>
//
// The file names no local address, so the peer ID is host:port. Other lines
// are ignored.
func ParseLegacyConfig(r io.Reader, host string) (*Config, error) {
	port := ""
	var neighbors []flood.PeerID

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "adjPeer:"):
			parts := strings.Split(line, ":")
			if len(parts) != 3 || parts[1] == "" || !validPort(parts[2]) {
				return nil, fmt.Errorf("%w: line %d: %q", ErrBadLegacyConfig, lineNo, line)
			}
			neighbors = append(neighbors, flood.PeerID(net.JoinHostPort(parts[1], parts[2])))
		case strings.HasPrefix(line, "server:"):
			p := strings.TrimPrefix(line, "server:")
			if !validPort(p) {
				return nil, fmt.Errorf("%w: line %d: %q", ErrBadLegacyConfig, lineNo, line)
			}
			port = p
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read legacy config: %w", err)
	}
	if port == "" {
		return nil, fmt.Errorf("%w: no server line", ErrBadLegacyConfig)
	}
	if len(neighbors) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrBadLegacyConfig, ErrNoNeighbors)
	}

	cfg := DefaultConfig(flood.PeerID(net.JoinHostPort(host, port)))
	cfg.Neighbors = neighbors
	return cfg, nil
}

func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n < 65536
}
