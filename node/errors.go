package node

import "errors"

var (
	ErrPeerIDRequired   = errors.New("peer ID is required")
	ErrListenRequired   = errors.New("listen address is required")
	ErrNoNeighbors      = errors.New("at least one neighbor is required")
	ErrSelfNeighbor     = errors.New("peer cannot be its own neighbor")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrInvalidTimeout   = errors.New("timeouts and intervals must be positive")
	ErrInvalidWorkers   = errors.New("workers must be positive")
	ErrNetworkRequired  = errors.New("memory transport needs a MemoryNetwork")
	ErrBadLegacyConfig  = errors.New("malformed legacy config")
	ErrNotStarted       = errors.New("node is not started")
)
