package flood

import "errors"

var (
	// ErrUnknownPeer is returned when a direct send names a peer outside the directory.
	ErrUnknownPeer = errors.New("flood: unknown peer")
	// ErrTimeout is returned when a broadcast does not complete before its deadline.
	ErrTimeout = errors.New("flood: broadcast timed out")
	// ErrTransport wraps neighbor send failures.
	ErrTransport = errors.New("flood: transport failure")
	// ErrUnknownPayload is returned for a payload outside the closed union.
	ErrUnknownPayload = errors.New("flood: unknown payload variant")
	// ErrInvalidDepth is returned for a negative or inverted depth range.
	ErrInvalidDepth = errors.New("flood: invalid depth")
	// ErrUnknownBroadcast is returned for a callback with no local state.
	ErrUnknownBroadcast = errors.New("flood: unknown broadcast")
	// ErrLateCallback is returned for a callback that arrives after its broadcast was released.
	ErrLateCallback = errors.New("flood: late callback")
	// ErrClosed is returned by an engine after Close.
	ErrClosed = errors.New("flood: engine closed")
)
