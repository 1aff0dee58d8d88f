package flood

/*
*
PeerID:

	The neighbor's network address ("host:port"). It never changes while the
	peer runs and is used as a map key everywhere (directory, visited set,
	ballots, topology).

BroadcastID:

	Identifies one flood operation. Every node that touches the flood keys its
	BroadcastState by this value. It is derived from the originator's identity,
	a per-engine sequence number and random bytes, so two floods started in the
	same clock tick never collide.

Kind:

	FORWARD         carries the payload away from the originator
	CALLBACK        acknowledges a finished subtree back to the parent
	CALLBACK_INVALID acknowledges a duplicate arrival (node already visited)
*/

type PeerID string

type BroadcastID string

// Kind tags an Envelope. Values match the wire enum in api/flood/v1/flood.proto.
type Kind int

const (
	KindForward Kind = iota
	KindCallback
	KindCallbackInvalid
)

func (k Kind) String() string {
	switch k {
	case KindForward:
		return "FORWARD"
	case KindCallback:
		return "CALLBACK"
	case KindCallbackInvalid:
		return "CALLBACK_INVALID"
	default:
		return "UNKNOWN"
	}
}

// IsCallback reports whether k is one of the acknowledgment variants.
func (k Kind) IsCallback() bool {
	return k == KindCallback || k == KindCallbackInvalid
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindForward && k <= KindCallbackInvalid
}
