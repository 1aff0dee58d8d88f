package flood

// Envelope is the unit of flood propagation.
//
// Envelopes are treated as immutable values once built. Every divergence
// between an inbound and an outbound envelope (returnTo, visited, payload)
// goes through forward/reply, which deep-copy the visited list and the
// payload, so concurrent fan-out branches never share mutable state.
type Envelope struct {
	ID         BroadcastID
	Kind       Kind
	Originator PeerID
	ReturnTo   PeerID
	Visited    []PeerID
	Payload    Payload
	// Shed counts peers below the sender that dropped this broadcast
	// unprocessed because they were saturated. Only callbacks carry it.
	Shed int
}

// HasVisited reports whether peer already processed this broadcast.
func (e Envelope) HasVisited(peer PeerID) bool {
	for _, v := range e.Visited {
		if v == peer {
			return true
		}
	}
	return false
}

// Clone deep-copies the envelope.
func (e Envelope) Clone() Envelope {
	out := e
	out.Visited = copyVisited(e.Visited, 0)
	out.Payload = ClonePayload(e.Payload)
	return out
}

// forward builds the outgoing FORWARD sent by self: visited gains self,
// returnTo becomes self, and the payload is replaced.
func (e Envelope) forward(self PeerID, payload Payload) Envelope {
	visited := copyVisited(e.Visited, 1)
	if !e.HasVisited(self) {
		visited = append(visited, self)
	}
	return Envelope{
		ID:         e.ID,
		Kind:       KindForward,
		Originator: e.Originator,
		ReturnTo:   self,
		Visited:    visited,
		Payload:    ClonePayload(payload),
	}
}

// reply builds an acknowledgment from self. On callbacks ReturnTo names the
// acknowledging peer.
func (e Envelope) reply(self PeerID, kind Kind, payload Payload) Envelope {
	visited := copyVisited(e.Visited, 1)
	if !e.HasVisited(self) {
		visited = append(visited, self)
	}
	return Envelope{
		ID:         e.ID,
		Kind:       kind,
		Originator: e.Originator,
		ReturnTo:   self,
		Visited:    visited,
		Payload:    ClonePayload(payload),
	}
}

func copyVisited(in []PeerID, extra int) []PeerID {
	out := make([]PeerID, len(in), len(in)+extra)
	copy(out, in)
	return out
}
