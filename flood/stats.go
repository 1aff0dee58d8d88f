package flood

import "sync/atomic"

// Stats is a point-in-time copy of an engine's message accounting.
type Stats struct {
	Started          uint64 `json:"started"`
	Completed        uint64 `json:"completed"`
	ForwardsSent     uint64 `json:"forwards_sent"`
	CallbacksSent    uint64 `json:"callbacks_sent"`
	InvalidSent      uint64 `json:"invalid_sent"`
	CallbacksRecv    uint64 `json:"callbacks_received"`
	InvalidRecv      uint64 `json:"invalid_received"`
	Duplicates       uint64 `json:"duplicates"`
	Rejected         uint64 `json:"rejected"`
	ShedReported     uint64 `json:"shed_reported"` // shed peers reported to broadcasts started here
	SendFailures     uint64 `json:"send_failures"`
	LateCallbacks    uint64 `json:"late_callbacks"`
	Deliveries       uint64 `json:"deliveries"`
	Timeouts         uint64 `json:"timeouts"`
	ActiveBroadcasts int    `json:"active_broadcasts"`
}

// MessagesSent is the number of envelopes this engine put on the wire.
func (s Stats) MessagesSent() uint64 {
	return s.ForwardsSent + s.CallbacksSent + s.InvalidSent
}

type counters struct {
	started       atomic.Uint64
	completed     atomic.Uint64
	forwardsSent  atomic.Uint64
	callbacksSent atomic.Uint64
	invalidSent   atomic.Uint64
	callbacksRecv atomic.Uint64
	invalidRecv   atomic.Uint64
	duplicates    atomic.Uint64
	rejected      atomic.Uint64
	shedReported  atomic.Uint64
	sendFailures  atomic.Uint64
	lateCallbacks atomic.Uint64
	deliveries    atomic.Uint64
	timeouts      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Started:       c.started.Load(),
		Completed:     c.completed.Load(),
		ForwardsSent:  c.forwardsSent.Load(),
		CallbacksSent: c.callbacksSent.Load(),
		InvalidSent:   c.invalidSent.Load(),
		CallbacksRecv: c.callbacksRecv.Load(),
		InvalidRecv:   c.invalidRecv.Load(),
		Duplicates:    c.duplicates.Load(),
		Rejected:      c.rejected.Load(),
		ShedReported:  c.shedReported.Load(),
		SendFailures:  c.sendFailures.Load(),
		LateCallbacks: c.lateCallbacks.Load(),
		Deliveries:    c.deliveries.Load(),
		Timeouts:      c.timeouts.Load(),
	}
}
