package node

import (
	"sync"
	"time"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

const deliveryLogSize = 256

// DeliveryRecord is a delivered payload as shown by the console and admin API.
type DeliveryRecord struct {
	At         time.Time         `json:"at"`
	ID         flood.BroadcastID `json:"id"`
	Originator flood.PeerID      `json:"originator"`
	From       flood.PeerID      `json:"from"`
	Kind       string            `json:"kind"`
	Summary    string            `json:"summary"`
}

// deliveryLog keeps the most recent deliveries, oldest first.
type deliveryLog struct {
	mu      sync.RWMutex
	entries []DeliveryRecord
	max     int
	total   int
}

func newDeliveryLog(max int) *deliveryLog {
	return &deliveryLog{max: max, entries: make([]DeliveryRecord, 0, max)}
}

func (l *deliveryLog) add(d flood.Delivery) DeliveryRecord {
	rec := DeliveryRecord{
		At:         time.Now(),
		ID:         d.ID,
		Originator: d.Originator,
		From:       d.From,
		Kind:       d.Payload.Kind().String(),
		Summary:    flood.Describe(d.Payload),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	l.entries = append(l.entries, rec)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	return rec
}

func (l *deliveryLog) recent(count int) []DeliveryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if count <= 0 || count > len(l.entries) {
		count = len(l.entries)
	}
	out := make([]DeliveryRecord, count)
	copy(out, l.entries[len(l.entries)-count:])
	return out
}

func (l *deliveryLog) count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
