package flood

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// idSource mints BroadcastIDs of the form "<unix-nanos base36>-<digest>".
// The timestamp keeps ids roughly ordered for humans; the digest binds the
// originator, a per-engine sequence number and random bytes, so floods started
// within one clock tick (or by different peers) do not collide.
type idSource struct {
	self PeerID
	seq  atomic.Uint64
	now  func() time.Time
}

func newIDSource(self PeerID) *idSource {
	return &idSource{self: self, now: time.Now}
}

func (s *idSource) next() BroadcastID {
	seq := s.seq.Add(1)
	ts := s.now().UnixNano()

	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(ts))
	binary.BigEndian.PutUint64(buf[8:16], seq)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(buf[16:24])

	h, _ := blake2b.New(12, nil)
	h.Write([]byte(s.self))
	h.Write(buf[:])
	sum := h.Sum(nil)

	return BroadcastID(strconv.FormatInt(ts, 36) + "-" + hex.EncodeToString(sum))
}
