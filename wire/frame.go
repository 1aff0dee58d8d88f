package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

// MaxFrameSize caps one length-prefixed frame.
const MaxFrameSize = 1 << 20

// ErrFrameSize is returned for an empty or oversized frame.
var ErrFrameSize = errors.New("wire: invalid frame size")

// WriteFrame writes payload behind a 4-byte big-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameSize, len(payload))
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		total += n
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, n)
	}
	payload := make([]byte, int(n))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteEnvelope encodes env and writes it as one frame.
func WriteEnvelope(w io.Writer, env flood.Envelope) error {
	b, err := Encode(env)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadEnvelope reads and decodes one frame. A frame that does not decode
// returns ErrMalformed; the stream itself stays usable.
func ReadEnvelope(r io.Reader) (flood.Envelope, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return flood.Envelope{}, err
	}
	return Decode(b)
}

// The hello frame opens every stream-based link and names the dialing peer.
// It carries a flood.v1.Hello message.
const helloVersion = 1

// ErrBadHello is returned for a hello frame that names no peer or an
// unsupported version.
var ErrBadHello = errors.New("wire: bad hello")

// WriteHello sends the hello frame for self.
func WriteHello(w io.Writer, self flood.PeerID) error {
	if self == "" {
		return fmt.Errorf("%w: empty peer id", ErrBadHello)
	}
	m := dynamicpb.NewMessage(helloDesc)
	fields := helloDesc.Fields()
	m.Set(fields.ByName("peer_id"), protoreflect.ValueOfString(string(self)))
	m.Set(fields.ByName("version"), protoreflect.ValueOfUint32(helloVersion))
	b, err := marshalOptions.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadHello, err)
	}
	return WriteFrame(w, b)
}

// ReadHello reads the hello frame and returns the dialing peer's id.
func ReadHello(r io.Reader) (flood.PeerID, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	m := dynamicpb.NewMessage(helloDesc)
	if err := proto.Unmarshal(b, m); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadHello, err)
	}
	fields := helloDesc.Fields()
	peer := m.Get(fields.ByName("peer_id")).String()
	version := m.Get(fields.ByName("version")).Uint()
	if peer == "" || version != helloVersion {
		return "", fmt.Errorf("%w: peer %q version %d", ErrBadHello, peer, version)
	}
	return flood.PeerID(peer), nil
}
