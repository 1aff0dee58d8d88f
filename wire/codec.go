package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

/*
Envelope wire format

flood.Envelope is marshaled as the flood.v1.Envelope message (see schema.go
and api/flood/v1/flood.proto). Encoding is deterministic: map entries are
written in key order and proto3 zero values are omitted, so equal envelopes
always produce equal bytes.

Unknown fields are skipped on decode. id, originator and return_to are
required. A Payload field that is present but empty decodes to an empty
variant (an empty ballot is still a ballot); an absent Payload, or one
carrying a variant this peer does not know, decodes to nil.

Hop counters and the shed count are uint32 on the wire and must fit in an
int32 on both sides.
*/

// MaxHopNesting bounds Hop-in-Hop recursion.
const MaxHopNesting = 8

// MaxCounter is the largest hop counter or shed count that can be encoded.
const MaxCounter = math.MaxInt32

var (
	// ErrMalformed is returned for bytes that do not decode to a valid envelope.
	ErrMalformed = errors.New("wire: malformed envelope")
	// ErrUnencodable is returned for an envelope that cannot be put on the wire.
	ErrUnencodable = errors.New("wire: unencodable envelope")
)

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// Encode serializes env.
func Encode(env flood.Envelope) ([]byte, error) {
	if env.ID == "" {
		return nil, fmt.Errorf("%w: empty broadcast id", ErrUnencodable)
	}
	if env.Originator == "" || env.ReturnTo == "" {
		return nil, fmt.Errorf("%w: %s without originator or return address", ErrUnencodable, env.ID)
	}
	if !env.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", ErrUnencodable, env.Kind)
	}
	if env.Shed < 0 || env.Shed > MaxCounter {
		return nil, fmt.Errorf("%w: shed count %d", ErrUnencodable, env.Shed)
	}

	m := dynamicpb.NewMessage(envelopeDesc)
	fields := envelopeDesc.Fields()
	setString(m, fields.ByName("id"), string(env.ID))
	if env.Kind != flood.KindForward {
		m.Set(fields.ByName("kind"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(env.Kind)))
	}
	setString(m, fields.ByName("originator"), string(env.Originator))
	setString(m, fields.ByName("return_to"), string(env.ReturnTo))
	if len(env.Visited) > 0 {
		visited := m.Mutable(fields.ByName("visited")).List()
		for _, v := range env.Visited {
			visited.Append(protoreflect.ValueOfString(string(v)))
		}
	}
	if env.Payload != nil {
		if err := encodePayload(m.Mutable(fields.ByName("payload")).Message(), env.Payload, 0); err != nil {
			return nil, err
		}
	}
	if env.Shed > 0 {
		m.Set(fields.ByName("shed"), protoreflect.ValueOfUint32(uint32(env.Shed)))
	}

	b, err := marshalOptions.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnencodable, env.ID, err)
	}
	return b, nil
}

func encodePayload(m protoreflect.Message, p flood.Payload, depth int) error {
	if depth >= MaxHopNesting {
		return fmt.Errorf("%w: hop nesting deeper than %d", ErrUnencodable, MaxHopNesting)
	}

	fields := payloadDesc.Fields()
	switch v := p.(type) {
	case flood.Text:
		t := m.Mutable(fields.ByName("text")).Message()
		tf := textDesc.Fields()
		setString(t, tf.ByName("body"), v.Body)
		setString(t, tf.ByName("source"), string(v.Source))
		if !v.SentAt.IsZero() {
			t.Set(tf.ByName("sent_at_unix_nano"), protoreflect.ValueOfInt64(v.SentAt.UnixNano()))
		}
	case flood.Hop:
		if v.Current < 0 || v.Max < 0 || v.Current > MaxCounter || v.Max > MaxCounter {
			return fmt.Errorf("%w: hop counter %d/%d out of range", ErrUnencodable, v.Current, v.Max)
		}
		if v.Inner == nil {
			return fmt.Errorf("%w: hop without inner payload", ErrUnencodable)
		}
		h := m.Mutable(fields.ByName("hop")).Message()
		hf := hopDesc.Fields()
		if v.Current > 0 {
			h.Set(hf.ByName("current"), protoreflect.ValueOfUint32(uint32(v.Current)))
		}
		if v.Max > 0 {
			h.Set(hf.ByName("max"), protoreflect.ValueOfUint32(uint32(v.Max)))
		}
		return encodePayload(h.Mutable(hf.ByName("inner")).Message(), v.Inner, depth+1)
	case flood.Ballot:
		b := m.Mutable(fields.ByName("ballot")).Message()
		if len(v.Votes) > 0 {
			votes := b.Mutable(ballotDesc.Fields().ByName("votes")).Map()
			for peer, vote := range v.Votes {
				votes.Set(protoreflect.ValueOfString(string(peer)).MapKey(), protoreflect.ValueOfBool(vote))
			}
		}
	case flood.Opaque:
		o := m.Mutable(fields.ByName("opaque")).Message()
		if len(v.Data) > 0 {
			o.Set(opaqueDesc.Fields().ByName("data"), protoreflect.ValueOfBytes(v.Data))
		}
	case flood.Topology:
		t := m.Mutable(fields.ByName("topology")).Message()
		if len(v.Adjacency) > 0 {
			adjacency := t.Mutable(topologyDesc.Fields().ByName("adjacency")).Map()
			peersField := peerListDesc.Fields().ByName("peers")
			for peer, nbs := range v.Adjacency {
				list := adjacency.NewValue()
				if len(nbs) > 0 {
					peers := list.Message().Mutable(peersField).List()
					for _, nb := range nbs {
						peers.Append(protoreflect.ValueOfString(string(nb)))
					}
				}
				adjacency.Set(protoreflect.ValueOfString(string(peer)).MapKey(), list)
			}
		}
	default:
		return fmt.Errorf("%w: %w: %T", ErrUnencodable, flood.ErrUnknownPayload, p)
	}
	return nil
}

// Decode parses an envelope produced by Encode. Every failure wraps ErrMalformed.
func Decode(b []byte) (flood.Envelope, error) {
	m := dynamicpb.NewMessage(envelopeDesc)
	if err := proto.Unmarshal(b, m); err != nil {
		return flood.Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	fields := envelopeDesc.Fields()
	env := flood.Envelope{
		ID:         flood.BroadcastID(m.Get(fields.ByName("id")).String()),
		Originator: flood.PeerID(m.Get(fields.ByName("originator")).String()),
		ReturnTo:   flood.PeerID(m.Get(fields.ByName("return_to")).String()),
	}
	if env.ID == "" {
		return flood.Envelope{}, fmt.Errorf("%w: missing broadcast id", ErrMalformed)
	}
	if env.Originator == "" || env.ReturnTo == "" {
		return flood.Envelope{}, fmt.Errorf("%w: %s without originator or return address", ErrMalformed, env.ID)
	}

	kind := flood.Kind(m.Get(fields.ByName("kind")).Enum())
	if !kind.Valid() {
		return flood.Envelope{}, fmt.Errorf("%w: %s has unknown kind %d", ErrMalformed, env.ID, kind)
	}
	env.Kind = kind

	if visited := m.Get(fields.ByName("visited")).List(); visited.Len() > 0 {
		env.Visited = make([]flood.PeerID, visited.Len())
		for i := range env.Visited {
			env.Visited[i] = flood.PeerID(visited.Get(i).String())
		}
	}

	shed := m.Get(fields.ByName("shed")).Uint()
	if shed > MaxCounter {
		return flood.Envelope{}, fmt.Errorf("%w: %s shed count %d out of range", ErrMalformed, env.ID, shed)
	}
	env.Shed = int(shed)

	if payload := fields.ByName("payload"); m.Has(payload) {
		p, err := decodePayload(m.Get(payload).Message(), 0)
		if err != nil {
			return flood.Envelope{}, fmt.Errorf("%w: %s: %w", ErrMalformed, env.ID, err)
		}
		env.Payload = p
	}
	return env, nil
}

func decodePayload(m protoreflect.Message, depth int) (flood.Payload, error) {
	if depth >= MaxHopNesting {
		return nil, fmt.Errorf("hop nesting deeper than %d", MaxHopNesting)
	}
	fd := m.WhichOneof(payloadVariant)
	if fd == nil {
		return nil, nil
	}
	body := m.Get(fd).Message()

	switch fd.Name() {
	case "text":
		return decodeText(body), nil
	case "hop":
		return decodeHop(body, depth)
	case "ballot":
		return decodeBallot(body)
	case "opaque":
		return decodeOpaque(body), nil
	case "topology":
		return decodeTopology(body)
	}
	return nil, nil
}

func decodeText(m protoreflect.Message) flood.Text {
	fields := textDesc.Fields()
	t := flood.Text{
		Body:   m.Get(fields.ByName("body")).String(),
		Source: flood.PeerID(m.Get(fields.ByName("source")).String()),
	}
	if ns := m.Get(fields.ByName("sent_at_unix_nano")).Int(); ns != 0 {
		t.SentAt = time.Unix(0, ns).UTC()
	}
	return t
}

func decodeHop(m protoreflect.Message, depth int) (flood.Hop, error) {
	fields := hopDesc.Fields()
	current := m.Get(fields.ByName("current")).Uint()
	limit := m.Get(fields.ByName("max")).Uint()
	if current > MaxCounter || limit > MaxCounter {
		return flood.Hop{}, fmt.Errorf("hop counter %d/%d out of range", current, limit)
	}

	inner := fields.ByName("inner")
	if !m.Has(inner) {
		return flood.Hop{}, errors.New("hop without inner payload")
	}
	p, err := decodePayload(m.Get(inner).Message(), depth+1)
	if err != nil {
		return flood.Hop{}, err
	}
	if p == nil {
		return flood.Hop{}, errors.New("hop without inner payload")
	}
	return flood.Hop{Current: int(current), Max: int(limit), Inner: p}, nil
}

func decodeBallot(m protoreflect.Message) (flood.Ballot, error) {
	ballot := flood.NewBallot()
	var err error
	m.Get(ballotDesc.Fields().ByName("votes")).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		if k.String() == "" {
			err = errors.New("ballot entry without peer")
			return false
		}
		ballot.Votes[flood.PeerID(k.String())] = v.Bool()
		return true
	})
	return ballot, err
}

func decodeOpaque(m protoreflect.Message) flood.Opaque {
	var o flood.Opaque
	if data := m.Get(opaqueDesc.Fields().ByName("data")).Bytes(); len(data) > 0 {
		o.Data = append([]byte(nil), data...)
	}
	return o
}

func decodeTopology(m protoreflect.Message) (flood.Topology, error) {
	topo := flood.NewTopology()
	peersField := peerListDesc.Fields().ByName("peers")
	var err error
	m.Get(topologyDesc.Fields().ByName("adjacency")).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
		if k.String() == "" {
			err = errors.New("topology entry without peer")
			return false
		}
		list := v.Message().Get(peersField).List()
		nbs := make([]flood.PeerID, list.Len())
		for i := range nbs {
			nbs[i] = flood.PeerID(list.Get(i).String())
		}
		topo.Adjacency[flood.PeerID(k.String())] = nbs
		return true
	})
	return topo, err
}

func setString(m protoreflect.Message, fd protoreflect.FieldDescriptor, s string) {
	if s != "" {
		m.Set(fd, protoreflect.ValueOfString(s))
	}
}
