package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

// Envelope field numbers, for hand-built inputs.
const (
	fieldID         protowire.Number = 1
	fieldKind       protowire.Number = 2
	fieldOriginator protowire.Number = 3
	fieldReturnTo   protowire.Number = 4
	fieldPayload    protowire.Number = 6
	fieldShed       protowire.Number = 7
)

// addressed returns the required envelope fields followed by extra.
func addressed(extra []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, "x")
	b = protowire.AppendTag(b, fieldOriginator, protowire.BytesType)
	b = protowire.AppendString(b, "a")
	b = protowire.AppendTag(b, fieldReturnTo, protowire.BytesType)
	b = protowire.AppendString(b, "a")
	return append(b, extra...)
}

func TestSchemaMatchesFieldNumbers(t *testing.T) {
	fields := envelopeDesc.Fields()
	for name, num := range map[string]protowire.Number{
		"id": fieldID, "kind": fieldKind, "originator": fieldOriginator,
		"return_to": fieldReturnTo, "payload": fieldPayload, "shed": fieldShed,
	} {
		fd := fields.ByName(protoreflect.Name(name))
		require.NotNil(t, fd, name)
		assert.EqualValues(t, num, fd.Number(), name)
	}
	assert.Equal(t, 5, payloadVariant.Fields().Len())
}

func TestEncodeDecodeVariants(t *testing.T) {
	ballot := flood.NewBallot()
	ballot.Cast("127.0.0.1:7001", true)
	ballot.Cast("127.0.0.1:7002", false)

	topo := flood.NewTopology()
	topo.Add("127.0.0.1:7001", []flood.PeerID{"127.0.0.1:7002", "127.0.0.1:7003"})
	topo.Add("127.0.0.1:7003", nil)

	sent := time.Date(2024, 5, 1, 12, 0, 0, 42, time.UTC)

	cases := []struct {
		name string
		env  flood.Envelope
	}{
		{
			name: "text forward",
			env: flood.Envelope{
				ID: "b-1", Kind: flood.KindForward,
				Originator: "127.0.0.1:7001", ReturnTo: "127.0.0.1:7001",
				Visited: []flood.PeerID{"127.0.0.1:7001"},
				Payload: flood.Text{Body: "hello", Source: "127.0.0.1:7001", SentAt: sent},
			},
		},
		{
			name: "nested hop",
			env: flood.Envelope{
				ID: "b-2", Kind: flood.KindForward, Originator: "a", ReturnTo: "a",
				Payload: flood.Hop{Current: 1, Max: 3, Inner: flood.Opaque{Data: []byte{0, 1, 2}}},
			},
		},
		{
			name: "ballot callback",
			env: flood.Envelope{
				ID: "b-3", Kind: flood.KindCallback, Originator: "a", ReturnTo: "b",
				Visited: []flood.PeerID{"a", "b"}, Payload: ballot,
			},
		},
		{
			name: "empty ballot stays a ballot",
			env:  flood.Envelope{ID: "b-4", Originator: "a", ReturnTo: "a", Payload: flood.NewBallot()},
		},
		{
			name: "topology",
			env:  flood.Envelope{ID: "b-5", Kind: flood.KindCallback, Originator: "a", ReturnTo: "c", Payload: topo},
		},
		{
			name: "callback with shed peers",
			env: flood.Envelope{
				ID: "b-7", Kind: flood.KindCallback, Originator: "a", ReturnTo: "a",
				Payload: flood.Opaque{}, Shed: 3,
			},
		},
		{
			name: "widest hop",
			env: flood.Envelope{
				ID: "b-8", Originator: "a", ReturnTo: "a",
				Payload: flood.Hop{Current: MaxCounter, Max: MaxCounter, Inner: flood.Text{Body: "far"}},
			},
		},
		{
			name: "invalid callback without payload",
			env:  flood.Envelope{ID: "b-6", Kind: flood.KindCallbackInvalid, Originator: "a", ReturnTo: "c"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.env)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tc.env, got)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	mk := func(order []flood.PeerID) flood.Envelope {
		b := flood.NewBallot()
		for i, p := range order {
			b.Cast(p, i%2 == 0)
		}
		return flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: b}
	}
	votes := []flood.PeerID{"p1", "p2", "p3", "p4", "p5"}

	first, err := Encode(mk(votes))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Encode(mk(votes))
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(flood.Envelope{Kind: flood.KindForward, Originator: "a", ReturnTo: "a"})
	require.ErrorIs(t, err, ErrUnencodable)

	_, err = Encode(flood.Envelope{ID: "x"})
	require.ErrorIs(t, err, ErrUnencodable)

	_, err = Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Kind: flood.Kind(5)})
	require.ErrorIs(t, err, ErrUnencodable)

	_, err = Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: flood.Hop{Max: 1}})
	require.ErrorIs(t, err, ErrUnencodable)

	for _, hop := range []flood.Hop{
		{Current: 1, Max: MaxCounter + 1, Inner: flood.Opaque{}},
		{Current: MaxCounter + 1, Max: 1, Inner: flood.Opaque{}},
		{Current: -1, Max: 1, Inner: flood.Opaque{}},
	} {
		_, err = Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: hop})
		require.ErrorIs(t, err, ErrUnencodable, "%d/%d", hop.Current, hop.Max)
	}

	for _, shed := range []int{-1, MaxCounter + 1} {
		_, err = Encode(flood.Envelope{ID: "x", Kind: flood.KindCallback, Originator: "a", ReturnTo: "a", Shed: shed})
		require.ErrorIs(t, err, ErrUnencodable, "shed %d", shed)
	}

	var p flood.Payload = flood.Text{Body: "deep"}
	for i := 0; i < MaxHopNesting+1; i++ {
		p = flood.Hop{Max: 1, Inner: p}
	}
	_, err = Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: p})
	require.ErrorIs(t, err, ErrUnencodable)
}

func TestDecodeMalformed(t *testing.T) {
	good, err := Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: flood.Text{Body: "t"}})
	require.NoError(t, err)

	var kind []byte
	kind = protowire.AppendTag(kind, fieldKind, protowire.VarintType)
	kind = protowire.AppendVarint(kind, 9)

	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, fieldID, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 3)

	var noOrigin []byte
	noOrigin = protowire.AppendTag(noOrigin, fieldID, protowire.BytesType)
	noOrigin = protowire.AppendString(noOrigin, "x")

	// Hop{current: 2^31, max: 1, inner: Text{}}
	var inner []byte
	inner = protowire.AppendTag(inner, 1, protowire.BytesType)
	inner = protowire.AppendBytes(inner, nil)
	var hop []byte
	hop = protowire.AppendTag(hop, 1, protowire.VarintType)
	hop = protowire.AppendVarint(hop, MaxCounter+1)
	hop = protowire.AppendTag(hop, 2, protowire.VarintType)
	hop = protowire.AppendVarint(hop, 1)
	hop = protowire.AppendTag(hop, 3, protowire.BytesType)
	hop = protowire.AppendBytes(hop, inner)
	var payload []byte
	payload = protowire.AppendTag(payload, 2, protowire.BytesType)
	payload = protowire.AppendBytes(payload, hop)
	var wideHop []byte
	wideHop = protowire.AppendTag(wideHop, fieldPayload, protowire.BytesType)
	wideHop = protowire.AppendBytes(wideHop, payload)

	var wideShed []byte
	wideShed = protowire.AppendTag(wideShed, fieldShed, protowire.VarintType)
	wideShed = protowire.AppendVarint(wideShed, MaxCounter+1)

	cases := map[string][]byte{
		"truncated":  good[:len(good)-2],
		"garbage":    {0xff, 0xff, 0xff},
		"no id":      {},
		"bad kind":   addressed(kind),
		"wrong type": wrongType,
		"no origin":  noOrigin,
		"wide hop":   addressed(wideHop),
		"wide shed":  addressed(wideShed),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b, err := Encode(flood.Envelope{ID: "x", Originator: "a", ReturnTo: "a", Payload: flood.Text{Body: "t"}})
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	env, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "t", env.Payload.(flood.Text).Body)
}

func TestDecodeUnknownPayloadVariantIsNil(t *testing.T) {
	var payload []byte
	payload = protowire.AppendTag(payload, 42, protowire.BytesType)
	payload = protowire.AppendBytes(payload, []byte{1})

	var field []byte
	field = protowire.AppendTag(field, fieldPayload, protowire.BytesType)
	field = protowire.AppendBytes(field, payload)

	env, err := Decode(addressed(field))
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
}

func TestEnvelopeFrames(t *testing.T) {
	var buf bytes.Buffer
	envs := []flood.Envelope{
		{ID: "1", Originator: "a", ReturnTo: "a", Payload: flood.Text{Body: "one"}},
		{ID: "2", Kind: flood.KindCallback, Originator: "a", ReturnTo: "b"},
	}
	for _, env := range envs {
		require.NoError(t, WriteEnvelope(&buf, env))
	}
	for _, want := range envs {
		got, err := ReadEnvelope(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, WriteFrame(&buf, nil), ErrFrameSize)
	require.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameSize)

	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.ErrorIs(t, err, ErrFrameSize)
	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	require.ErrorIs(t, err, ErrFrameSize)
}

func TestHello(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHello(&buf, "127.0.0.1:7001"))
	peer, err := ReadHello(&buf)
	require.NoError(t, err)
	assert.Equal(t, flood.PeerID("127.0.0.1:7001"), peer)

	require.ErrorIs(t, WriteHello(&buf, ""), ErrBadHello)

	buf.Reset()
	require.NoError(t, WriteFrame(&buf, []byte{0x10, 0x01}))
	_, err = ReadHello(&buf)
	require.ErrorIs(t, err, ErrBadHello)
}
