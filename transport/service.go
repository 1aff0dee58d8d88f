package transport

import (
	"errors"
	"io"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

// peerHeader carries the dialing peer's id on every PeerLink stream.
const peerHeader = "flood-peer"

const peerLinkMethod = "/flood.v1.PeerLink/Stream"

// PeerLinkServer is the server side of flood.v1.PeerLink.
type PeerLinkServer interface {
	Stream(stream grpc.ServerStream) error
}

// peerLinkServiceDesc describes flood.v1.PeerLink (api/flood/v1/flood.proto).
// Messages are well-known wrapper types, so no generated code is needed.
var peerLinkServiceDesc = grpc.ServiceDesc{
	ServiceName: "flood.v1.PeerLink",
	HandlerType: (*PeerLinkServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       peerLinkStreamHandler,
			ClientStreams: true,
		},
	},
	Metadata: "api/flood/v1/flood.proto",
}

func peerLinkStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PeerLinkServer).Stream(stream)
}

// peerLinkService reads neighbors' envelopes off their streams.
type peerLinkService struct {
	recv *receiver
}

// Stream handles an inbound link. The link lives until the neighbor closes
// it or the server stops; each message is one encoded envelope.
func (s *peerLinkService) Stream(stream grpc.ServerStream) error {
	ctx := stream.Context()

	var from flood.PeerID
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(peerHeader); len(v) > 0 {
			from = flood.PeerID(v[0])
		}
	}
	remote := peerAddr(stream)
	if err := s.recv.admit(from, remote); err != nil {
		s.recv.logf("rejecting link from %v: %v", remote, err)
		return status.Error(codes.PermissionDenied, err.Error())
	}
	s.recv.logf("link from %s opened", from)

	for {
		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				s.recv.logf("link from %s closed", from)
				return stream.SendMsg(&emptypb.Empty{})
			}
			s.recv.logf("link from %s failed: %v", from, err)
			return err
		}
		s.recv.deliver(from, msg.GetValue())
	}
}

func peerAddr(stream grpc.ServerStream) net.Addr {
	p, ok := peer.FromContext(stream.Context())
	if !ok || p.Addr == nil {
		return nil
	}
	return p.Addr
}
