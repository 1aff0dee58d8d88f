package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

/*
Schema

The messages of api/flood/v1/flood.proto, built as a descriptor at init so
the codec can marshal through dynamicpb without generated code. Field names
and numbers here must stay in step with the .proto file.

	Envelope  1 id | 2 kind | 3 originator | 4 return_to | 5 visited* | 6 payload | 7 shed
	Payload   oneof variant { 1 text | 2 hop | 3 ballot | 4 opaque | 5 topology }
	Text      1 body | 2 source | 3 sent_at_unix_nano
	Hop       1 current | 2 max | 3 inner
	Ballot    1 votes (map<string,bool>)
	Opaque    1 data
	Topology  1 adjacency (map<string,PeerList>)
	PeerList  1 peers*
	Hello     1 peer_id | 2 version
*/

const schemaPackage = "flood.v1"

var (
	schema = mustBuildSchema()

	envelopeDesc = schema.Messages().ByName("Envelope")
	payloadDesc  = schema.Messages().ByName("Payload")
	textDesc     = schema.Messages().ByName("Text")
	hopDesc      = schema.Messages().ByName("Hop")
	ballotDesc   = schema.Messages().ByName("Ballot")
	opaqueDesc   = schema.Messages().ByName("Opaque")
	topologyDesc = schema.Messages().ByName("Topology")
	peerListDesc = schema.Messages().ByName("PeerList")
	helloDesc    = schema.Messages().ByName("Hello")

	payloadVariant = payloadDesc.Oneofs().ByName("variant")
)

func mustBuildSchema() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(schemaFile(), nil)
	if err != nil {
		panic(fmt.Sprintf("wire: invalid schema: %v", err))
	}
	return fd
}

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	typeString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	typeBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	typeBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	typeInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	typeUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	typeEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	typeMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String("." + schemaPackage + "." + typeName)
	}
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func variant(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.OneofIndex = proto.Int32(0)
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// mapEntry is the synthetic entry message protoc generates for map<string, V>.
func mapEntry(name string, value *descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	m := message(name, field("key", 1, typeString, ""), value)
	m.Options = &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)}
	return m
}

func schemaFile() *descriptorpb.FileDescriptorProto {
	payload := message("Payload",
		variant(field("text", 1, typeMessage, "Text")),
		variant(field("hop", 2, typeMessage, "Hop")),
		variant(field("ballot", 3, typeMessage, "Ballot")),
		variant(field("opaque", 4, typeMessage, "Opaque")),
		variant(field("topology", 5, typeMessage, "Topology")),
	)
	payload.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("variant")}}

	ballot := message("Ballot", repeated(field("votes", 1, typeMessage, "Ballot.VotesEntry")))
	ballot.NestedType = []*descriptorpb.DescriptorProto{
		mapEntry("VotesEntry", field("value", 2, typeBool, "")),
	}

	topology := message("Topology", repeated(field("adjacency", 1, typeMessage, "Topology.AdjacencyEntry")))
	topology.NestedType = []*descriptorpb.DescriptorProto{
		mapEntry("AdjacencyEntry", field("value", 2, typeMessage, "PeerList")),
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("flood/v1/flood.proto"),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Kind"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("FORWARD"), Number: proto.Int32(0)},
				{Name: proto.String("CALLBACK"), Number: proto.Int32(1)},
				{Name: proto.String("CALLBACK_INVALID"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Envelope",
				field("id", 1, typeString, ""),
				field("kind", 2, typeEnum, "Kind"),
				field("originator", 3, typeString, ""),
				field("return_to", 4, typeString, ""),
				repeated(field("visited", 5, typeString, "")),
				field("payload", 6, typeMessage, "Payload"),
				field("shed", 7, typeUint32, ""),
			),
			payload,
			message("Text",
				field("body", 1, typeString, ""),
				field("source", 2, typeString, ""),
				field("sent_at_unix_nano", 3, typeInt64, ""),
			),
			message("Hop",
				field("current", 1, typeUint32, ""),
				field("max", 2, typeUint32, ""),
				field("inner", 3, typeMessage, "Payload"),
			),
			ballot,
			message("Opaque", field("data", 1, typeBytes, "")),
			message("PeerList", repeated(field("peers", 1, typeString, ""))),
			topology,
			message("Hello",
				field("peer_id", 1, typeString, ""),
				field("version", 2, typeUint32, ""),
			),
		},
	}
}
