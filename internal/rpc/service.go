// ABOUTME: Hand-written gRPC service descriptor for the bidirectional Session stream
// ABOUTME: Mirrors generated server and client stubs, typed on Frame instead of protobuf messages

package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName       = "mcp.v1.Conversation"
	SessionStreamName = "Session"
	SessionMethod     = "/" + ServiceName + "/" + SessionStreamName
)

// ConversationServer is the server API for the Conversation service.
type ConversationServer interface {
	Session(SessionServer) error
}

// SessionServer is the server side of a session stream.
type SessionServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ServerStream
}

type sessionServer struct {
	grpc.ServerStream
}

func (x *sessionServer) Send(f *Frame) error {
	return x.ServerStream.SendMsg(f)
}

func (x *sessionServer) Recv() (*Frame, error) {
	f := new(Frame)
	if err := x.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ConversationServer).Session(&sessionServer{stream})
}

// ServiceDesc describes the Conversation service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    SessionStreamName,
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mcp/v1/conversation",
}

// RegisterConversationServer registers srv on s.
func RegisterConversationServer(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SessionClient is the client side of a session stream.
type SessionClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	grpc.ClientStream
}

type sessionClient struct {
	grpc.ClientStream
}

func (x *sessionClient) Send(f *Frame) error {
	return x.ClientStream.SendMsg(f)
}

func (x *sessionClient) Recv() (*Frame, error) {
	f := new(Frame)
	if err := x.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenSession starts a session stream on cc using the JSON codec.
func OpenSession(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (SessionClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], SessionMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &sessionClient{stream}, nil
}
