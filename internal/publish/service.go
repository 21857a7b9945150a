package publish

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The command stream is described with well-known protobuf types, so the
// service descriptor is declared here rather than generated.
const (
	ServiceName          = "motiongen.v1.CommandStream"
	StreamCommandsMethod = "/motiongen.v1.CommandStream/StreamCommands"
	StatusMethod         = "/motiongen.v1.CommandStream/Status"
)

// CommandStreamServer is the server API for the command stream.
type CommandStreamServer interface {
	// StreamCommands sends every dispatched command until the client goes
	// away. The request may carry "phases" (list of phase names) and
	// "every" (keep every Nth command).
	StreamCommands(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	// Status reports publisher counters.
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterCommandStreamServer(s grpc.ServiceRegistrar, srv CommandStreamServer) {
	s.RegisterService(&CommandStreamServiceDesc, srv)
}

func streamCommandsHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(CommandStreamServer).StreamCommands(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandStreamServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandStreamServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// CommandStreamServiceDesc is the grpc.ServiceDesc for the command stream.
var CommandStreamServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandStreamServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamCommands", Handler: streamCommandsHandler, ServerStreams: true},
	},
	Metadata: "motiongen/v1/command_stream.proto",
}

// CommandStreamClient is the client API for the command stream.
type CommandStreamClient struct {
	cc grpc.ClientConnInterface
}

func NewCommandStreamClient(cc grpc.ClientConnInterface) *CommandStreamClient {
	return &CommandStreamClient{cc: cc}
}

func (c *CommandStreamClient) StreamCommands(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &CommandStreamServiceDesc.Streams[0], StreamCommandsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *CommandStreamClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatusMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
