package rpcmsg

import (
	"context"

	"google.golang.org/grpc"
)

// AgentServiceServer is the interface the agent's RPC handlers implement.
// Shaped exactly like protoc-gen-go-grpc output so the rest of the
// codebase — interceptors, pkg/server wiring, tests — treats it like any
// other generated grpc-go service.
type AgentServiceServer interface {
	StreamInference(*StreamRequest, AgentService_StreamInferenceServer) error
	GetStatus(context.Context, *AgentStatusRequest) (*AgentStatusResponse, error)
}

// AgentService_StreamInferenceServer is the server-side handle for the
// StreamInference server-streaming RPC.
type AgentService_StreamInferenceServer interface {
	Send(*StreamResponse) error
	grpc.ServerStream
}

type agentServiceStreamInferenceServer struct {
	grpc.ServerStream
}

func (s *agentServiceStreamInferenceServer) Send(resp *StreamResponse) error {
	return s.ServerStream.SendMsg(resp)
}

// AgentServiceClient is the client-side stub for AgentService.
type AgentServiceClient interface {
	StreamInference(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (AgentService_StreamInferenceClient, error)
	GetStatus(ctx context.Context, in *AgentStatusRequest, opts ...grpc.CallOption) (*AgentStatusResponse, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient builds a client stub over an established
// connection. cc must have been dialed with grpc.WithDefaultCallOptions
// (grpc.ForceCodec(rpcmsg.Codec)) for messages to decode correctly.
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc}
}

func (c *agentServiceClient) StreamInference(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (AgentService_StreamInferenceClient, error) {
	stream, err := c.cc.NewStream(ctx, &_AgentService_serviceDesc.Streams[0], "/titancompute.AgentService/StreamInference", opts...)
	if err != nil {
		return nil, err
	}
	x := &agentServiceStreamInferenceClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// AgentService_StreamInferenceClient is the client-side handle for the
// StreamInference server-streaming RPC.
type AgentService_StreamInferenceClient interface {
	Recv() (*StreamResponse, error)
	grpc.ClientStream
}

type agentServiceStreamInferenceClient struct {
	grpc.ClientStream
}

func (x *agentServiceStreamInferenceClient) Recv() (*StreamResponse, error) {
	m := new(StreamResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *agentServiceClient) GetStatus(ctx context.Context, in *AgentStatusRequest, opts ...grpc.CallOption) (*AgentStatusResponse, error) {
	out := new(AgentStatusResponse)
	err := c.cc.Invoke(ctx, "/titancompute.AgentService/GetStatus", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func _AgentService_StreamInference_Handler(srv any, stream grpc.ServerStream) error {
	m := new(StreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentServiceServer).StreamInference(m, &agentServiceStreamInferenceServer{stream})
}

func _AgentService_GetStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AgentStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/titancompute.AgentService/GetStatus",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).GetStatus(ctx, req.(*AgentStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// _AgentService_serviceDesc is the service descriptor registered against
// a *grpc.Server, in the same shape protoc-gen-go-grpc would emit.
var _AgentService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "titancompute.AgentService",
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler:    _AgentService_GetStatus_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamInference",
			Handler:       _AgentService_StreamInference_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "titancompute/agent_service.proto",
}

// RegisterAgentServiceServer registers srv against s. s is typically the
// *grpc.Server wrapped by pkg/server.GRPCServer.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&_AgentService_serviceDesc, srv)
}
