package rpcmsg

import (
	"context"

	"google.golang.org/grpc"
)

// CoordinatorServiceServer is implemented by a coordinator (never by this
// repo, but tests stand up a fake one in-process against this descriptor
// so the Coordinator Client can be exercised without a real coordinator).
type CoordinatorServiceServer interface {
	RegisterAgent(context.Context, *AgentRegistration) (*RegisterAgentResponse, error)
	GetPublicKey(context.Context, *Empty) (*PublicKeyResponse, error)
	ReportHealth(CoordinatorService_ReportHealthServer) error
}

// CoordinatorService_ReportHealthServer is the server-side handle for the
// ReportHealth client-streaming RPC.
type CoordinatorService_ReportHealthServer interface {
	SendAndClose(*HealthAck) error
	Recv() (*HealthUpdate, error)
	grpc.ServerStream
}

type coordinatorServiceReportHealthServer struct {
	grpc.ServerStream
}

func (s *coordinatorServiceReportHealthServer) SendAndClose(ack *HealthAck) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *coordinatorServiceReportHealthServer) Recv() (*HealthUpdate, error) {
	m := new(HealthUpdate)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CoordinatorServiceClient is the client-side stub an agent dials.
type CoordinatorServiceClient interface {
	RegisterAgent(ctx context.Context, in *AgentRegistration, opts ...grpc.CallOption) (*RegisterAgentResponse, error)
	GetPublicKey(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PublicKeyResponse, error)
	ReportHealth(ctx context.Context, opts ...grpc.CallOption) (CoordinatorService_ReportHealthClient, error)
}

type coordinatorServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorServiceClient builds a client stub over an established
// connection dialed with grpc.WithDefaultCallOptions(grpc.ForceCodec(rpcmsg.Codec)).
func NewCoordinatorServiceClient(cc grpc.ClientConnInterface) CoordinatorServiceClient {
	return &coordinatorServiceClient{cc}
}

func (c *coordinatorServiceClient) RegisterAgent(ctx context.Context, in *AgentRegistration, opts ...grpc.CallOption) (*RegisterAgentResponse, error) {
	out := new(RegisterAgentResponse)
	if err := c.cc.Invoke(ctx, "/titancompute.CoordinatorService/RegisterAgent", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorServiceClient) GetPublicKey(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*PublicKeyResponse, error) {
	out := new(PublicKeyResponse)
	if err := c.cc.Invoke(ctx, "/titancompute.CoordinatorService/GetPublicKey", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorServiceClient) ReportHealth(ctx context.Context, opts ...grpc.CallOption) (CoordinatorService_ReportHealthClient, error) {
	stream, err := c.cc.NewStream(ctx, &_CoordinatorService_serviceDesc.Streams[0], "/titancompute.CoordinatorService/ReportHealth", opts...)
	if err != nil {
		return nil, err
	}
	return &coordinatorServiceReportHealthClient{stream}, nil
}

// CoordinatorService_ReportHealthClient is the client-side handle for the
// ReportHealth client-streaming RPC.
type CoordinatorService_ReportHealthClient interface {
	Send(*HealthUpdate) error
	CloseAndRecv() (*HealthAck, error)
	grpc.ClientStream
}

type coordinatorServiceReportHealthClient struct {
	grpc.ClientStream
}

func (x *coordinatorServiceReportHealthClient) Send(update *HealthUpdate) error {
	return x.ClientStream.SendMsg(update)
}

func (x *coordinatorServiceReportHealthClient) CloseAndRecv() (*HealthAck, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(HealthAck)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _CoordinatorService_RegisterAgent_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AgentRegistration)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServiceServer).RegisterAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/titancompute.CoordinatorService/RegisterAgent"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServiceServer).RegisterAgent(ctx, req.(*AgentRegistration))
	}
	return interceptor(ctx, in, info, handler)
}

func _CoordinatorService_GetPublicKey_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServiceServer).GetPublicKey(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/titancompute.CoordinatorService/GetPublicKey"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CoordinatorServiceServer).GetPublicKey(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CoordinatorService_ReportHealth_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(CoordinatorServiceServer).ReportHealth(&coordinatorServiceReportHealthServer{stream})
}

var _CoordinatorService_serviceDesc = grpc.ServiceDesc{
	ServiceName: "titancompute.CoordinatorService",
	HandlerType: (*CoordinatorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAgent", Handler: _CoordinatorService_RegisterAgent_Handler},
		{MethodName: "GetPublicKey", Handler: _CoordinatorService_GetPublicKey_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ReportHealth",
			Handler:       _CoordinatorService_ReportHealth_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "titancompute/coordinator_service.proto",
}

// RegisterCoordinatorServiceServer registers srv against s. Used by tests
// that stand up a fake in-process coordinator.
func RegisterCoordinatorServiceServer(s grpc.ServiceRegistrar, srv CoordinatorServiceServer) {
	s.RegisterService(&_CoordinatorService_serviceDesc, srv)
}
