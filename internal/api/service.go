package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "incidents.v1.IncidentEngine"

const (
	DetectIncidentsFullMethod = "/" + ServiceName + "/DetectIncidents"
	HealthFullMethod          = "/" + ServiceName + "/Health"
)

// IncidentEngineServer is the server API for the IncidentEngine service.
// Requests and responses are carried as google.protobuf.Struct messages.
type IncidentEngineServer interface {
	DetectIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedIncidentEngineServer can be embedded to have forward compatible implementations.
type UnimplementedIncidentEngineServer struct{}

func (UnimplementedIncidentEngineServer) DetectIncidents(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method DetectIncidents not implemented")
}

func (UnimplementedIncidentEngineServer) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}

// RegisterIncidentEngineServer registers srv on s.
func RegisterIncidentEngineServer(s grpc.ServiceRegistrar, srv IncidentEngineServer) {
	s.RegisterService(&IncidentEngineServiceDesc, srv)
}

func detectIncidentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentEngineServer).DetectIncidents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DetectIncidentsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentEngineServer).DetectIncidents(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IncidentEngineServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IncidentEngineServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// IncidentEngineServiceDesc is the grpc.ServiceDesc for the IncidentEngine service.
var IncidentEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IncidentEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DetectIncidents", Handler: detectIncidentsHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "incidents/v1/incident_engine.proto",
}

// IncidentEngineClient is the client API for the IncidentEngine service.
type IncidentEngineClient interface {
	DetectIncidents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type incidentEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewIncidentEngineClient wraps a client connection.
func NewIncidentEngineClient(cc grpc.ClientConnInterface) IncidentEngineClient {
	return &incidentEngineClient{cc: cc}
}

func (c *incidentEngineClient) DetectIncidents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DetectIncidentsFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *incidentEngineClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
