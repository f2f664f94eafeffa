package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the full gRPC service path, in the same dotted style a
// protoc-generated stub would use.
const serviceName = "tripwire.Telemetry"

// TelemetryServer is implemented by the Hub's HubIngestor (C5). Each method
// corresponds to one agent→hub report RPC (§4.5, §7).
type TelemetryServer interface {
	RegisterAgent(context.Context, *RegisterRequest) (*RegisterResponse, error)
	ReportMetrics(context.Context, *MetricsRequest) (*MetricsResponse, error)
	ReportSystemInfo(context.Context, *SystemInfoRequest) (*SystemInfoResponse, error)
	ReportUnitServices(context.Context, *UnitServicesRequest) (*UnitServicesResponse, error)
}

// ServiceDesc is registered against a *grpc.Server via
// grpc.Server.RegisterService, in place of the protoc-generated
// _ServiceDesc a real .pb.go would provide.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAgent", Handler: registerAgentHandler},
		{MethodName: "ReportMetrics", Handler: reportMetricsHandler},
		{MethodName: "ReportSystemInfo", Handler: reportSystemInfoHandler},
		{MethodName: "ReportUnitServices", Handler: reportUnitServicesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tripwire/telemetry.proto",
}

func registerAgentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).RegisterAgent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RegisterAgent"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).RegisterAgent(ctx, req.(*RegisterRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportMetricsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MetricsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).ReportMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportMetrics"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).ReportMetrics(ctx, req.(*MetricsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportSystemInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SystemInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).ReportSystemInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportSystemInfo"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).ReportSystemInfo(ctx, req.(*SystemInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportUnitServicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UnitServicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).ReportUnitServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportUnitServices"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).ReportUnitServices(ctx, req.(*UnitServicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// TelemetryClient is the client-side stub, playing the role a
// protoc-generated TelemetryClient interface would.
type TelemetryClient interface {
	RegisterAgent(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error)
	ReportMetrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error)
	ReportSystemInfo(ctx context.Context, in *SystemInfoRequest, opts ...grpc.CallOption) (*SystemInfoResponse, error)
	ReportUnitServices(ctx context.Context, in *UnitServicesRequest, opts ...grpc.CallOption) (*UnitServicesResponse, error)
}

type telemetryClient struct {
	cc grpc.ClientConnInterface
}

// NewTelemetryClient wraps conn with the unary RPCs of the Telemetry
// service, using the jsonCodec content-subtype registered in codec.go.
func NewTelemetryClient(conn grpc.ClientConnInterface) TelemetryClient {
	return &telemetryClient{cc: conn}
}

func (c *telemetryClient) RegisterAgent(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/RegisterAgent", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *telemetryClient) ReportMetrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error) {
	out := new(MetricsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ReportMetrics", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *telemetryClient) ReportSystemInfo(ctx context.Context, in *SystemInfoRequest, opts ...grpc.CallOption) (*SystemInfoResponse, error) {
	out := new(SystemInfoResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ReportSystemInfo", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *telemetryClient) ReportUnitServices(ctx context.Context, in *UnitServicesRequest, opts ...grpc.CallOption) (*UnitServicesResponse, error) {
	out := new(UnitServicesResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ReportUnitServices", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterTelemetryServer registers srv's implementation against s, in
// place of the protoc-generated RegisterTelemetryServer function.
func RegisterTelemetryServer(s *grpc.Server, srv TelemetryServer) {
	s.RegisterService(&ServiceDesc, srv)
}
