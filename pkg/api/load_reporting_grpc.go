package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	LoadReportingServiceName = "quaestor.LoadReportingGrpc"

	loadReportingReportLoadMethod = "/" + LoadReportingServiceName + "/ReportLoad"
)

// LoadReportingServer is implemented by worker processes. An unknown
// service name must be answered with codes.OutOfRange.
type LoadReportingServer interface {
	ReportLoad(context.Context, *LoadReportRequest) (*LoadReportResponse, error)
}

type LoadReportingClient interface {
	ReportLoad(ctx context.Context, in *LoadReportRequest, opts ...grpc.CallOption) (*LoadReportResponse, error)
}

type loadReportingClient struct {
	cc grpc.ClientConnInterface
}

func NewLoadReportingClient(cc grpc.ClientConnInterface) LoadReportingClient {
	return &loadReportingClient{cc}
}

func (c *loadReportingClient) ReportLoad(ctx context.Context, in *LoadReportRequest, opts ...grpc.CallOption) (*LoadReportResponse, error) {
	out := new(LoadReportResponse)
	err := c.cc.Invoke(ctx, loadReportingReportLoadMethod, in, out, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterLoadReportingServer(s grpc.ServiceRegistrar, srv LoadReportingServer) {
	s.RegisterService(&loadReportingServiceDesc, srv)
}

func loadReportingReportLoadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoadReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LoadReportingServer).ReportLoad(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: loadReportingReportLoadMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LoadReportingServer).ReportLoad(ctx, req.(*LoadReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var loadReportingServiceDesc = grpc.ServiceDesc{
	ServiceName: LoadReportingServiceName,
	HandlerType: (*LoadReportingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportLoad",
			Handler:    loadReportingReportLoadHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quaestor/load_reporting",
}

// withCodec selects the CBOR codec unless the caller already chose one.
func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
