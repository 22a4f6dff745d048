package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceDiscoveryServiceName = "quaestor.ServiceDiscoveryGrpc"

	discoverServicesMethod    = "/" + ServiceDiscoveryServiceName + "/DiscoverServices"
	discoverTopServicesMethod = "/" + ServiceDiscoveryServiceName + "/DiscoverTopServices"
)

type ServiceDiscoveryServer interface {
	DiscoverServices(context.Context, *DiscoverServicesRequest) (*DiscoverServicesResponse, error)
	DiscoverTopServices(context.Context, *DiscoverServicesRequest) (*DiscoverServicesResponse, error)
}

type ServiceDiscoveryClient interface {
	DiscoverServices(ctx context.Context, in *DiscoverServicesRequest, opts ...grpc.CallOption) (*DiscoverServicesResponse, error)
	DiscoverTopServices(ctx context.Context, in *DiscoverServicesRequest, opts ...grpc.CallOption) (*DiscoverServicesResponse, error)
}

type serviceDiscoveryClient struct {
	cc grpc.ClientConnInterface
}

func NewServiceDiscoveryClient(cc grpc.ClientConnInterface) ServiceDiscoveryClient {
	return &serviceDiscoveryClient{cc}
}

func (c *serviceDiscoveryClient) DiscoverServices(ctx context.Context, in *DiscoverServicesRequest, opts ...grpc.CallOption) (*DiscoverServicesResponse, error) {
	out := new(DiscoverServicesResponse)
	if err := c.cc.Invoke(ctx, discoverServicesMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *serviceDiscoveryClient) DiscoverTopServices(ctx context.Context, in *DiscoverServicesRequest, opts ...grpc.CallOption) (*DiscoverServicesResponse, error) {
	out := new(DiscoverServicesResponse)
	if err := c.cc.Invoke(ctx, discoverTopServicesMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterServiceDiscoveryServer(s grpc.ServiceRegistrar, srv ServiceDiscoveryServer) {
	s.RegisterService(&serviceDiscoveryServiceDesc, srv)
}

func discoverServicesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiscoverServicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ServiceDiscoveryServer).DiscoverServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: discoverServicesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ServiceDiscoveryServer).DiscoverServices(ctx, req.(*DiscoverServicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func discoverTopServicesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiscoverServicesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ServiceDiscoveryServer).DiscoverTopServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: discoverTopServicesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ServiceDiscoveryServer).DiscoverTopServices(ctx, req.(*DiscoverServicesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDiscoveryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceDiscoveryServiceName,
	HandlerType: (*ServiceDiscoveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "DiscoverServices",
			Handler:    discoverServicesHandler,
		},
		{
			MethodName: "DiscoverTopServices",
			Handler:    discoverTopServicesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quaestor/service_discovery",
}
