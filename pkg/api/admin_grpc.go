package api

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ProcessAdministrationServiceName = "quaestor.ProcessAdministrationGrpc"

	cancelMethod    = "/" + ProcessAdministrationServiceName + "/Cancel"
	cancelAllMethod = "/" + ProcessAdministrationServiceName + "/CancelAll"
)

type ProcessAdministrationServer interface {
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	CancelAll(context.Context, *CancelAllRequest) (*CancelResponse, error)
}

type ProcessAdministrationClient interface {
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error)
	CancelAll(ctx context.Context, in *CancelAllRequest, opts ...grpc.CallOption) (*CancelResponse, error)
}

type processAdministrationClient struct {
	cc grpc.ClientConnInterface
}

func NewProcessAdministrationClient(cc grpc.ClientConnInterface) ProcessAdministrationClient {
	return &processAdministrationClient{cc}
}

func (c *processAdministrationClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.cc.Invoke(ctx, cancelMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *processAdministrationClient) CancelAll(ctx context.Context, in *CancelAllRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.cc.Invoke(ctx, cancelAllMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterProcessAdministrationServer(s grpc.ServiceRegistrar, srv ProcessAdministrationServer) {
	s.RegisterService(&processAdministrationServiceDesc, srv)
}

func cancelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessAdministrationServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: cancelMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessAdministrationServer).Cancel(ctx, req.(*CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelAllHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelAllRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessAdministrationServer).CancelAll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: cancelAllMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessAdministrationServer).CancelAll(ctx, req.(*CancelAllRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var processAdministrationServiceDesc = grpc.ServiceDesc{
	ServiceName: ProcessAdministrationServiceName,
	HandlerType: (*ProcessAdministrationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Cancel",
			Handler:    cancelHandler,
		},
		{
			MethodName: "CancelAll",
			Handler:    cancelAllHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quaestor/process_administration",
}
