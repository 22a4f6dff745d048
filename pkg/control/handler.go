package control

import (
	"context"

	"google.golang.org/grpc"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

func RegisterGRPCDiscoveryHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler api.ServiceDiscoveryServer, logger logging.Logger) {
	api.RegisterServiceDiscoveryServer(grpcServerRegistrar, &grpcDiscoveryHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcDiscoveryHandler struct {
	handler api.ServiceDiscoveryServer
	logger  logging.Logger
}

func (h *grpcDiscoveryHandler) DiscoverServices(ctx context.Context, request *api.DiscoverServicesRequest) (*api.DiscoverServicesResponse, error) {
	response, err := h.handler.DiscoverServices(ctx, request)
	if err != nil {
		h.logger.Errorf("DiscoverServices server handler: %v", err)
		return nil, err
	}
	h.logger.Debugf("DiscoverServices server handler done")
	return response, nil
}

func (h *grpcDiscoveryHandler) DiscoverTopServices(ctx context.Context, request *api.DiscoverServicesRequest) (*api.DiscoverServicesResponse, error) {
	response, err := h.handler.DiscoverTopServices(ctx, request)
	if err != nil {
		h.logger.Errorf("DiscoverTopServices server handler: %v", err)
		return nil, err
	}
	h.logger.Debugf("DiscoverTopServices server handler done")
	return response, nil
}

func RegisterGRPCAdministrationHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler api.ProcessAdministrationServer, logger logging.Logger) {
	api.RegisterProcessAdministrationServer(grpcServerRegistrar, &grpcAdministrationHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcAdministrationHandler struct {
	handler api.ProcessAdministrationServer
	logger  logging.Logger
}

func (h *grpcAdministrationHandler) Cancel(ctx context.Context, request *api.CancelRequest) (*api.CancelResponse, error) {
	response, err := h.handler.Cancel(ctx, request)
	if err != nil {
		h.logger.Errorf("Cancel server handler: %v", err)
		return nil, err
	}
	h.logger.Debugf("Cancel server handler done")
	return response, nil
}

func (h *grpcAdministrationHandler) CancelAll(ctx context.Context, request *api.CancelAllRequest) (*api.CancelResponse, error) {
	response, err := h.handler.CancelAll(ctx, request)
	if err != nil {
		h.logger.Errorf("CancelAll server handler: %v", err)
		return nil, err
	}
	h.logger.Debugf("CancelAll server handler done")
	return response, nil
}
