package control

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/domain"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/monitoring"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

func NewGRPCDiscoveryGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Discovery {
	return &grpcDiscoveryGateway{
		grpcClient: api.NewServiceDiscoveryClient(grpcClientConnection),
		logger:     logger,
	}
}

type grpcDiscoveryGateway struct {
	grpcClient api.ServiceDiscoveryClient
	logger     logging.Logger
}

func (gw *grpcDiscoveryGateway) DiscoverServices(ctx context.Context, serviceName string, maxCount int) ([]registry.ServiceLocation, error) {
	response, err := gw.grpcClient.DiscoverServices(ctx, &api.DiscoverServicesRequest{ServiceName: serviceName, MaxCount: int32(maxCount)})
	if err != nil {
		gw.logger.Errorf("DiscoverServices client gateway: %v", err)
		return nil, err
	}
	gw.logger.Debugf("DiscoverServices client gateway done")
	return fromMessages(response.ServiceLocations), nil
}

func (gw *grpcDiscoveryGateway) DiscoverTopServices(ctx context.Context, serviceName string, maxCount int) ([]registry.ServiceLocation, error) {
	response, err := gw.grpcClient.DiscoverTopServices(ctx, &api.DiscoverServicesRequest{ServiceName: serviceName, MaxCount: int32(maxCount)})
	if err != nil {
		gw.logger.Errorf("DiscoverTopServices client gateway: %v", err)
		return nil, err
	}
	gw.logger.Debugf("DiscoverTopServices client gateway done")
	return fromMessages(response.ServiceLocations), nil
}

func fromMessages(messages []*api.ServiceLocationMsg) []registry.ServiceLocation {
	locations := make([]registry.ServiceLocation, 0, len(messages))
	for _, msg := range messages {
		locations = append(locations, registry.ServiceLocation{
			Scope:       msg.Scope,
			ServiceName: msg.ServiceName,
			HostName:    msg.HostName,
			Port:        int(msg.Port),
		})
	}
	return locations
}

func NewGRPCAdministrationGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Administration {
	return &grpcAdministrationGateway{
		grpcClient: api.NewProcessAdministrationClient(grpcClientConnection),
		logger:     logger,
	}
}

type grpcAdministrationGateway struct {
	grpcClient api.ProcessAdministrationClient
	logger     logging.Logger
}

func (gw *grpcAdministrationGateway) Cancel(ctx context.Context, userName, environment string) (bool, error) {
	response, err := gw.grpcClient.Cancel(ctx, &api.CancelRequest{UserName: userName, Environment: environment})
	if err != nil {
		gw.logger.Errorf("Cancel client gateway: %v", err)
		return false, err
	}
	gw.logger.Debugf("Cancel client gateway done")
	return response.Success, nil
}

func (gw *grpcAdministrationGateway) CancelAll(ctx context.Context) (bool, error) {
	response, err := gw.grpcClient.CancelAll(ctx, &api.CancelAllRequest{})
	if err != nil {
		gw.logger.Errorf("CancelAll client gateway: %v", err)
		return false, err
	}
	gw.logger.Debugf("CancelAll client gateway done")
	return response.Success, nil
}

type RetryOptions struct {
	RetryAttempts int
	RetryInterval time.Duration
}

// WaitUntilServing polls the overall health of the server behind conn until
// it reports serving or the attempts are used up.
func WaitUntilServing(ctx context.Context, conn grpc.ClientConnInterface, options RetryOptions, logger logging.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= options.RetryAttempts; attempt++ {
		serving, err := monitoring.CheckServing(ctx, conn, nil, options.RetryInterval)
		if err == nil && serving {
			logger.Debugf("Server is serving, attempt: %d", attempt)
			return nil
		}
		lastErr = err
		logger.Debugf("Server not serving yet, attempt: %d, error: %v", attempt, err)

		select {
		case <-ctx.Done():
			return errors.NewCancelledError("waiting for server cancelled", ctx.Err())
		case <-time.After(options.RetryInterval):
		}
	}
	return errors.NewUnavailableError("server did not become serving", lastErr).
		WithContext("attempts", options.RetryAttempts)
}
