package discovery

import (
	"context"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

type ServiceConfig struct {
	ResponseTimeout     time.Duration
	RecentlyUsedTimeout time.Duration
}

// strategy turns shuffled candidates into the locations handed out
type strategy func(ctx context.Context, candidates []registry.ServiceLocation, maxCount int) ([]*QualifiedService, error)

// Service answers discovery requests from the registry, verifying the
// candidates live through the evaluator.
type Service struct {
	registry     *registry.Registry
	evaluator    *Evaluator
	recentlyUsed *RecentlyUsed
	health       *health.Server
	config       ServiceConfig
	logger       logging.Logger

	// Unhealthy locations are deleted from the registry only when it is
	// shared with a supervisor that will register them again.
	removeUnhealthy func() bool
}

func NewService(reg *registry.Registry, evaluator *Evaluator, healthServer *health.Server, config ServiceConfig, logger logging.Logger) *Service {
	return &Service{
		registry:     reg,
		evaluator:    evaluator,
		recentlyUsed: NewRecentlyUsed(config.RecentlyUsedTimeout),
		health:       healthServer,
		config:       config,
		logger:       logger,
		removeUnhealthy: func() bool {
			return !reg.Store().IsLocal()
		},
	}
}

// SetServing publishes the health of the discovery service itself
func (s *Service) SetServing(serving bool) {
	if s.health == nil {
		return
	}

	servingStatus := healthpb.HealthCheckResponse_SERVING
	if !serving {
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", servingStatus)
	s.health.SetServingStatus(api.ServiceDiscoveryServiceName, servingStatus)
}

func (s *Service) DiscoverServices(ctx context.Context, req *api.DiscoverServicesRequest) (*api.DiscoverServicesResponse, error) {
	return s.discover(ctx, "DiscoverServices", req, s.healthOnly)
}

func (s *Service) DiscoverTopServices(ctx context.Context, req *api.DiscoverServicesRequest) (*api.DiscoverServicesResponse, error) {
	return s.discover(ctx, "DiscoverTopServices", req, s.loadAware)
}

func (s *Service) discover(ctx context.Context, method string, req *api.DiscoverServicesRequest, evaluate strategy) (*api.DiscoverServicesResponse, error) {
	if req.ServiceName == "" {
		return nil, status.Error(codes.InvalidArgument, "service name is required")
	}
	if req.MaxCount < 0 {
		return nil, status.Error(codes.InvalidArgument, "max count must not be negative")
	}

	start := time.Now()
	s.logger.Debugf("%s, service: %s, max count: %d", method, req.ServiceName, req.MaxCount)

	selected, err := s.selectServices(ctx, req, evaluate)
	if err != nil {
		s.logger.Errorf("Error discovering service %s, error: %v", req.ServiceName, err)
		s.SetServing(false)
		return nil, toStatus(err)
	}

	response := &api.DiscoverServicesResponse{
		ServiceLocations: make([]*api.ServiceLocationMsg, 0, len(selected)),
	}
	for _, service := range selected {
		response.ServiceLocations = append(response.ServiceLocations, toMessage(service.Location))
	}

	s.logger.Infof("%s: returning %d of requested %d service location(s) for %s in %v",
		method, len(selected), req.MaxCount, req.ServiceName, time.Since(start))
	return response, nil
}

func (s *Service) selectServices(ctx context.Context, req *api.DiscoverServicesRequest, evaluate strategy) ([]*QualifiedService, error) {
	locations, err := s.registry.GetServiceLocations(ctx, req.ServiceName)
	if err != nil {
		return nil, errors.NewDiscoveryError("failed to fetch candidates", err).WithContext("service", req.ServiceName)
	}
	if len(locations) == 0 {
		s.logger.Warnf("No service location registered for %s", req.ServiceName)
		return nil, nil
	}

	rand.Shuffle(len(locations), func(i, j int) {
		locations[i], locations[j] = locations[j], locations[i]
	})

	return evaluate(ctx, locations, int(req.MaxCount))
}

func (s *Service) healthOnly(ctx context.Context, candidates []registry.ServiceLocation, maxCount int) ([]*QualifiedService, error) {
	probed, err := s.evaluator.FilterHealthy(ctx, candidates, maxCount, s.config.ResponseTimeout)
	if err != nil {
		return nil, err
	}

	healthy := make([]*QualifiedService, 0, len(probed))
	for _, service := range probed {
		if service.IsHealthy {
			healthy = append(healthy, service)
			continue
		}
		if s.removeUnhealthy() {
			s.logger.Infof("Removing unhealthy service location %s from the registry", service.Location)
			s.registry.Remove(ctx, service.Location)
		}
	}
	return healthy, nil
}

func (s *Service) loadAware(ctx context.Context, candidates []registry.ServiceLocation, maxCount int) ([]*QualifiedService, error) {
	qualified, err := s.evaluator.EvaluateLoad(ctx, candidates, s.config.ResponseTimeout)
	if err != nil {
		return nil, err
	}

	if len(qualified) == 0 {
		s.logger.Warnf("No service answered within %v, retrying with %v", s.config.ResponseTimeout, ColdStartTimeout)
		qualified, err = s.evaluator.EvaluateLoad(ctx, candidates, ColdStartTimeout)
		if err != nil {
			return nil, err
		}
	}

	ranked := s.recentlyUsed.Deprioritize(s.evaluator.Prioritize(qualified))
	if maxCount > 0 && len(ranked) > maxCount {
		ranked = ranked[:maxCount]
	}
	s.recentlyUsed.Use(ranked)
	return ranked, nil
}

// toStatus maps a failed discovery onto a gRPC status. A fleet that could
// not be reached at all is reported as unavailable.
func toStatus(err error) error {
	switch {
	case errors.IsUnavailableError(err), errors.IsNetworkError(err), errors.IsTimeoutError(err):
		return status.Error(codes.Unavailable, err.Error())
	case errors.IsCancelledError(err):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
