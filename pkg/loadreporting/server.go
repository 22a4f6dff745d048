package loadreporting

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// Server reports the load of the services a worker allows to be monitored
type Server struct {
	cpu    *CPUSampler
	logger logging.Logger

	mutex    sync.RWMutex
	services map[string]*ServiceLoad
}

func NewServer(logger logging.Logger) *Server {
	s := &Server{
		cpu:      NewCPUSampler(),
		logger:   logger,
		services: make(map[string]*ServiceLoad),
	}
	// The first sample only sets the baseline
	s.cpu.Sample()
	return s
}

// AllowMonitoring publishes the load of a service under its name
func (s *Server) AllowMonitoring(serviceName string, load *ServiceLoad) error {
	if serviceName == "" {
		return errors.NewValidationError("service name is required", nil)
	}
	if load == nil {
		return errors.NewValidationError("service load is required", nil).WithContext("service", serviceName)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.services[serviceName]; exists {
		return errors.NewValidationError("service already monitored", nil).WithContext("service", serviceName)
	}
	s.services[serviceName] = load
	return nil
}

func (s *Server) load(serviceName string) *ServiceLoad {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.services[serviceName]
}

// ReportLoad answers with the current figures and starts a new reporting
// window. Unknown services are rejected with codes.OutOfRange.
func (s *Server) ReportLoad(ctx context.Context, req *api.LoadReportRequest) (*api.LoadReportResponse, error) {
	load := s.load(req.ServiceName)
	if load == nil {
		return nil, status.Errorf(codes.OutOfRange, "service name %s not found", req.ServiceName)
	}

	if utilization := s.cpu.Sample(); utilization >= 0 {
		load.SetServerUtilization(utilization)
	}

	response := &api.LoadReportResponse{
		ServerStats: &api.ServerStats{
			RequestCapacity:   int32(load.RequestCapacity()),
			CurrentRequests:   int32(load.CurrentRequests()),
			ServerUtilization: load.ServerUtilization(),
		},
		KnownLoadRate:  load.KnownLoadRate(),
		TimestampTicks: load.ReportStart().UnixNano(),
	}
	load.ResetReportStart()

	s.logger.Debugf("Reporting load, service: %s, %s", req.ServiceName, load)
	return response, nil
}
