package discovery

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/atomic"
	"google.golang.org/grpc"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/monitoring"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

// ColdStartTimeout bounds the second load round, used when nobody answered
// within the regular response timeout.
const ColdStartTimeout = 30 * time.Second

// Evaluator probes candidate locations for health and load and ranks them.
// Apart from the connection cache it keeps no per-call state.
type Evaluator struct {
	channels        *transport.ChannelCache
	clientTLS       transport.ClientTLS
	ignoreServerCPU bool
	logger          logging.Logger

	lastError atomic.Error
}

func NewEvaluator(channels *transport.ChannelCache, clientTLS transport.ClientTLS, ignoreServerCPU bool, logger logging.Logger) *Evaluator {
	return &Evaluator{
		channels:        channels,
		clientTLS:       clientTLS,
		ignoreServerCPU: ignoreServerCPU,
		logger:          logger,
	}
}

// LastError is the most recent transport failure seen by any call
func (e *Evaluator) LastError() error {
	return e.lastError.Load()
}

// FilterHealthy probes the locations one after the other until maxCount
// (0 = no limit) healthy ones are found. Every probed location is returned
// with its verdict. A call that found nothing healthy fails with the last
// transport error, if there was one.
func (e *Evaluator) FilterHealthy(ctx context.Context, locations []registry.ServiceLocation, maxCount int, timeout time.Duration) ([]*QualifiedService, error) {
	start := time.Now()

	var lastError error
	var result []*QualifiedService
	healthy := 0

	for _, location := range locations {
		if maxCount > 0 && healthy >= maxCount {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("health filtering cancelled", err)
		}

		isHealthy, err := e.isHealthy(ctx, location, timeout)
		if err != nil {
			lastError = err
		}

		result = append(result, NewQualifiedService(location, isHealthy))
		if isHealthy {
			healthy++
		}
	}

	if healthy == 0 && lastError != nil {
		e.logger.Warnf("No healthy service found and probing failed, throwing last error: %v", lastError)
		return nil, lastError
	}

	e.logger.Debugf("Found %d healthy services in %v", healthy, time.Since(start))
	return result, nil
}

type loadResult struct {
	service *QualifiedService
	err     error
}

// EvaluateLoad asks every location for health and a load report
// concurrently, each bounded by timeout. Unhealthy locations, locations
// without capacity and locations that failed are left out. When nothing
// qualified and a transport error other than a timeout occurred, that error
// is returned.
func (e *Evaluator) EvaluateLoad(ctx context.Context, locations []registry.ServiceLocation, timeout time.Duration) ([]*QualifiedService, error) {
	start := time.Now()

	results := make(chan loadResult, len(locations))
	for _, location := range locations {
		go func(location registry.ServiceLocation) {
			service, err := e.qualify(ctx, location, timeout)
			results <- loadResult{service: service, err: err}
		}(location)
	}

	var lastError error
	var qualified []*QualifiedService
	failures := 0
	for range locations {
		result := <-results
		if result.err != nil {
			failures++
			lastError = result.err
		}
		if result.service != nil {
			qualified = append(qualified, result.service)
		}
	}

	e.logger.Debugf("Received %d load reports in %v", len(qualified), time.Since(start))

	if len(qualified) == 0 && lastError != nil {
		e.logger.Warnf("No service qualified and %d probe(s) failed, throwing last error: %v", failures, lastError)
		return nil, lastError
	}
	return qualified, nil
}

// Prioritize assigns each candidate its host's aggregated utilization and
// sorts the list, best first.
func (e *Evaluator) Prioritize(services []*QualifiedService) []*QualifiedService {
	hostLoads := aggregateHostUtilization(services)
	for host, load := range hostLoads {
		e.logger.Debugf("Aggregated load for host %s: %.3f", host, load)
	}

	for _, service := range services {
		if service.ServerStats == nil {
			continue
		}
		service.ServerStats.ServerUtilization = hostLoads[strings.ToLower(service.Location.HostName)]
	}

	Sort(services, e.ignoreServerCPU)
	return services
}

// aggregateHostUtilization divides the sum of current requests by the sum
// of request capacity per host. Hosts without capacity get NaN.
func aggregateHostUtilization(services []*QualifiedService) map[string]float64 {
	type hostLoad struct {
		current, capacity int64
	}

	hosts := make(map[string]*hostLoad)
	for _, service := range services {
		host := strings.ToLower(service.Location.HostName)
		load, ok := hosts[host]
		if !ok {
			load = &hostLoad{}
			hosts[host] = load
		}
		if service.ServerStats != nil {
			load.current += int64(service.ServerStats.CurrentRequests)
			load.capacity += int64(service.ServerStats.RequestCapacity)
		}
	}

	loads := make(map[string]float64, len(hosts))
	for host, load := range hosts {
		if load.capacity == 0 {
			loads[host] = math.NaN()
			continue
		}
		loads[host] = float64(load.current) / float64(load.capacity)
	}
	return loads
}

func (e *Evaluator) qualify(ctx context.Context, location registry.ServiceLocation, timeout time.Duration) (*QualifiedService, error) {
	conn, err := e.connection(location)
	if err != nil {
		e.recordError(location, err)
		return nil, err
	}

	isHealthy, err := e.checkHealth(ctx, conn, location, timeout)
	if err != nil || !isHealthy {
		return nil, err
	}

	report, err := monitoring.ReportLoad(ctx, conn, location.ServiceName, location.Scope, timeout)
	switch {
	case errors.IsTimeoutError(err):
		e.logger.Debugf("Service location %s took longer than %v, it is ignored", location, timeout)
		return nil, nil
	case err != nil:
		e.recordError(location, err)
		return nil, err
	}

	if report.ServerStats != nil && report.ServerStats.RequestCapacity == 0 {
		e.logger.Debugf("Service location %s reports 0 capacity, it is ignored", location)
		return nil, nil
	}

	service := NewQualifiedService(location, true)
	if report.ServerStats != nil {
		stats := *report.ServerStats
		service.ServerStats = &stats
	}
	service.KnownLoadRate = report.KnownLoadRate
	return service, nil
}

func (e *Evaluator) isHealthy(ctx context.Context, location registry.ServiceLocation, timeout time.Duration) (bool, error) {
	conn, err := e.connection(location)
	if err != nil {
		e.recordError(location, err)
		return false, err
	}
	return e.checkHealth(ctx, conn, location, timeout)
}

// checkHealth swallows timeouts; the slow location simply does not qualify
func (e *Evaluator) checkHealth(ctx context.Context, conn grpc.ClientConnInterface, location registry.ServiceLocation, timeout time.Duration) (bool, error) {
	status, err := monitoring.CheckHealth(ctx, conn, location.ServiceName, timeout)
	switch {
	case errors.IsTimeoutError(err):
		e.logger.Debugf("Service location %s took longer than %v, it is ignored", location, timeout)
		return false, nil
	case err != nil:
		e.recordError(location, err)
		return false, err
	}

	if status != monitoring.HealthStatusServing {
		e.logger.Debugf("Service location %s is not serving, status: %s", location, status)
		return false, nil
	}
	return true, nil
}

func (e *Evaluator) connection(location registry.ServiceLocation) (*grpc.ClientConn, error) {
	tlsConfig := e.clientTLS
	tlsConfig.UseTLS = location.UseTLS
	return e.channels.Get(location.HostName, location.Port, tlsConfig)
}

func (e *Evaluator) recordError(location registry.ServiceLocation, err error) {
	e.logger.Warnf("Error checking service health / load report for %s, error: %v", location, err)
	e.lastError.Store(err)
}
