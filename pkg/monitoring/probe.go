package monitoring

import (
	"context"
	stderrors "errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

type HealthStatus string

const (
	HealthStatusUnknown    HealthStatus = "unknown"
	HealthStatusServing    HealthStatus = "serving"
	HealthStatusNotServing HealthStatus = "not_serving"
)

// CheckHealth calls grpc.health.v1.Health/Check for one service name.
// The RPC races a deadline of timeout (when positive); the loser is
// cancelled before returning. A deadline hit yields a timeout error, any
// other transport failure an unavailable error. A service the endpoint does
// not know is reported as HealthStatusUnknown without error.
func CheckHealth(ctx context.Context, conn grpc.ClientConnInterface, serviceName string, timeout time.Duration) (HealthStatus, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return HealthStatusUnknown, nil
		}
		return HealthStatusUnknown, classify(ctx, err, "health check").WithContext("service", serviceName)
	}

	switch resp.GetStatus() {
	case healthpb.HealthCheckResponse_SERVING:
		return HealthStatusServing, nil
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return HealthStatusNotServing, nil
	default:
		return HealthStatusUnknown, nil
	}
}

// CheckServing reports whether every named service is serving. An empty
// list probes the overall server status (service name "").
func CheckServing(ctx context.Context, conn grpc.ClientConnInterface, serviceNames []string, timeout time.Duration) (bool, error) {
	if len(serviceNames) == 0 {
		serviceNames = []string{""}
	}

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	for _, serviceName := range serviceNames {
		healthStatus, err := CheckHealth(ctx, conn, serviceName, 0)
		if err != nil {
			return false, err
		}
		if healthStatus != HealthStatusServing {
			return false, nil
		}
	}
	return true, nil
}

// ReportLoad fetches a load report with the same deadline semantics as
// CheckHealth.
func ReportLoad(ctx context.Context, conn grpc.ClientConnInterface, serviceName, scope string, timeout time.Duration) (*api.LoadReportResponse, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := api.NewLoadReportingClient(conn).ReportLoad(ctx, &api.LoadReportRequest{
		ServiceName: serviceName,
		Scope:       scope,
	})
	if err != nil {
		if status.Code(err) == codes.OutOfRange {
			return nil, errors.NewNotFoundError("service not reported by endpoint", err).WithContext("service", serviceName)
		}
		return nil, classify(ctx, err, "load report").WithContext("service", serviceName)
	}
	return resp, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func classify(ctx context.Context, err error, what string) *errors.DomainError {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return errors.NewTimeoutError(what+" timed out", err)
	}
	if stderrors.Is(ctx.Err(), context.Canceled) || status.Code(err) == codes.Canceled {
		return errors.NewCancelledError(what+" cancelled", err)
	}
	return errors.NewUnavailableError(what+" failed", err)
}
