package monitoring

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
)

type slowLoadReporter struct {
	delay time.Duration
}

func (s *slowLoadReporter) ReportLoad(ctx context.Context, req *api.LoadReportRequest) (*api.LoadReportResponse, error) {
	if req.ServiceName != "Worker" {
		return nil, status.Error(codes.OutOfRange, "unknown service")
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &api.LoadReportResponse{
		ServerStats:   &api.ServerStats{RequestCapacity: 3, CurrentRequests: 1},
		KnownLoadRate: -1,
	}, nil
}

func startWorker(t *testing.T, loadDelay time.Duration) (*grpc.ClientConn, *health.Server) {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	api.RegisterLoadReportingServer(server, &slowLoadReporter{delay: loadDelay})
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, healthServer
}

func TestCheckHealth(t *testing.T) {
	conn, healthServer := startWorker(t, 0)
	healthServer.SetServingStatus("Worker", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("Reports", healthpb.HealthCheckResponse_NOT_SERVING)

	tests := []struct {
		name        string
		serviceName string
		expected    HealthStatus
	}{
		{name: "overall server", serviceName: "", expected: HealthStatusServing},
		{name: "serving service", serviceName: "Worker", expected: HealthStatusServing},
		{name: "not serving service", serviceName: "Reports", expected: HealthStatusNotServing},
		{name: "unknown service", serviceName: "Missing", expected: HealthStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthStatus, err := CheckHealth(context.Background(), conn, tt.serviceName, time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, healthStatus)
		})
	}
}

func TestCheckServing_RequiresAllServices(t *testing.T) {
	conn, healthServer := startWorker(t, 0)
	healthServer.SetServingStatus("Worker", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("Reports", healthpb.HealthCheckResponse_NOT_SERVING)

	serving, err := CheckServing(context.Background(), conn, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, serving)

	serving, err = CheckServing(context.Background(), conn, []string{"Worker"}, time.Second)
	require.NoError(t, err)
	assert.True(t, serving)

	serving, err = CheckServing(context.Background(), conn, []string{"Worker", "Reports"}, time.Second)
	require.NoError(t, err)
	assert.False(t, serving)
}

func TestCheckHealth_UnreachableEndpoint(t *testing.T) {
	conn, err := grpc.Dial("127.0.0.1:1", grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = CheckHealth(context.Background(), conn, "", 2*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsUnavailableError(err) || errors.IsTimeoutError(err))
}

func TestReportLoad(t *testing.T) {
	conn, _ := startWorker(t, 0)

	report, err := ReportLoad(context.Background(), conn, "Worker", "demo", time.Second)
	require.NoError(t, err)
	require.NotNil(t, report.ServerStats)
	assert.Equal(t, int32(1), report.ServerStats.CurrentRequests)

	_, err = ReportLoad(context.Background(), conn, "Other", "demo", time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReportLoad_Timeout(t *testing.T) {
	conn, _ := startWorker(t, 2*time.Second)

	start := time.Now()
	_, err := ReportLoad(context.Background(), conn, "Worker", "demo", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.Less(t, time.Since(start), time.Second)
}
