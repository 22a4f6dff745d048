package loadreporting

import (
	"context"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/monitoring"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

func TestServiceLoad_Counters(t *testing.T) {
	load := NewServiceLoad(4)
	assert.Equal(t, 4, load.RequestCapacity())
	assert.Equal(t, -1.0, load.KnownLoadRate())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			load.StartRequest()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, load.CurrentRequests())

	for i := 0; i < 50; i++ {
		load.EndRequest()
	}
	assert.Equal(t, 0, load.CurrentRequests())

	var during int
	err := load.Track(func() error {
		during = load.CurrentRequests()
		return errors.NewInternalError("failed", nil)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, during)
	assert.Equal(t, 0, load.CurrentRequests())
}

func TestCPUSampler(t *testing.T) {
	cpu := []time.Duration{0, time.Second}
	start := time.Unix(1000, 0)
	clock := []time.Time{start, start.Add(2 * time.Second)}

	sampler := &CPUSampler{
		cpuTime: func() (time.Duration, error) {
			value := cpu[0]
			cpu = cpu[1:]
			return value, nil
		},
		now: func() time.Time {
			value := clock[0]
			clock = clock[1:]
			return value
		},
	}

	assert.Equal(t, -1.0, sampler.Sample())

	utilization := sampler.Sample()
	assert.InDelta(t, 0.5/float64(runtime.NumCPU()), utilization, 1e-9)
}

func TestCPUSampler_ReadFailure(t *testing.T) {
	sampler := &CPUSampler{
		cpuTime: func() (time.Duration, error) { return 0, errors.NewIOError("no rusage", nil) },
		now:     time.Now,
	}
	assert.Equal(t, -1.0, sampler.Sample())
	assert.Equal(t, -1.0, sampler.Sample())
}

func TestServer_AllowMonitoring(t *testing.T) {
	server := NewServer(logging.NewNopLogger())

	require.NoError(t, server.AllowMonitoring("Worker", NewServiceLoad(1)))
	assert.True(t, errors.IsValidationError(server.AllowMonitoring("Worker", NewServiceLoad(1))))
	assert.True(t, errors.IsValidationError(server.AllowMonitoring("", NewServiceLoad(1))))
	assert.True(t, errors.IsValidationError(server.AllowMonitoring("Other", nil)))
}

func TestServer_ReportLoad(t *testing.T) {
	server := NewServer(logging.NewNopLogger())
	load := NewServiceLoad(8)
	load.StartRequest()
	load.StartRequest()
	load.SetKnownLoadRate(0.25)
	require.NoError(t, server.AllowMonitoring("Worker", load))

	windowStart := load.ReportStart()
	response, err := server.ReportLoad(context.Background(), &api.LoadReportRequest{ServiceName: "Worker"})
	require.NoError(t, err)

	assert.Equal(t, int32(8), response.ServerStats.RequestCapacity)
	assert.Equal(t, int32(2), response.ServerStats.CurrentRequests)
	assert.Equal(t, 0.25, response.KnownLoadRate)
	assert.Equal(t, windowStart.UnixNano(), response.TimestampTicks)
	assert.False(t, load.ReportStart().Before(windowStart))
}

func TestServer_UnknownServiceIsOutOfRange(t *testing.T) {
	server := NewServer(logging.NewNopLogger())

	_, err := server.ReportLoad(context.Background(), &api.LoadReportRequest{ServiceName: "Missing"})
	assert.Equal(t, codes.OutOfRange, status.Code(err))
}

func TestServer_OverGRPC(t *testing.T) {
	server := NewServer(logging.NewNopLogger())
	require.NoError(t, server.AllowMonitoring("Worker", NewServiceLoad(3)))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcServer := grpc.NewServer()
	api.RegisterLoadReportingServer(grpcServer, server)
	go func() {
		_ = grpcServer.Serve(listener)
	}()
	defer grpcServer.Stop()

	conn, err := transport.Dial("127.0.0.1", listener.Addr().(*net.TCPAddr).Port, transport.ClientTLS{})
	require.NoError(t, err)
	defer conn.Close()

	response, err := monitoring.ReportLoad(context.Background(), conn, "Worker", "test", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int32(3), response.ServerStats.RequestCapacity)

	_, err = monitoring.ReportLoad(context.Background(), conn, "Missing", "test", 5*time.Second)
	assert.True(t, errors.IsNotFoundError(err))
}
