package api

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type staticLoadReporter struct {
	loads map[string]*LoadReportResponse
}

func (s *staticLoadReporter) ReportLoad(_ context.Context, req *LoadReportRequest) (*LoadReportResponse, error) {
	resp, ok := s.loads[req.ServiceName]
	if !ok {
		return nil, status.Errorf(codes.OutOfRange, "unknown service %s", req.ServiceName)
	}
	return resp, nil
}

type recordingDiscovery struct {
	lastRequest *DiscoverServicesRequest
}

func (d *recordingDiscovery) DiscoverServices(_ context.Context, req *DiscoverServicesRequest) (*DiscoverServicesResponse, error) {
	d.lastRequest = req
	return &DiscoverServicesResponse{
		ServiceLocations: []*ServiceLocationMsg{{Scope: "demo", ServiceName: req.ServiceName, HostName: "localhost", Port: 9001}},
	}, nil
}

func (d *recordingDiscovery) DiscoverTopServices(ctx context.Context, req *DiscoverServicesRequest) (*DiscoverServicesResponse, error) {
	return d.DiscoverServices(ctx, req)
}

func startBufServer(t *testing.T, register func(s *grpc.Server)) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	register(server)
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
	return conn
}

func TestCodec_PlainStruct(t *testing.T) {
	in := &LoadReportResponse{
		ServerStats:    &ServerStats{RequestCapacity: 3, CurrentRequests: 1, ServerUtilization: 0.25},
		KnownLoadRate:  -1,
		TimestampTicks: 42,
	}

	data, err := Marshal(in)
	require.NoError(t, err)

	out := new(LoadReportResponse)
	require.NoError(t, Unmarshal(data, out))
	assert.Equal(t, in, out)
}

func TestCodec_ProtobufPassThrough(t *testing.T) {
	data, err := Marshal(&healthpb.HealthCheckRequest{Service: "Worker"})
	require.NoError(t, err)

	out := new(healthpb.HealthCheckRequest)
	require.NoError(t, Unmarshal(data, out))
	assert.Equal(t, "Worker", out.GetService())
}

func TestLoadReporting_RoundTrip(t *testing.T) {
	reporter := &staticLoadReporter{loads: map[string]*LoadReportResponse{
		"Worker": {ServerStats: &ServerStats{RequestCapacity: 3, CurrentRequests: 2}, KnownLoadRate: -1},
	}}
	conn := startBufServer(t, func(s *grpc.Server) { RegisterLoadReportingServer(s, reporter) })
	client := NewLoadReportingClient(conn)

	resp, err := client.ReportLoad(context.Background(), &LoadReportRequest{ServiceName: "Worker"})
	require.NoError(t, err)
	require.NotNil(t, resp.ServerStats)
	assert.Equal(t, int32(3), resp.ServerStats.RequestCapacity)
	assert.Equal(t, int32(2), resp.ServerStats.CurrentRequests)

	_, err = client.ReportLoad(context.Background(), &LoadReportRequest{ServiceName: "Unknown"})
	require.Error(t, err)
	assert.Equal(t, codes.OutOfRange, status.Code(err))
}

func TestServiceDiscovery_RoundTrip(t *testing.T) {
	discovery := &recordingDiscovery{}
	conn := startBufServer(t, func(s *grpc.Server) { RegisterServiceDiscoveryServer(s, discovery) })
	client := NewServiceDiscoveryClient(conn)

	resp, err := client.DiscoverTopServices(context.Background(), &DiscoverServicesRequest{ServiceName: "Worker", MaxCount: 2})
	require.NoError(t, err)
	require.Len(t, resp.ServiceLocations, 1)
	assert.Equal(t, int32(9001), resp.ServiceLocations[0].Port)
	assert.Equal(t, int32(2), discovery.lastRequest.MaxCount)
}
