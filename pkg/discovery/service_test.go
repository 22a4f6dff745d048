package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/core-tools/hsu-quaestor/pkg/api"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/kvstore"
	"github.com/core-tools/hsu-quaestor/pkg/loadreporting"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

const testServiceName = "Worker"

type testWorker struct {
	health *health.Server
	load   *loadreporting.ServiceLoad
}

// testFleet runs workers on loopback listeners. Registered host names are
// routed to the real listener ports by the channel dialer, so several
// hosts can be simulated on one machine.
type testFleet struct {
	t        *testing.T
	registry *registry.Registry

	mutex  sync.Mutex
	routes map[string]int
}

func newTestFleet(t *testing.T) *testFleet {
	return &testFleet{
		t:        t,
		registry: registry.NewRegistry("test", kvstore.NewLocalStore(), logging.NewNopLogger()),
		routes:   make(map[string]int),
	}
}

func (f *testFleet) add(host string, port int, capacity int) *testWorker {
	f.t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(f.t, err)

	worker := &testWorker{
		health: health.NewServer(),
		load:   loadreporting.NewServiceLoad(capacity),
	}
	worker.health.SetServingStatus(testServiceName, healthpb.HealthCheckResponse_SERVING)

	reporter := loadreporting.NewServer(logging.NewNopLogger())
	require.NoError(f.t, reporter.AllowMonitoring(testServiceName, worker.load))

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, worker.health)
	api.RegisterLoadReportingServer(server, reporter)
	go func() {
		_ = server.Serve(listener)
	}()
	f.t.Cleanup(server.Stop)

	f.route(host, port, listener.Addr().(*net.TCPAddr).Port)
	return worker
}

// addUnreachable registers a location nobody listens on
func (f *testFleet) addUnreachable(host string, port int) {
	f.t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(f.t, err)
	closedPort := listener.Addr().(*net.TCPAddr).Port
	require.NoError(f.t, listener.Close())

	f.route(host, port, closedPort)
}

func (f *testFleet) route(host string, port, realPort int) {
	f.mutex.Lock()
	f.routes[transport.Address(host, port)] = realPort
	f.mutex.Unlock()

	require.NoError(f.t, f.registry.Ensure(context.Background(), testServiceName, host, port, false))
}

func (f *testFleet) dial(host string, port int, cfg transport.ClientTLS) (*grpc.ClientConn, error) {
	f.mutex.Lock()
	realPort, ok := f.routes[transport.Address(host, port)]
	f.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("no route to %s", transport.Address(host, port))
	}
	return transport.Dial("127.0.0.1", realPort, cfg)
}

func (f *testFleet) service(recentlyUsed time.Duration) (*Service, *health.Server) {
	channels := transport.NewChannelCacheWithDialer(f.dial)
	f.t.Cleanup(func() { _ = channels.Close() })

	evaluator := NewEvaluator(channels, transport.ClientTLS{}, false, logging.NewNopLogger())
	healthServer := health.NewServer()
	service := NewService(f.registry, evaluator, healthServer, ServiceConfig{
		ResponseTimeout:     2 * time.Second,
		RecentlyUsedTimeout: recentlyUsed,
	}, logging.NewNopLogger())
	service.SetServing(true)
	return service, healthServer
}

func endpoints(services []*QualifiedService) []string {
	result := make([]string, 0, len(services))
	for _, service := range services {
		result = append(result, transport.Address(service.Location.HostName, service.Location.Port))
	}
	return result
}

func responseEndpoints(response *api.DiscoverServicesResponse) []string {
	result := make([]string, 0, len(response.ServiceLocations))
	for _, location := range response.ServiceLocations {
		result = append(result, transport.Address(location.HostName, int(location.Port)))
	}
	return result
}

func discoveryServing(t *testing.T, healthServer *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	response, err := healthServer.Check(context.Background(), &healthpb.HealthCheckRequest{Service: api.ServiceDiscoveryServiceName})
	require.NoError(t, err)
	return response.Status
}

func request(maxCount int32) *api.DiscoverServicesRequest {
	return &api.DiscoverServicesRequest{ServiceName: testServiceName, MaxCount: maxCount}
}

func TestDiscoverServices_ReturnsDistinctHealthyLocations(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4)
	fleet.add("localhost", 9002, 4)
	fleet.add("localhost", 9003, 4)
	service, _ := fleet.service(5 * time.Second)

	response, err := service.DiscoverServices(context.Background(), request(2))
	require.NoError(t, err)

	found := responseEndpoints(response)
	assert.Len(t, found, 2)
	assert.NotEqual(t, found[0], found[1])
	for _, location := range response.ServiceLocations {
		assert.Equal(t, "test", location.Scope)
		assert.Equal(t, testServiceName, location.ServiceName)
	}

	response, err = service.DiscoverServices(context.Background(), request(0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"localhost:9001", "localhost:9002", "localhost:9003"}, responseEndpoints(response))
}

func TestDiscoverServices_Shuffles(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4)
	fleet.add("localhost", 9002, 4)
	fleet.add("localhost", 9003, 4)
	service, _ := fleet.service(5 * time.Second)

	seen := make(map[string]int)
	for i := 0; i < 100; i++ {
		response, err := service.DiscoverServices(context.Background(), request(1))
		require.NoError(t, err)
		require.Len(t, response.ServiceLocations, 1)
		seen[responseEndpoints(response)[0]]++
	}
	assert.Len(t, seen, 3)
}

func TestDiscoverServices_SkipsUnhealthy(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4)
	sick := fleet.add("localhost", 9002, 4)
	sick.health.SetServingStatus(testServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	service, _ := fleet.service(5 * time.Second)

	for i := 0; i < 10; i++ {
		response, err := service.DiscoverServices(context.Background(), request(0))
		require.NoError(t, err)
		assert.Equal(t, []string{"localhost:9001"}, responseEndpoints(response))
	}

	locations, err := fleet.registry.GetServiceLocations(context.Background(), testServiceName)
	require.NoError(t, err)
	assert.Len(t, locations, 2, "a local registry keeps unhealthy locations")
}

func TestDiscoverServices_RemovesUnhealthyFromSharedRegistry(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4)
	sick := fleet.add("localhost", 9002, 4)
	sick.health.SetServingStatus(testServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	service, _ := fleet.service(5 * time.Second)
	service.removeUnhealthy = func() bool { return true }

	_, err := service.DiscoverServices(context.Background(), request(0))
	require.NoError(t, err)

	locations, err := fleet.registry.GetServiceLocations(context.Background(), testServiceName)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, 9001, locations[0].Port)
}

func TestDiscoverServices_NothingRegistered(t *testing.T) {
	service, healthServer := newTestFleet(t).service(5 * time.Second)

	response, err := service.DiscoverServices(context.Background(), request(1))
	require.NoError(t, err)
	assert.Empty(t, response.ServiceLocations)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, discoveryServing(t, healthServer))
}

func TestDiscover_InvalidRequest(t *testing.T) {
	service, _ := newTestFleet(t).service(5 * time.Second)

	_, err := service.DiscoverServices(context.Background(), &api.DiscoverServicesRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = service.DiscoverTopServices(context.Background(), &api.DiscoverServicesRequest{ServiceName: testServiceName, MaxCount: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// unreadableStore fails every read, as an unreachable etcd cluster would
type unreadableStore struct {
	*kvstore.LocalStore
}

func (unreadableStore) GetRange(context.Context, string) (map[string]string, error) {
	return nil, fmt.Errorf("etcdserver: request timed out")
}

func TestDiscover_RegistryUnreadable(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.registry = registry.NewRegistry("test", unreadableStore{kvstore.NewLocalStore()}, logging.NewNopLogger())
	service, healthServer := fleet.service(5 * time.Second)

	_, err := service.DiscoverServices(context.Background(), request(1))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "failed to fetch candidates")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, discoveryServing(t, healthServer))

	_, err = service.selectServices(context.Background(), request(1), service.healthOnly)
	assert.True(t, errors.IsDiscoveryError(err))
}

func TestDiscoverServices_TotalOutage(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.addUnreachable("localhost", 9001)
	fleet.addUnreachable("localhost", 9002)
	service, healthServer := fleet.service(5 * time.Second)

	_, err := service.DiscoverServices(context.Background(), request(1))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, discoveryServing(t, healthServer))
}

func TestDiscoverTopServices_PrefersIdleHost(t *testing.T) {
	fleet := newTestFleet(t)
	for _, port := range []int{9001, 9002, 9003} {
		busy := fleet.add("host-b", port, 4)
		busy.load.StartRequest()
		busy.load.StartRequest()
	}
	for _, port := range []int{9001, 9002, 9003} {
		fleet.add("host-a", port, 4)
	}
	service, _ := fleet.service(5 * time.Second)

	response, err := service.DiscoverTopServices(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"host-a:9001", "host-a:9002", "host-a:9003",
		"host-b:9001", "host-b:9002", "host-b:9003",
	}, responseEndpoints(response))
}

func TestDiscoverTopServices_TieBreakIsStable(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("host-b", 9001, 4)
	fleet.add("host-a", 9002, 4)
	fleet.add("host-a", 9001, 4)
	service, _ := fleet.service(5 * time.Second)

	for i := 0; i < 5; i++ {
		response, err := service.DiscoverTopServices(context.Background(), request(0))
		require.NoError(t, err)
		assert.Equal(t, []string{"host-a:9001", "host-a:9002", "host-b:9001"}, responseEndpoints(response))
	}
}

func TestDiscoverTopServices_RecentlyUsedRotation(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4)
	fleet.add("localhost", 9002, 4)
	service, _ := fleet.service(300 * time.Millisecond)

	first, err := service.DiscoverTopServices(context.Background(), request(1))
	require.NoError(t, err)
	second, err := service.DiscoverTopServices(context.Background(), request(1))
	require.NoError(t, err)

	assert.Equal(t, []string{"localhost:9001"}, responseEndpoints(first))
	assert.Equal(t, []string{"localhost:9002"}, responseEndpoints(second))

	time.Sleep(400 * time.Millisecond)

	third, err := service.DiscoverTopServices(context.Background(), request(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9001"}, responseEndpoints(third))
}

func TestDiscoverTopServices_ExcludesZeroCapacity(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 0)
	fleet.add("localhost", 9002, 4)
	service, _ := fleet.service(5 * time.Second)

	response, err := service.DiscoverTopServices(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9002"}, responseEndpoints(response))
}

func TestDiscoverTopServices_KnownLoadRate(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.add("localhost", 9001, 4).load.SetKnownLoadRate(0.9)
	fleet.add("localhost", 9002, 4).load.SetKnownLoadRate(0.1)
	service, _ := fleet.service(5 * time.Second)

	response, err := service.DiscoverTopServices(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9002", "localhost:9001"}, responseEndpoints(response))
}

func TestDiscoverTopServices_NoneServing(t *testing.T) {
	fleet := newTestFleet(t)
	sick := fleet.add("localhost", 9001, 4)
	sick.health.SetServingStatus(testServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	service, healthServer := fleet.service(5 * time.Second)

	response, err := service.DiscoverTopServices(context.Background(), request(1))
	require.NoError(t, err)
	assert.Empty(t, response.ServiceLocations)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, discoveryServing(t, healthServer))
}

func TestDiscoverTopServices_TotalOutage(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.addUnreachable("localhost", 9001)
	fleet.addUnreachable("localhost", 9002)
	service, healthServer := fleet.service(5 * time.Second)

	_, err := service.DiscoverTopServices(context.Background(), request(1))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, discoveryServing(t, healthServer))
	assert.Error(t, service.evaluator.LastError())
}

func TestDiscoverTopServices_PartialOutageStillAnswers(t *testing.T) {
	fleet := newTestFleet(t)
	fleet.addUnreachable("localhost", 9001)
	fleet.add("localhost", 9002, 4)
	service, healthServer := fleet.service(5 * time.Second)

	response, err := service.DiscoverTopServices(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9002"}, responseEndpoints(response))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, discoveryServing(t, healthServer))
}
