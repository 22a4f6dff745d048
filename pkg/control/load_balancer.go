package control

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/discovery"
	"github.com/core-tools/hsu-quaestor/pkg/kvstore"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

const loadBalancerStopTimeout = 10 * time.Second

// StoreConnector opens the distributed key-value store at the given endpoints
type StoreConnector func(ctx context.Context, endpoints []string) (kvstore.Store, error)

// ConnectEtcd is the default StoreConnector
func ConnectEtcd(dialTimeout time.Duration, logger logging.Logger) StoreConnector {
	return func(ctx context.Context, endpoints []string) (kvstore.Store, error) {
		store, err := kvstore.ConnectEtcd(ctx, kvstore.EtcdConfig{
			Endpoints:   endpoints,
			DialTimeout: dialTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// StoreEndpoints are the configured endpoints or, without any, the
// addresses of the key-value store agents with fixed ports.
func StoreEndpoints(cfg *config.QuaestorConfig) []string {
	if len(cfg.KeyValueStore.Endpoints) > 0 {
		return cfg.KeyValueStore.Endpoints
	}

	var endpoints []string
	for _, agent := range cfg.AgentsOfType(config.AgentTypeKeyValueStore) {
		for _, port := range agent.Ports {
			endpoints = append(endpoints, transport.Address(agent.HostName, port))
		}
	}
	return endpoints
}

// NewLoadBalancerRegistry uses the distributed store when it can be reached.
// Otherwise the registry is local and seeded with the worker agents of the
// configuration.
func NewLoadBalancerRegistry(ctx context.Context, cfg *config.QuaestorConfig, connect StoreConnector, logger logging.Logger) *registry.Registry {
	start := time.Now()
	registryLogger := logging.WithPrefix(logger, "registry")

	if endpoints := StoreEndpoints(cfg); len(endpoints) > 0 {
		store, err := connect(ctx, endpoints)
		if err == nil {
			logger.Infof("Connected to distributed key-value store in %v, endpoints: %v", time.Since(start), endpoints)
			return registry.NewRegistry(cfg.Cluster.Name, store, registryLogger)
		}
		logger.Warnf("Unable to connect to distributed key-value store, endpoints: %v, error: %v", endpoints, err)
	}

	logger.Warnf("Using Worker agents from configuration")
	reg := registry.NewRegistry(cfg.Cluster.Name, kvstore.NewLocalStore(), registryLogger)
	SeedRegistry(ctx, reg, cfg.AgentsOfType(config.AgentTypeWorker), logger)
	return reg
}

// SeedRegistry registers every fixed port of the agents under each of
// their service names. Agents with ephemeral ports cannot be seeded.
func SeedRegistry(ctx context.Context, reg *registry.Registry, agents []*config.AgentConfig, logger logging.Logger) {
	endpoints := 0
	for _, agent := range agents {
		logger.Infof("%s: %d processes, executable: %s", agent.AgentType, agent.ProcessCount, agent.ExecutablePath)

		if len(agent.Ports) == 0 {
			logger.Warnf("Agent %s has no ports defined (using ephemeral ports), services are not added to the registry", agent.AgentType)
			continue
		}

		for _, port := range agent.Ports {
			for _, serviceName := range agent.ServiceNames {
				if err := reg.Ensure(ctx, serviceName, agent.HostName, port, agent.UseTLS); err != nil {
					logger.Warnf("Failed to seed registry, service: %s, port: %d, error: %v", serviceName, port, err)
					continue
				}
				endpoints++
			}
		}
	}
	logger.Infof("Service registry contains %d endpoint(s)", endpoints)
}

// LoadBalancer serves discovery requests for one cluster
type LoadBalancer struct {
	server   *Server
	service  *discovery.Service
	channels *transport.ChannelCache
	registry *registry.Registry
	logger   logging.Logger
}

func NewLoadBalancer(cfg config.LoadBalancerConfig, reg *registry.Registry, logger logging.Logger) (*LoadBalancer, error) {
	server, err := NewServer(ServerOptions{
		HostName: cfg.HostName,
		Port:     cfg.Port,
		TLS: transport.ServerTLS{
			Certificate:      cfg.Certificate,
			PrivateKeyFile:   cfg.PrivateKeyFile,
			ClientCA:         cfg.ClientCA,
			EnforceMutualTLS: cfg.EnforceMutualTLS,
		},
	}, logging.WithPrefix(logger, "server"))
	if err != nil {
		return nil, err
	}

	channels := transport.NewChannelCache()
	evaluator := discovery.NewEvaluator(channels, transport.ClientTLS{}, cfg.IgnoreServerCPU, logging.WithPrefix(logger, "evaluator"))
	service := discovery.NewService(reg, evaluator, server.Health(), discovery.ServiceConfig{
		ResponseTimeout:     cfg.ServiceResponseTimeout(),
		RecentlyUsedTimeout: cfg.RecentlyUsedTimeout(),
	}, logging.WithPrefix(logger, "discovery"))

	RegisterGRPCDiscoveryHandler(server.GRPC(), service, logger)
	service.SetServing(true)

	return &LoadBalancer{
		server:   server,
		service:  service,
		channels: channels,
		registry: reg,
		logger:   logger,
	}, nil
}

func (lb *LoadBalancer) Start() error {
	return lb.server.Start()
}

func (lb *LoadBalancer) Port() int {
	return lb.server.Port()
}

func (lb *LoadBalancer) Stop(ctx context.Context) {
	lb.server.Stop(ctx)
	if err := lb.channels.Close(); err != nil {
		lb.logger.Debugf("Failed to close worker channels, error: %v", err)
	}
	if err := lb.registry.Store().Close(); err != nil {
		lb.logger.Debugf("Failed to close key-value store, error: %v", err)
	}
}

// RunLoadBalancer serves discovery until a termination signal arrives or
// the run duration, when positive, elapses.
func RunLoadBalancer(cfg *config.QuaestorConfig, runDuration time.Duration, logger logging.Logger) error {
	logger.Infof("Load balancer starting, cluster: %s", cfg.Cluster.Name)

	ctx := context.Background()
	if runDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", runDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.KeyValueStore.DialTimeout())
	reg := NewLoadBalancerRegistry(connectCtx, cfg, ConnectEtcd(cfg.KeyValueStore.DialTimeout(), logger), logger)
	cancel()

	lb, err := NewLoadBalancer(cfg.LoadBalancer, reg, logger)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	if err := lb.Start(); err != nil {
		return err
	}

	select {
	case receivedSignal := <-sig:
		logger.Infof("Load balancer received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Load balancer timed out")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), loadBalancerStopTimeout)
	defer stopCancel()
	lb.Stop(stopCtx)

	logger.Infof("Load balancer stopped")
	return nil
}
