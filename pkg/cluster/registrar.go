package cluster

import (
	"context"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

// Registrar keeps the registry in line with the lifecycle of server
// processes. Processes without a network endpoint are ignored.
type Registrar struct {
	registry *registry.Registry
	logger   logging.Logger
}

func NewRegistrar(registry *registry.Registry, logger logging.Logger) *Registrar {
	return &Registrar{
		registry: registry,
		logger:   logger,
	}
}

func (r *Registrar) Registry() *registry.Registry {
	return r.registry
}

// Ensure registers every service of the process. It is idempotent.
func (r *Registrar) Ensure(ctx context.Context, p workers.ManagedProcess) error {
	server, ok := workers.AsServerProcess(p)
	if !ok {
		return nil
	}

	collection := errors.NewErrorCollection()
	for _, serviceName := range registeredNames(server) {
		collection.Add(r.registry.Ensure(ctx, serviceName, server.HostName(), server.Port(), server.UseTLS()))
	}
	return collection.ToError()
}

// EnsureRemoved deregisters every service of the process
func (r *Registrar) EnsureRemoved(ctx context.Context, p workers.ManagedProcess) {
	server, ok := workers.AsServerProcess(p)
	if !ok {
		return
	}
	for _, serviceName := range registeredNames(server) {
		r.registry.EnsureRemoved(ctx, serviceName, server.HostName(), server.Port(), server.UseTLS())
	}
}

// A process that names no services is registered under its agent type
func registeredNames(server workers.ServerProcess) []string {
	if names := server.ServiceNames(); len(names) > 0 {
		return names
	}
	return []string{server.AgentType()}
}
