package registry

import (
	"context"
	"net"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/kvstore"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// Registry maps service names to the endpoints currently serving them,
// within one scope (usually the cluster name). The backing store can be
// swapped at runtime, e.g. once a distributed store becomes reachable.
type Registry struct {
	scope  string
	logger logging.Logger

	mutex sync.RWMutex
	store kvstore.Store
}

func NewRegistry(scope string, store kvstore.Store, logger logging.Logger) *Registry {
	return &Registry{
		scope:  scope,
		store:  store,
		logger: logger,
	}
}

func (r *Registry) Scope() string {
	return r.scope
}

func (r *Registry) Store() kvstore.Store {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.store
}

// SetStore replaces the backing store and returns the previous one.
func (r *Registry) SetStore(store kvstore.Store) kvstore.Store {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.store
	r.store = store
	r.logger.Infof("Registry store replaced, scope: %s, local: %t", r.scope, store.IsLocal())
	return previous
}

func (r *Registry) location(serviceName, hostName string, port int, useTLS bool) ServiceLocation {
	return ServiceLocation{
		ServiceName: serviceName,
		HostName:    hostName,
		Port:        port,
		UseTLS:      useTLS,
		Scope:       r.scope,
	}
}

// Ensure registers the endpoint unless it is already present.
func (r *Registry) Ensure(ctx context.Context, serviceName, hostName string, port int, useTLS bool) error {
	location := r.location(serviceName, hostName, port, useTLS)
	key := location.Key()
	store := r.Store()

	existing, err := store.GetValue(ctx, key)
	if err != nil {
		return errors.NewRegistryError("failed to read service key", err).WithContext("key", key)
	}
	if existing != "" {
		return nil
	}

	if err := store.Put(ctx, key, net.JoinHostPort(location.HostName, strconv.Itoa(location.Port))); err != nil {
		return errors.NewRegistryError("failed to register service", err).WithContext("key", key)
	}
	r.logger.Debugf("Registered service, location: %s", location)
	return nil
}

// EnsureRemoved deletes the endpoint. Failures are logged, never returned.
func (r *Registry) EnsureRemoved(ctx context.Context, serviceName, hostName string, port int, useTLS bool) {
	location := r.location(serviceName, hostName, port, useTLS)
	if err := r.Store().Delete(ctx, location.Key()); err != nil {
		r.logger.Warnf("Failed to remove service, location: %s, error: %v", location, err)
		return
	}
	r.logger.Debugf("Removed service, location: %s", location)
}

// Remove deletes a previously discovered location.
func (r *Registry) Remove(ctx context.Context, location ServiceLocation) {
	if err := r.Store().Delete(ctx, location.Key()); err != nil {
		r.logger.Warnf("Failed to remove service, location: %s, error: %v", location, err)
	}
}

// GetServiceLocations lists the registered endpoints of a service in key
// order. Keys that do not parse are skipped with a warning.
func (r *Registry) GetServiceLocations(ctx context.Context, serviceName string) ([]ServiceLocation, error) {
	prefix := ServicePrefix(r.scope, serviceName)

	entries, err := r.Store().GetRange(ctx, prefix)
	if err != nil {
		return nil, errors.NewRegistryError("failed to read service locations", err).WithContext("prefix", prefix)
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	locations := make([]ServiceLocation, 0, len(keys))
	for _, key := range keys {
		location, err := ParseKey(key)
		if err != nil {
			r.logger.Warnf("Skipping registry entry, key: %s, error: %v", key, err)
			continue
		}
		locations = append(locations, location)
	}
	return locations, nil
}
