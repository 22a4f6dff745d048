package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/kvstore"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/process"
	"github.com/core-tools/hsu-quaestor/pkg/processfile"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

// State represents the lifecycle of the cluster itself
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// StoreConnector opens the distributed key-value store at the given endpoints
type StoreConnector func(ctx context.Context, endpoints []string) (kvstore.Store, error)

type Cluster struct {
	registrar    *Registrar
	logger       logging.Logger
	kvsConfig    config.KeyValueStoreConfig
	connectStore StoreConnector
	orphanCount  func(processName string) (int, error)
	pidFiles     *processfile.Manager
	isRunning    func(pid int) bool

	mutex           sync.RWMutex
	settings        config.ClusterConfig
	members         []workers.ManagedProcess
	state           State
	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

func NewCluster(settings config.ClusterConfig, kvsConfig config.KeyValueStoreConfig, registry *registry.Registry, logger logging.Logger) *Cluster {
	c := &Cluster{
		registrar:   NewRegistrar(registry, logger),
		logger:      logger,
		kvsConfig:   kvsConfig,
		orphanCount: process.RunningProcessesCount,
		pidFiles:    processfile.NewManager(settings.PidDirectory, settings.Name, logger),
		isRunning:   process.IsProcessRunning,
		settings:    settings,
		state:       StateNotStarted,
	}
	c.connectStore = func(ctx context.Context, endpoints []string) (kvstore.Store, error) {
		store, err := kvstore.ConnectEtcd(ctx, kvstore.EtcdConfig{
			Endpoints:   endpoints,
			DialTimeout: kvsConfig.DialTimeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return c
}

// SetPidFiles replaces where member PID files are kept
func (c *Cluster) SetPidFiles(pidFiles *processfile.Manager) {
	c.pidFiles = pidFiles
}

// SetStoreConnector replaces how the distributed key-value store is reached
func (c *Cluster) SetStoreConnector(connect StoreConnector) {
	c.connectStore = connect
}

func (c *Cluster) Name() string {
	return c.Settings().Name
}

func (c *Cluster) Registrar() *Registrar {
	return c.registrar
}

func (c *Cluster) Settings() config.ClusterConfig {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.settings
}

func (c *Cluster) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

func (c *Cluster) Add(member workers.ManagedProcess) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.members = append(c.members, member)
}

func (c *Cluster) AddRange(members []workers.ManagedProcess) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.members = append(c.members, members...)
}

func (c *Cluster) ClearMembers() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.members = nil
}

// Members returns a snapshot copy of the member list
func (c *Cluster) Members() []workers.ManagedProcess {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	members := make([]workers.ManagedProcess, len(c.members))
	copy(members, c.members)
	return members
}

// Start warns about orphaned processes, including those recorded in PID
// files by a previous run, performs the key-value store
// handshake, starts every member that is not running yet and finally
// launches the heartbeat.
func (c *Cluster) Start(ctx context.Context) error {
	c.mutex.Lock()
	if c.state == StateRunning {
		c.mutex.Unlock()
		return errors.NewValidationError("cluster is already running", nil)
	}
	c.state = StateRunning
	c.mutex.Unlock()

	members := c.Members()
	c.logger.Infof("Starting cluster, name: %s, members: %d", c.Name(), len(members))

	c.reapPidFiles()
	c.warnAboutOrphans(members)

	var kvsMembers, others []workers.ManagedProcess
	for _, member := range members {
		if strings.EqualFold(member.AgentType(), config.AgentTypeKeyValueStore) {
			kvsMembers = append(kvsMembers, member)
		} else {
			others = append(others, member)
		}
	}

	if len(kvsMembers) > 0 {
		c.startMembers(ctx, kvsMembers)
		c.connectKeyValueStore(ctx, kvsMembers)
	}
	c.startMembers(ctx, others)

	if err := ctx.Err(); err != nil {
		return errors.NewCancelledError("cluster start cancelled", err)
	}

	heartbeat := NewHeartBeat(c.Members, c.Settings, c.registrar, c.logger)
	heartbeat.OnStarted(c.recordPid)
	heartbeatCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mutex.Lock()
	c.heartbeatCancel = cancel
	c.heartbeatDone = done
	c.mutex.Unlock()

	go func() {
		defer close(done)
		heartbeat.Run(heartbeatCtx)
	}()

	c.logger.Infof("Cluster started, name: %s", c.Name())
	return nil
}

func (c *Cluster) warnAboutOrphans(members []workers.ManagedProcess) {
	seen := make(map[string]bool)
	for _, member := range members {
		name := member.ProcessName()
		if seen[name] || member.IsKnownRunning() {
			continue
		}
		seen[name] = true

		count, err := c.orphanCount(name)
		if err != nil {
			c.logger.Debugf("Failed to count running processes, name: %s, error: %v", name, err)
			continue
		}
		if count > 0 {
			c.logger.Warnf("Found %d running process(es) named %s, possibly orphaned by a previous run", count, name)
		}
	}
}

// reapPidFiles reports processes recorded by a previous run that are still
// alive, then clears their PID files.
func (c *Cluster) reapPidFiles() {
	pids, err := c.pidFiles.List()
	if err != nil {
		c.logger.Warnf("Failed to list PID files, directory: %s, error: %v", c.pidFiles.Directory(), err)
		return
	}

	for id, pid := range pids {
		if c.isRunning(pid) {
			c.logger.Warnf("Process recorded by a previous run is still running, id: %s, PID: %d", id, pid)
		}
		if err := c.pidFiles.Remove(id); err != nil {
			c.logger.Debugf("Failed to remove PID file, id: %s, error: %v", id, err)
		}
	}
}

func (c *Cluster) recordPid(member workers.ManagedProcess) {
	pid := member.Pid()
	if pid <= 0 {
		return
	}
	if err := c.pidFiles.Write(pidFileID(member), pid); err != nil {
		c.logger.Warnf("Failed to write PID file, %s, error: %v", member, err)
	}
}

func (c *Cluster) forgetPid(member workers.ManagedProcess) {
	if err := c.pidFiles.Remove(pidFileID(member)); err != nil {
		c.logger.Debugf("Failed to remove PID file, %s, error: %v", member, err)
	}
}

func pidFileID(member workers.ManagedProcess) string {
	if server, ok := workers.AsServerProcess(member); ok {
		return fmt.Sprintf("%s-%s-%d", member.AgentType(), server.HostName(), server.Port())
	}
	return fmt.Sprintf("%s-%s", member.AgentType(), member.ProcessName())
}

// startMembers starts every member that is not running, concurrently
func (c *Cluster) startMembers(ctx context.Context, members []workers.ManagedProcess) {
	var wg sync.WaitGroup
	for _, member := range members {
		if member.IsKnownRunning() {
			continue
		}

		wg.Add(1)
		go func(member workers.ManagedProcess) {
			defer wg.Done()

			if !member.Start(ctx) {
				failures := member.IncrementStartupFailureCount()
				c.logger.Warnf("Failed to start member, startup failures: %d, %s", failures, member)
				return
			}
			member.ResetStartupFailureCount()
			c.recordPid(member)
			if err := c.registrar.Ensure(ctx, member); err != nil {
				c.logger.Warnf("Failed to register member, %s, error: %v", member, err)
			}
		}(member)
	}
	wg.Wait()
}

// connectKeyValueStore switches the registry to the distributed store once
// one of the key-value store members answers. Without an answer the local
// store stays in place.
func (c *Cluster) connectKeyValueStore(ctx context.Context, kvsMembers []workers.ManagedProcess) {
	endpoints := c.kvsConfig.Endpoints
	alive := false

	for _, member := range kvsMembers {
		probeCtx, cancel := context.WithTimeout(ctx, c.Settings().MemberResponseTimeOut())
		serving, err := member.IsServing(probeCtx)
		cancel()
		if err != nil || !serving {
			c.logger.Warnf("Key-value store member is not serving, %s, error: %v", member, err)
			continue
		}
		alive = true

		if len(c.kvsConfig.Endpoints) == 0 {
			if server, ok := workers.AsServerProcess(member); ok {
				endpoints = append(endpoints, transport.Address(server.HostName(), server.Port()))
			}
		}
	}

	if !alive || len(endpoints) == 0 {
		c.logger.Warnf("Key-value store not reachable, keeping the local store")
		return
	}

	store, err := c.connectStore(ctx, endpoints)
	if err != nil {
		c.logger.Errorf("Failed to connect key-value store, endpoints: %v, error: %v", endpoints, err)
		return
	}

	previous := c.registrar.Registry().SetStore(store)
	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.Debugf("Failed to close previous store, error: %v", err)
		}
	}
	c.logger.Infof("Registry switched to key-value store, endpoints: %v", endpoints)
}

// Shutdown stops the heartbeat, then deregisters every member and kills the
// ones configured to die with the cluster. It reports whether all of them
// are down.
func (c *Cluster) Shutdown(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.setState(StateStopping)
	c.logger.Infof("Shutting down cluster, name: %s", c.Name())

	if err := c.stopHeartbeat(ctx); err != nil {
		return false, err
	}

	allDown := true
	collection := errors.NewErrorCollection()
	for _, member := range c.Members() {
		member.SetMonitoringSuspended(true)
		c.registrar.EnsureRemoved(ctx, member)

		if member.ClusterShutdownAction() != config.ShutdownActionKill {
			c.logger.Infof("Leaving member running, %s", member)
			member.SetMonitoringSuspended(false)
			continue
		}

		member.Kill()
		member.SetMonitoringSuspended(false)
		if member.IsKnownRunning() {
			allDown = false
			collection.Add(errors.NewProcessError(fmt.Sprintf("member still running: %s", member), nil))
			continue
		}
		c.forgetPid(member)
	}

	c.setState(StateStopped)
	c.logger.Infof("Cluster stopped, name: %s, all members down: %t", c.Name(), allDown)
	return allDown, collection.ToError()
}

// Abort is the emergency path: the heartbeat is cancelled without waiting
// and every member is deregistered and killed.
func (c *Cluster) Abort() {
	c.logger.Warnf("Aborting cluster, name: %s", c.Name())

	c.mutex.Lock()
	if c.heartbeatCancel != nil {
		c.heartbeatCancel()
	}
	c.state = StateStopped
	c.mutex.Unlock()

	ctx := context.Background()
	for _, member := range c.Members() {
		member.SetMonitoringSuspended(true)
		c.registrar.EnsureRemoved(ctx, member)
		member.Kill()
		c.forgetPid(member)
	}
}

// Reload applies new timing settings and a new member list. Members equal
// to a configured one keep running; the others are deregistered and, when
// their shutdown action says so, killed. New members are picked up by the
// next heartbeat.
func (c *Cluster) Reload(ctx context.Context, settings config.ClusterConfig, configured []workers.ManagedProcess) {
	c.mutex.Lock()
	current := c.members
	next := make([]workers.ManagedProcess, 0, len(configured))
	kept := make(map[workers.ManagedProcess]bool)
	for _, member := range configured {
		existing := findEqual(current, member)
		if existing != nil && !kept[existing] {
			kept[existing] = true
			next = append(next, existing)
			continue
		}
		next = append(next, member)
	}
	c.settings = settings
	c.members = next
	c.mutex.Unlock()

	for _, member := range current {
		if kept[member] {
			continue
		}
		c.logger.Infof("Removing member no longer configured, %s", member)
		member.SetMonitoringSuspended(true)
		c.registrar.EnsureRemoved(ctx, member)
		if member.ClusterShutdownAction() == config.ShutdownActionKill {
			member.Kill()
			c.forgetPid(member)
		}
	}
	c.logger.Infof("Cluster reloaded, name: %s, members: %d, kept: %d", settings.Name, len(next), len(kept))
}

func findEqual(members []workers.ManagedProcess, target workers.ManagedProcess) workers.ManagedProcess {
	for _, member := range members {
		if member.Equals(target) {
			return member
		}
	}
	return nil
}

func (c *Cluster) stopHeartbeat(ctx context.Context) error {
	c.mutex.Lock()
	cancel, done := c.heartbeatCancel, c.heartbeatDone
	c.heartbeatCancel, c.heartbeatDone = nil, nil
	c.mutex.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("timed out waiting for heartbeat to stop", ctx.Err())
	}
}

func (c *Cluster) setState(state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
}
