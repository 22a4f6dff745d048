package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/config"
)

// ProcessState represents the current lifecycle state of a managed process
type ProcessState string

const (
	ProcessStateNotStarted  ProcessState = "not_started"
	ProcessStateStarting    ProcessState = "starting"
	ProcessStateHealthy     ProcessState = "healthy"     // Running and serving
	ProcessStateUnhealthy   ProcessState = "unhealthy"   // Running, but reports not serving
	ProcessStateUnavailable ProcessState = "unavailable" // Not running or not reachable
	ProcessStateStopping    ProcessState = "stopping"
	ProcessStateStopped     ProcessState = "stopped"
)

// ManagedProcess is one supervised OS process.
type ManagedProcess interface {
	fmt.Stringer

	AgentType() string
	ProcessName() string
	Pid() int
	State() ProcessState
	MarkState(state ProcessState)
	ClusterShutdownAction() config.ShutdownAction
	// Equals compares static identity, not runtime state
	Equals(other ManagedProcess) bool

	// Start launches the process, waits for the startup grace period and
	// probes it once. It reports whether that probe succeeded.
	Start(ctx context.Context) bool
	IsServing(ctx context.Context) (bool, error)
	TryShutdown(ctx context.Context, timeout time.Duration) (bool, error)
	Kill()
	OngoingRequestCount(ctx context.Context) (int, error)
	IsDueForRecycling() bool
	IsKnownRunning() bool

	MonitoringSuspended() bool
	SetMonitoringSuspended(suspended bool)
	StartupFailureCount() int
	IncrementStartupFailureCount() int
	ResetStartupFailureCount()
}

// ServerProcess is a managed process that exposes network services
type ServerProcess interface {
	ManagedProcess

	HostName() string
	Port() int
	UseTLS() bool
	ServiceNames() []string
}

// AsServerProcess returns the server facet of a managed process, if it has one.
func AsServerProcess(p ManagedProcess) (ServerProcess, bool) {
	server, ok := p.(ServerProcess)
	if !ok || server.Port() < 0 {
		return nil, false
	}
	return server, true
}

// Deregisterer removes a process' services from the registry
type Deregisterer interface {
	EnsureRemoved(ctx context.Context, p ManagedProcess)
}
