// Package workerstest provides managed process fakes for scheduler and
// cluster tests.
package workerstest

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/atomic"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

// MockProcess is a workers.ServerProcess whose lifecycle operations are
// mocked. The monitoring flag and the startup failure counter are real so
// that tests can observe what the scheduler did with them.
type MockProcess struct {
	mock.Mock

	agentType    string
	hostName     string
	port         int
	serviceNames []string

	pid       atomic.Int64
	suspended atomic.Bool
	failures  atomic.Int32
	state     atomic.String
}

var _ workers.ServerProcess = (*MockProcess)(nil)

func NewMockProcess(agentType, hostName string, port int, serviceNames ...string) *MockProcess {
	p := &MockProcess{
		agentType:    agentType,
		hostName:     hostName,
		port:         port,
		serviceNames: serviceNames,
	}
	p.pid.Store(-1)
	p.state.Store(string(workers.ProcessStateNotStarted))
	return p
}

func (m *MockProcess) String() string {
	return fmt.Sprintf("Agent type %s, process name mock, PID: %d, Host: %s, Port: %d", m.agentType, m.Pid(), m.hostName, m.port)
}

func (m *MockProcess) AgentType() string      { return m.agentType }
func (m *MockProcess) ProcessName() string    { return "mock" }
func (m *MockProcess) Pid() int               { return int(m.pid.Load()) }
func (m *MockProcess) HostName() string       { return m.hostName }
func (m *MockProcess) Port() int              { return m.port }
func (m *MockProcess) UseTLS() bool           { return false }
func (m *MockProcess) ServiceNames() []string { return m.serviceNames }

// SetPid makes the mock report a process ID
func (m *MockProcess) SetPid(pid int) {
	m.pid.Store(int64(pid))
}

// Equals compares agent type and endpoint
func (m *MockProcess) Equals(other workers.ManagedProcess) bool {
	o, ok := other.(*MockProcess)
	return ok && o != nil && o.agentType == m.agentType && o.hostName == m.hostName && o.port == m.port
}

func (m *MockProcess) State() workers.ProcessState {
	return workers.ProcessState(m.state.Load())
}

func (m *MockProcess) MarkState(state workers.ProcessState) {
	m.state.Store(string(state))
}

func (m *MockProcess) ClusterShutdownAction() config.ShutdownAction {
	args := m.Called()
	return args.Get(0).(config.ShutdownAction)
}

func (m *MockProcess) Start(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockProcess) IsServing(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcess) TryShutdown(ctx context.Context, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcess) Kill() {
	m.Called()
}

func (m *MockProcess) OngoingRequestCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockProcess) IsDueForRecycling() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockProcess) IsKnownRunning() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockProcess) MonitoringSuspended() bool {
	return m.suspended.Load()
}

func (m *MockProcess) SetMonitoringSuspended(suspended bool) {
	m.suspended.Store(suspended)
}

func (m *MockProcess) StartupFailureCount() int {
	return int(m.failures.Load())
}

func (m *MockProcess) IncrementStartupFailureCount() int {
	return int(m.failures.Inc())
}

func (m *MockProcess) ResetStartupFailureCount() {
	m.failures.Store(0)
}

// MockDeregisterer records EnsureRemoved calls
type MockDeregisterer struct {
	mock.Mock
}

func (m *MockDeregisterer) EnsureRemoved(ctx context.Context, p workers.ManagedProcess) {
	m.Called(ctx, p)
}
