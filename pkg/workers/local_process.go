package workers

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"google.golang.org/grpc"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/monitoring"
	"github.com/core-tools/hsu-quaestor/pkg/process"
	"github.com/core-tools/hsu-quaestor/pkg/transport"
)

// AssumeHealthyEnvVar turns every health probe into a liveness check
const AssumeHealthyEnvVar = "QUAESTOR_ASSUME_PROCESS_ALWAYS_HEALTHY"

const (
	DefaultStartupWait = 8 * time.Second
	// Bounds the single probe made at the end of Start
	startupProbeTimeout = 10 * time.Second
	killWaitTimeout     = 5 * time.Second
)

// LocalProcessConfig holds the static description of one local process
type LocalProcessConfig struct {
	AgentType              string
	ExecutablePath         string
	CommandLineArguments   string
	EnvironmentVariables   map[string]string
	WorkingDirectory       string
	HostName               string
	Port                   int                   // Negative means ephemeral
	UseTLS                 bool
	ClientCertificate      string
	ClientKey              string
	ServiceNames           []string
	PrioritizeAvailability bool
	RecyclingInterval      time.Duration         // Zero disables recycling
	ClusterShutdownAction  config.ShutdownAction
	StartupWait            time.Duration
}

type dialFunc func(host string, port int, cfg transport.ClientTLS) (*grpc.ClientConn, error)

// LocalProcess is a ManagedProcess running on this host.
type LocalProcess struct {
	config LocalProcessConfig
	logger logging.Logger
	dial   dialFunc

	monitoringSuspended atomic.Bool
	startupFailures     atomic.Int32

	// Mutex to protect the runtime fields below
	mutex     sync.RWMutex
	handle    *process.Handle
	port      int
	state     ProcessState
	startTime time.Time
	conn      *grpc.ClientConn
}

func NewLocalProcess(cfg LocalProcessConfig, logger logging.Logger) *LocalProcess {
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = DefaultStartupWait
	}
	if cfg.ClusterShutdownAction == "" {
		cfg.ClusterShutdownAction = config.ShutdownActionKill
	}
	return &LocalProcess{
		config: cfg,
		logger: logger,
		dial: func(host string, port int, tls transport.ClientTLS) (*grpc.ClientConn, error) {
			return transport.Dial(host, port, tls)
		},
		port:  cfg.Port,
		state: ProcessStateNotStarted,
	}
}

// NewLocalProcesses builds one process per configured port of an agent.
// Each process gets its own recycling interval, jittered by ±10% so that
// members of one agent type do not recycle in lockstep.
func NewLocalProcesses(agent *config.AgentConfig, logger logging.Logger) []*LocalProcess {
	ports := agent.GetPorts()
	processes := make([]*LocalProcess, 0, len(ports))
	for _, port := range ports {
		processes = append(processes, NewLocalProcess(LocalProcessConfig{
			AgentType:              agent.AgentType,
			ExecutablePath:         agent.ExecutablePath,
			CommandLineArguments:   agent.CommandLineArguments,
			EnvironmentVariables:   agent.EnvironmentVariables,
			WorkingDirectory:       agent.WorkingDirectory,
			HostName:               agent.HostName,
			Port:                   port,
			UseTLS:                 agent.UseTLS,
			ClientCertificate:      agent.ClientCertificate,
			ClientKey:              agent.ClientKey,
			ServiceNames:           agent.ServiceNames,
			PrioritizeAvailability: agent.PrioritizeAvailability,
			RecyclingInterval:      JitterRecyclingInterval(agent.RecyclingIntervalHours),
			ClusterShutdownAction:  agent.ClusterShutdownAction,
			StartupWait:            agent.StartupWait(),
		}, logger))
	}
	return processes
}

// JitterRecyclingInterval converts hours into a duration randomized by ±10%.
func JitterRecyclingInterval(hours float64) time.Duration {
	if hours <= 0 {
		return 0
	}
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(hours * factor * float64(time.Hour))
}

func (p *LocalProcess) AgentType() string {
	return p.config.AgentType
}

func (p *LocalProcess) ProcessName() string {
	return process.ProcessName(p.config.ExecutablePath)
}

func (p *LocalProcess) ExecutablePath() string {
	return p.config.ExecutablePath
}

func (p *LocalProcess) HostName() string {
	return p.config.HostName
}

func (p *LocalProcess) Port() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.port
}

func (p *LocalProcess) UseTLS() bool {
	return p.config.UseTLS
}

func (p *LocalProcess) ServiceNames() []string {
	return p.config.ServiceNames
}

func (p *LocalProcess) ClusterShutdownAction() config.ShutdownAction {
	return p.config.ClusterShutdownAction
}

func (p *LocalProcess) RecyclingInterval() time.Duration {
	return p.config.RecyclingInterval
}

func (p *LocalProcess) Pid() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.handle == nil {
		return -1
	}
	return p.handle.Pid()
}

func (p *LocalProcess) StartTime() time.Time {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.startTime
}

func (p *LocalProcess) State() ProcessState {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.state
}

func (p *LocalProcess) MarkState(state ProcessState) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state = state
}

func (p *LocalProcess) MonitoringSuspended() bool {
	return p.monitoringSuspended.Load()
}

func (p *LocalProcess) SetMonitoringSuspended(suspended bool) {
	p.monitoringSuspended.Store(suspended)
}

func (p *LocalProcess) StartupFailureCount() int {
	return int(p.startupFailures.Load())
}

func (p *LocalProcess) IncrementStartupFailureCount() int {
	return int(p.startupFailures.Inc())
}

func (p *LocalProcess) ResetStartupFailureCount() {
	p.startupFailures.Store(0)
}

// IsKnownRunning reports whether a launched OS process has not exited yet
func (p *LocalProcess) IsKnownRunning() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.handle != nil && !p.handle.HasExited()
}

func (p *LocalProcess) Start(ctx context.Context) bool {
	p.SetMonitoringSuspended(true)
	defer p.SetMonitoringSuspended(false)

	p.logger.Infof("Starting process, %s", p)

	if err := p.launch(); err != nil {
		p.logger.Errorf("Failed to start process, %s, error: %v", p, err)
		p.MarkState(ProcessStateUnavailable)
		return false
	}

	timer := time.NewTimer(p.config.StartupWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		p.logger.Warnf("Startup wait cancelled, %s", p)
		p.MarkState(ProcessStateUnavailable)
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()

	serving, err := p.IsServing(probeCtx)
	if err != nil {
		p.logger.Errorf("Startup health check failed, %s, error: %v", p, err)
		p.MarkState(ProcessStateUnavailable)
		return false
	}
	if !serving {
		p.logger.Warnf("Process is not serving after startup, %s", p)
		p.MarkState(ProcessStateUnhealthy)
		return false
	}

	p.MarkState(ProcessStateHealthy)
	p.logger.Infof("Process started, %s", p)
	return true
}

func (p *LocalProcess) launch() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.state = ProcessStateStarting

	if p.handle != nil && !p.handle.HasExited() {
		p.logger.Warnf("Killing stale process before start, PID: %d", p.handle.Pid())
		if err := p.handle.Kill(); err != nil {
			p.logger.Warnf("Failed to kill stale process, PID: %d, error: %v", p.handle.Pid(), err)
		}
		p.handle.WaitForExit(killWaitTimeout)
	}

	if p.port < 0 {
		port, err := transport.GetFreeTCPPort()
		if err != nil {
			return err
		}
		p.port = port
		p.closeConnLocked()
	}

	commandLine := process.SubstitutePlaceholders(p.config.CommandLineArguments, p.config.HostName, p.port)
	handle, err := process.Execute(process.ExecutionConfig{
		ExecutablePath:   p.config.ExecutablePath,
		Args:             process.SplitCommandLine(commandLine),
		Environment:      p.config.EnvironmentVariables,
		WorkingDirectory: p.config.WorkingDirectory,
	}, p.id(), p.logger)
	if err != nil {
		return err
	}

	p.handle = handle
	p.startTime = handle.StartTime()
	return nil
}

func (p *LocalProcess) IsServing(ctx context.Context) (bool, error) {
	if os.Getenv(AssumeHealthyEnvVar) != "" {
		return p.IsKnownRunning(), nil
	}

	conn, err := p.channel()
	if err != nil || conn == nil {
		return false, err
	}
	return monitoring.CheckServing(ctx, conn, p.config.ServiceNames, 0)
}

func (p *LocalProcess) TryShutdown(ctx context.Context, timeout time.Duration) (bool, error) {
	p.mutex.RLock()
	handle := p.handle
	p.mutex.RUnlock()

	if handle == nil || handle.HasExited() {
		p.MarkState(ProcessStateStopped)
		return true, nil
	}

	if p.config.PrioritizeAvailability {
		p.Kill()
		return true, nil
	}

	p.MarkState(ProcessStateStopping)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-handle.Done():
	case <-timer.C:
	case <-ctx.Done():
		return handle.HasExited(), errors.NewCancelledError("shutdown wait cancelled", ctx.Err()).WithContext("pid", handle.Pid())
	}

	exited := handle.HasExited()
	if exited {
		p.MarkState(ProcessStateStopped)
	}
	return exited, nil
}

func (p *LocalProcess) Kill() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.handle != nil {
		if err := p.handle.Kill(); err != nil {
			p.logger.Warnf("Failed to kill process, PID: %d, error: %v", p.handle.Pid(), err)
		} else if !p.handle.WaitForExit(killWaitTimeout) {
			p.logger.Warnf("Process did not exit after kill, PID: %d", p.handle.Pid())
		}
	}
	p.closeConnLocked()
	p.state = ProcessStateStopped
}

// OngoingRequestCount sums the current requests of every hosted service.
// It returns -1 when the process has no port or cannot be reached.
func (p *LocalProcess) OngoingRequestCount(ctx context.Context) (int, error) {
	conn, err := p.channel()
	if err != nil {
		return -1, err
	}
	if conn == nil {
		return -1, nil
	}

	serviceNames := p.config.ServiceNames
	if len(serviceNames) == 0 {
		serviceNames = []string{""}
	}

	total := 0
	for _, serviceName := range serviceNames {
		report, err := monitoring.ReportLoad(ctx, conn, serviceName, "", 0)
		if err != nil {
			return -1, err
		}
		if report.ServerStats != nil {
			total += int(report.ServerStats.CurrentRequests)
		}
	}
	return total, nil
}

func (p *LocalProcess) IsDueForRecycling() bool {
	if p.config.RecyclingInterval <= 0 {
		return false
	}
	startTime := p.StartTime()
	return !startTime.IsZero() && time.Since(startTime) > p.config.RecyclingInterval
}

// Equals compares the static identity of two processes case-insensitively
func (p *LocalProcess) Equals(other ManagedProcess) bool {
	o, ok := other.(*LocalProcess)
	if !ok || o == nil {
		return false
	}
	if len(p.config.ServiceNames) != len(o.config.ServiceNames) {
		return false
	}
	for i := range p.config.ServiceNames {
		if !strings.EqualFold(p.config.ServiceNames[i], o.config.ServiceNames[i]) {
			return false
		}
	}
	return strings.EqualFold(p.config.AgentType, o.config.AgentType) &&
		strings.EqualFold(p.config.ExecutablePath, o.config.ExecutablePath) &&
		strings.EqualFold(p.config.CommandLineArguments, o.config.CommandLineArguments) &&
		strings.EqualFold(p.config.HostName, o.config.HostName) &&
		p.config.Port == o.config.Port
}

func (p *LocalProcess) String() string {
	return fmt.Sprintf("Agent type %s, process name %s, PID: %d, Host: %s, Port: %d",
		p.config.AgentType, p.ProcessName(), p.Pid(), p.config.HostName, p.Port())
}

func (p *LocalProcess) id() string {
	return fmt.Sprintf("%s:%d", p.config.AgentType, p.port)
}

// channel returns the cached connection, or nil while no port is known
func (p *LocalProcess) channel() (*grpc.ClientConn, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.port < 0 {
		return nil, nil
	}
	if p.conn != nil {
		return p.conn, nil
	}

	conn, err := p.dial(p.config.HostName, p.port, transport.ClientTLS{
		UseTLS:            p.config.UseTLS,
		ClientCertificate: p.config.ClientCertificate,
		ClientKey:         p.config.ClientKey,
	})
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

func (p *LocalProcess) closeConnLocked() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Debugf("Failed to close channel, port: %d, error: %v", p.port, err)
	}
	p.conn = nil
}
