package cluster

import (
	"context"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

// HeartBeat periodically probes every cluster member and drives recovery.
// Members are visited sequentially in snapshot order; recycling runs after
// all health checks of the same tick.
type HeartBeat struct {
	members   func() []workers.ManagedProcess
	settings  func() config.ClusterConfig
	registrar *Registrar
	logger    logging.Logger
	started   func(member workers.ManagedProcess)
}

func NewHeartBeat(members func() []workers.ManagedProcess, settings func() config.ClusterConfig, registrar *Registrar, logger logging.Logger) *HeartBeat {
	return &HeartBeat{
		members:   members,
		settings:  settings,
		registrar: registrar,
		logger:    logger,
	}
}

// OnStarted sets a callback invoked after every successful restart
func (h *HeartBeat) OnStarted(started func(member workers.ManagedProcess)) {
	h.started = started
}

// Run ticks until ctx is cancelled. Cancellation is observed between ticks
// only; a tick in progress runs to completion.
func (h *HeartBeat) Run(ctx context.Context) {
	h.logger.Infof("Heartbeat started, interval: %v", h.settings().HeartBeatInterval())

	for {
		timer := time.NewTimer(h.settings().HeartBeatInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			h.logger.Infof("Heartbeat stopped")
			return
		case <-timer.C:
		}

		h.Beat(context.Background())
	}
}

// Beat performs a single tick.
func (h *HeartBeat) Beat(ctx context.Context) {
	members := h.members()

	for _, member := range members {
		if member.MonitoringSuspended() {
			h.logger.Debugf("Monitoring suspended, skipping member, %s", member)
			continue
		}
		h.checkMember(ctx, member)
	}

	for _, member := range members {
		if member.MonitoringSuspended() {
			continue
		}
		h.recycleIfDue(ctx, member)
	}
}

func (h *HeartBeat) checkMember(ctx context.Context, member workers.ManagedProcess) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("Heartbeat failed for member, %s, panic: %v", member, r)
		}
	}()

	if !member.IsKnownRunning() {
		h.logger.Warnf("Member is not running, %s", member)
		member.MarkState(workers.ProcessStateUnavailable)
		h.recoverUnavailable(ctx, member)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.settings().MemberResponseTimeOut())
	serving, err := member.IsServing(probeCtx)
	cancel()

	switch {
	case err == nil && serving:
		member.MarkState(workers.ProcessStateHealthy)
		if err := h.registrar.Ensure(ctx, member); err != nil {
			h.logger.Warnf("Failed to register member, %s, error: %v", member, err)
		}

	case errors.IsTimeoutError(err) || errors.IsUnavailableError(err) || errors.IsNetworkError(err):
		h.logger.Warnf("Member is unavailable, %s, error: %v", member, err)
		member.MarkState(workers.ProcessStateUnavailable)
		h.recoverUnavailable(ctx, member)

	case err == nil && member.IsKnownRunning():
		h.logger.Warnf("Member is unhealthy, %s, error: %v", member, errors.NewUnhealthyError("health check reports not serving", nil))
		member.MarkState(workers.ProcessStateUnhealthy)
		h.recoverUnhealthy(ctx, member)

	case err == nil:
		h.logger.Warnf("Member exited during health check, %s", member)
		member.MarkState(workers.ProcessStateUnavailable)
		h.recoverUnavailable(ctx, member)

	default:
		h.logger.Errorf("Health check failed, skipping member, %s, error: %v", member, err)
	}
}

func (h *HeartBeat) recoverUnhealthy(ctx context.Context, member workers.ManagedProcess) {
	workers.ShutDown(ctx, member, h.registrar, h.settings().MemberMaxShutdownTime(), h.logger)
	h.restart(ctx, member)
}

func (h *HeartBeat) recoverUnavailable(ctx context.Context, member workers.ManagedProcess) {
	member.SetMonitoringSuspended(true)
	defer member.SetMonitoringSuspended(false)

	h.registrar.EnsureRemoved(ctx, member)
	if member.IsKnownRunning() {
		member.Kill()
	}
	h.restart(ctx, member)
}

// restart starts the member unless it already failed to start more often
// than the cluster allows.
func (h *HeartBeat) restart(ctx context.Context, member workers.ManagedProcess) {
	maxRetries := h.settings().MemberMaxStartupRetries
	if failures := member.StartupFailureCount(); failures > maxRetries {
		h.logger.Errorf("Giving up on member, startup failures: %d, max retries: %d, %s", failures, maxRetries, member)
		return
	}

	if !member.Start(ctx) {
		failures := member.IncrementStartupFailureCount()
		h.logger.Warnf("Failed to restart member, startup failures: %d, %s", failures, member)
		return
	}

	member.ResetStartupFailureCount()
	if h.started != nil {
		h.started(member)
	}
	if err := h.registrar.Ensure(ctx, member); err != nil {
		h.logger.Warnf("Failed to register member, %s, error: %v", member, err)
	}
	h.logger.Infof("Member restarted, %s", member)
}

func (h *HeartBeat) recycleIfDue(ctx context.Context, member workers.ManagedProcess) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("Recycling failed for member, %s, panic: %v", member, r)
		}
	}()

	if !member.IsDueForRecycling() {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.settings().MemberResponseTimeOut())
	ongoing, err := member.OngoingRequestCount(probeCtx)
	cancel()
	if err != nil {
		h.logger.Debugf("Could not get ongoing request count, %s, error: %v", member, err)
	}
	if ongoing > 0 {
		h.logger.Infof("Recycling deferred, ongoing requests: %d, %s", ongoing, member)
		return
	}

	h.logger.Infof("Recycling member, %s", member)
	workers.ShutDown(ctx, member, h.registrar, 0, h.logger)
	h.restart(ctx, member)
}
