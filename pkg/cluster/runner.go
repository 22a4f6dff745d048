package cluster

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/config"
	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/kvstore"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
	"github.com/core-tools/hsu-quaestor/pkg/registry"
	"github.com/core-tools/hsu-quaestor/pkg/status"
	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

// NewMembers creates the managed processes of every configured agent.
// Load balancer agents are included; they are ordinary members.
func NewMembers(cfg *config.QuaestorConfig, logger logging.Logger) []workers.ManagedProcess {
	var members []workers.ManagedProcess
	for _, agentType := range cfg.AgentTypes() {
		agent := cfg.Agents[agentType]
		for _, p := range workers.NewLocalProcesses(agent, logging.WithPrefix(logger, agentType)) {
			members = append(members, p)
		}
	}
	return members
}

// Run supervises the configured cluster until a termination signal arrives
// or the run duration, when positive, elapses.
func Run(cfg *config.QuaestorConfig, runDuration time.Duration, logger logging.Logger) error {
	logger.Infof("Cluster runner starting, name: %s", cfg.Cluster.Name)

	ctx := context.Background()
	if runDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", runDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runDuration)
		defer cancel()
	}

	reg := registry.NewRegistry(cfg.Cluster.Name, kvstore.NewLocalStore(), logging.WithPrefix(logger, "registry"))
	cluster := NewCluster(cfg.Cluster, cfg.KeyValueStore, reg, logger)
	cluster.AddRange(NewMembers(cfg, logger))

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	var statusServer *status.Server
	if cfg.Status.Address != "" {
		statusServer = status.NewServer(cfg.Status.Address, cluster, logging.WithPrefix(logger, "status"))
		if err := statusServer.Start(); err != nil {
			return errors.NewNetworkError("failed to start status server", err).WithContext("address", cfg.Status.Address)
		}
	}

	if err := cluster.Start(ctx); err != nil {
		cluster.Abort()
		return errors.NewStartupError("failed to start cluster", err)
	}

	logger.Infof("Cluster is running, members: %d", len(cluster.Members()))

	select {
	case receivedSignal := <-sig:
		logger.Infof("Cluster runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Cluster runner timed out")
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		statusServer.Shutdown(shutdownCtx)
		cancel()
	}

	allDown, err := cluster.Shutdown(context.Background(), cfg.Cluster.ShutdownTimeout())
	if errors.IsTimeoutError(err) {
		logger.Errorf("Cluster shutdown timed out, aborting, error: %v", err)
		cluster.Abort()
		return nil
	}
	if err != nil || !allDown {
		logger.Warnf("Cluster shut down with errors, all members down: %t, error: %v", allDown, err)
	}

	logger.Infof("Cluster runner stopped")
	return nil
}
