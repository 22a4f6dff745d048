package workers

import (
	"context"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// ShutDown deregisters a running process and stops it. With a positive
// maxShutdownTime the process gets that long to exit on its own before it is
// killed; otherwise it is killed right away. Monitoring stays suspended for
// the whole transition. Processes that are not running are left untouched.
// The result reports whether the process exited without being killed.
func ShutDown(ctx context.Context, p ManagedProcess, registrar Deregisterer, maxShutdownTime time.Duration, logger logging.Logger) bool {
	if !p.IsKnownRunning() {
		return true
	}

	p.SetMonitoringSuspended(true)
	defer p.SetMonitoringSuspended(false)

	logger.Infof("Shutting down process, %s", p)

	if registrar != nil {
		registrar.EnsureRemoved(ctx, p)
	}

	exited := false
	if maxShutdownTime > 0 {
		var err error
		exited, err = p.TryShutdown(ctx, maxShutdownTime)
		if err != nil {
			logger.Warnf("Graceful shutdown failed, %s, error: %v", p, err)
		}
	}

	if !exited {
		logger.Infof("Killing process, %s", p)
		p.Kill()
	}
	return exited
}
