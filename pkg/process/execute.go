package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string
	Args             []string
	Environment      map[string]string
	WorkingDirectory string
	// Wait after the process exits for its output to drain
	WaitDelay time.Duration
}

// Handle tracks a launched OS process until it exits.
type Handle struct {
	cmd       *exec.Cmd
	startTime time.Time
	done      chan struct{}

	mutex   sync.Mutex
	exitErr error
	logger  logging.Logger
	id      string
}

// Execute launches the executable in its own process group. Output is
// drained continuously into the logger so a chatty child never blocks on a
// full pipe.
func Execute(execution ExecutionConfig, id string, logger logging.Logger) (*Handle, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	if err := ensureExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewProcessError("failed to ensure process is executable", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id)
		}
		workDir = filepath.Dir(absPath)
	}

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = mergeEnvironment(os.Environ(), execution.Environment)
	cmd.Stdout = newLineLogger(logger, id, "stdout")
	cmd.Stderr = newLineLogger(logger, id, "stderr")
	cmd.WaitDelay = execution.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = time.Second
	}
	setupProcessAttributes(cmd)

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, execution.ExecutablePath, execution.Args, workDir)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	handle := &Handle{
		cmd:       cmd,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    logger,
		id:        id,
	}
	go handle.wait()

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)
	return handle, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()

	h.mutex.Lock()
	h.exitErr = err
	h.mutex.Unlock()

	close(h.done)
	h.logger.Infof("Process exited, id: %s, PID: %d, error: %v", h.id, h.Pid(), err)
}

func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *Handle) StartTime() time.Time {
	return h.startTime
}

// Done is closed once the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) HasExited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) ExitError() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.exitErr
}

// WaitForExit blocks up to timeout and reports whether the process exited.
func (h *Handle) WaitForExit(timeout time.Duration) bool {
	if timeout <= 0 {
		return h.HasExited()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Kill terminates the whole process group. Killing an exited process is a
// no-op.
func (h *Handle) Kill() error {
	if h.HasExited() {
		return nil
	}
	if err := killProcessGroup(h.Pid()); err != nil {
		if killErr := h.cmd.Process.Kill(); killErr != nil && !h.HasExited() {
			return errors.NewProcessError("failed to kill process", killErr).WithContext("pid", h.Pid())
		}
	}
	return nil
}

func mergeEnvironment(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, key := range keys {
		env = append(env, key+"="+extra[key])
	}
	return env
}

// ensureExecutable sets the execute bits on unix when none is set
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
