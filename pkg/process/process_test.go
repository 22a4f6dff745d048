package process

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

type capturingLogger struct {
	mutex sync.Mutex
	lines []string
}

func (c *capturingLogger) logger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: func(format string, args ...interface{}) {
			c.mutex.Lock()
			defer c.mutex.Unlock()
			c.lines = append(c.lines, fmt.Sprintf(format, args...))
		},
	})
}

func (c *capturingLogger) contains(s string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, line := range c.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	result := SubstitutePlaceholders("--host {HostName} --port {Port} --name {HostName}-{Port}", "10.0.0.1", 9001)
	assert.Equal(t, "--host 10.0.0.1 --port 9001 --name 10.0.0.1-9001", result)
}

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "simple", input: "--host localhost  --port 9001", expected: []string{"--host", "localhost", "--port", "9001"}},
		{name: "quoted", input: `--config "C:\Program Files\app.yml" -v`, expected: []string{"--config", `C:Program Filesapp.yml`, "-v"}},
		{name: "escaped quote", input: `--name "a \"b\""`, expected: []string{"--name", `a "b"`}},
		{name: "empty quoted", input: `--tag ""`, expected: []string{"--tag", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitCommandLine(tt.input))
		})
	}
}

func TestProcessName(t *testing.T) {
	assert.Equal(t, "workertest", ProcessName("/opt/quaestor/workertest"))
	assert.Equal(t, "etcd", ProcessName("etcd.exe"))
}

func TestExecute_DrainsOutputAndExits(t *testing.T) {
	skipOnWindows(t)
	capture := &capturingLogger{}

	handle, err := Execute(ExecutionConfig{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", "echo hello $GREETING; echo oops 1>&2"},
		Environment:    map[string]string{"GREETING": "world"},
	}, "test", capture.logger())
	require.NoError(t, err)
	assert.Greater(t, handle.Pid(), 0)

	require.True(t, handle.WaitForExit(5*time.Second))
	assert.True(t, handle.HasExited())
	assert.NoError(t, handle.ExitError())
	assert.True(t, capture.contains("hello world"))
	assert.True(t, capture.contains("[test stderr] oops"))
}

func TestExecute_KillIsIdempotent(t *testing.T) {
	skipOnWindows(t)

	handle, err := Execute(ExecutionConfig{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", "sleep 30"},
	}, "sleeper", logging.NewNopLogger())
	require.NoError(t, err)
	assert.False(t, handle.WaitForExit(100*time.Millisecond))
	assert.True(t, IsProcessRunning(handle.Pid()))

	require.NoError(t, handle.Kill())
	require.True(t, handle.WaitForExit(5*time.Second))
	assert.NoError(t, handle.Kill())
}

func TestExecute_MissingExecutable(t *testing.T) {
	_, err := Execute(ExecutionConfig{ExecutablePath: "/nonexistent/worker"}, "missing", logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateExecutionConfig(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidateExecutionConfig(ExecutionConfig{
		ExecutablePath:   os.Args[0],
		WorkingDirectory: dir,
		Environment:      map[string]string{"QUAESTOR_PORT": "5150"},
	}))

	err := ValidateExecutionConfig(ExecutionConfig{
		ExecutablePath:   dir,
		WorkingDirectory: "relative/dir",
		Environment:      map[string]string{"A=B": "x"},
		WaitDelay:        -time.Second,
	})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
	for _, e := range multierr.Errors(err) {
		assert.True(t, errors.IsValidationError(e))
	}
}

func TestRunningProcessesCount(t *testing.T) {
	count, err := RunningProcessesCount("no-such-process-name")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
