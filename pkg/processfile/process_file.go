package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-quaestor/pkg/errors"
	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// DefaultAppName names the subdirectory that holds the PID files
const DefaultAppName = "hsu-quaestor"

const pidFileExtension = ".pid"

// Manager keeps one PID file per supervised member, so that a later run of
// the supervisor can find processes a previous run left behind.
type Manager struct {
	directory string
	logger    logging.Logger
}

// NewManager creates a manager for the given directory. An empty directory
// selects DefaultDirectory for the cluster.
func NewManager(directory, clusterName string, logger logging.Logger) *Manager {
	if directory == "" {
		directory = DefaultDirectory(clusterName)
	}
	return &Manager{
		directory: directory,
		logger:    logger,
	}
}

// DefaultDirectory returns the OS-appropriate per-user runtime directory
// for a cluster's PID files.
func DefaultDirectory(clusterName string) string {
	return filepath.Join(userRuntimeDirectory(), DefaultAppName, SanitizeID(clusterName))
}

func (m *Manager) Directory() string {
	return m.directory
}

// Path returns the PID file path of a member
func (m *Manager) Path(id string) string {
	return filepath.Join(m.directory, SanitizeID(id)+pidFileExtension)
}

// Write records the PID of a member, creating the directory if needed
func (m *Manager) Write(id string, pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("id", id).WithContext("pid", pid)
	}

	path := m.Path(id)
	if err := os.MkdirAll(m.directory, 0755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", m.directory)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, id: %s, pid: %d, path: %s", id, pid, path)
	return nil
}

// Read returns the PID recorded for a member
func (m *Manager) Read(id string) (int, error) {
	return readPIDFile(m.Path(id))
}

// Remove deletes the PID file of a member. A missing file is not an error.
func (m *Manager) Remove(id string) error {
	path := m.Path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	return nil
}

// List returns every recorded PID keyed by member ID. Unreadable files are
// logged and skipped.
func (m *Manager) List() (map[string]int, error) {
	entries, err := os.ReadDir(m.directory)
	if os.IsNotExist(err) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to list PID files", err).WithContext("directory", m.directory)
	}

	pids := make(map[string]int)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, pidFileExtension) {
			continue
		}
		pid, err := readPIDFile(filepath.Join(m.directory, name))
		if err != nil {
			m.logger.Warnf("Skipping unreadable PID file, name: %s, error: %v", name, err)
			continue
		}
		pids[strings.TrimSuffix(name, pidFileExtension)] = pid
	}
	return pids, nil
}

func readPIDFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	text := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", path).WithContext("content", text)
	}
	return pid, nil
}

// SanitizeID maps an identifier to a portable file name
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func userRuntimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Local")
		}
		return os.TempDir()

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}
