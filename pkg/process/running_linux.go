//go:build linux

package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// RunningProcessesCount counts live processes whose executable name matches
// processName, excluding the current process.
func RunningProcessesCount(processName string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}

	self := os.Getpid()
	count := 0
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			continue
		}
		// comm is truncated to 15 characters by the kernel
		name := strings.TrimSpace(string(comm))
		if name != truncateComm(processName) {
			continue
		}
		if IsProcessRunning(pid) {
			count++
		}
	}
	return count, nil
}

func truncateComm(name string) string {
	if len(name) > 15 {
		return name[:15]
	}
	return name
}
