package persistence

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePID writes pid to path as decimal ASCII, matching
// original_source's io_printf(pidfile, "%d\n", pid) convention.
func WritePID(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("persistence: writing pid file: %w", err)
	}
	return nil
}

// ReadPID parses the decimal pid stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("persistence: reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("persistence: parsing pid file: %w", err)
	}
	return pid, nil
}

// RemovePID deletes the pid file, ignoring a missing file.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: removing pid file: %w", err)
	}
	return nil
}
