// Package pidfile implements the double-instance guard described in
// spec §6 and grounded on original_source/sflphone-common/src/main.cpp:
// on startup, read the PID file under the cache directory, probe the
// recorded process with signal 0, and refuse to start if it is alive.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the PID file.
var ErrAlreadyRunning = fmt.Errorf("another instance is already running")

// Acquire reads path, and if it names a still-alive process, returns
// ErrAlreadyRunning. Otherwise it writes the current PID to path and
// returns a Release func that removes the file.
func Acquire(path string) (release func(), err error) {
	if existing, ok := readPID(path); ok && processAlive(existing) {
		return nil, ErrAlreadyRunning
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return func() { _ = os.Remove(path) }, nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive probes pid with signal 0: the kernel validates the target
// exists and is permission-accessible without actually delivering a
// signal.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but is owned by another user — still
	// "alive" for our double-instance purposes.
	return err == unix.EPERM
}
