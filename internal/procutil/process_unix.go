//go:build !windows

package procutil

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// GracefulTerminate asks p to exit with SIGTERM.
func GracefulTerminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// TerminateByPID sends SIGTERM to pid, typically a dexftd recorded in the
// instance lock file.
func TerminateByPID(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

// IsProcessAlive probes pid with signal 0. EPERM still means the process
// exists, it just belongs to another user.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
