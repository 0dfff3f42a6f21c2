//go:build windows

package util

import (
	"os"
	"os/exec"
)

// SetProcessGroup is a no-op on Windows.
func SetProcessGroup(cmd *exec.Cmd) {}

// KillProcessGroup kills the direct child only.
func KillProcessGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// ProcessExists reports whether a process with the given PID is alive.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess opens a handle on Windows and fails for dead PIDs.
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
