//go:build !windows

package util

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup puts the child in a new process group so the whole tree
// can be signalled together.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup sends SIGKILL to the group led by pid.
// The process group ID equals the leader's PID; a negative PID targets the
// group.
func KillProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// ProcessExists reports whether a process with the given PID is alive.
// Signal 0 checks existence without sending anything.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
