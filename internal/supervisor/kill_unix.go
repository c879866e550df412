//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so signals reach
// the agent and everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcess sends SIGTERM to the process group.
func terminateProcess(_ *exec.Cmd, pid int) {
	_ = unix.Kill(-pid, unix.SIGTERM)
}

// killProcess sends SIGKILL to the process group.
func killProcess(_ *exec.Cmd, pid int) {
	_ = unix.Kill(-pid, unix.SIGKILL)
}
