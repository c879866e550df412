//go:build windows

package supervisor

import "os/exec"

// setProcessGroup is a no-op on Windows; termination goes through the
// process handle instead of a process group.
func setProcessGroup(_ *exec.Cmd) {}

// terminateProcess has no graceful equivalent on Windows; kill outright.
func terminateProcess(cmd *exec.Cmd, _ int) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killProcess(cmd *exec.Cmd, _ int) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
