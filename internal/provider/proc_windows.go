//go:build windows

package provider

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the direct child. Windows has no process groups in
// the POSIX sense; tools spawned through a job object are out of scope.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
