//go:build windows

package tools

import "os/exec"

// Windows has no process groups in the POSIX sense; only the direct child
// is killed.
func configureProcessGroup(cmd *exec.Cmd) {}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
