//go:build windows

package scripts

import "os/exec"

// setSysProcAttr is a no-op on Windows; process-group timeout handling
// falls back to killing just the direct child.
func setSysProcAttr(cmd *exec.Cmd) {}

// killProcessGroup kills the direct child process.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
}
