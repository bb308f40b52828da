//go:build unix

package scripts

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr puts the subprocess in its own process group so a
// timeout can kill the whole tree (interpreter plus anything it spawned)
// rather than just the direct child.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the process group started by
// setSysProcAttr, terminating the subprocess group on timeout per spec
// §5's cancellation policy.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
