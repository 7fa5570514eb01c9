//go:build !windows

package transport

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// signalGroup signals the command's whole process group.  pty.Start
// makes the command a session leader, so its pid is the group id.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}
