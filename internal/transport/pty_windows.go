//go:build windows

package transport

import (
	"os/exec"
	"syscall"
)

func signalGroup(cmd *exec.Cmd, _ syscall.Signal) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
