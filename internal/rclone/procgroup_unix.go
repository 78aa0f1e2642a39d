//go:build !windows

package rclone

import (
	"errors"
	"os/exec"
	"syscall"
)

const binaryName = "rclone"

// isolate starts the command in its own process group so the whole tree can
// be killed at once.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
