//go:build windows

package rclone

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

const binaryName = "rclone.exe"

func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

// killGroup kills the process tree children first, there are no signalable
// process groups on windows.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}

	root, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}

	tree, err := treeBottomUp(root)
	if err != nil {
		tree = []*process.Process{root}
	}

	var lastErr error
	for _, p := range tree {
		if exists, err := process.PidExists(p.Pid); err != nil || !exists {
			continue
		}
		if err := p.Kill(); err != nil {
			lastErr = fmt.Errorf("could not kill pid %d: %w", p.Pid, err)
		}
	}
	return lastErr
}

func treeBottomUp(p *process.Process) ([]*process.Process, error) {
	children, err := p.Children()
	if err != nil && len(children) == 0 {
		return []*process.Process{p}, nil
	}

	var tree []*process.Process
	for _, c := range children {
		sub, _ := treeBottomUp(c)
		tree = append(tree, sub...)
	}
	return append(tree, p), nil
}
