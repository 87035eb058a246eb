// SPDX-License-Identifier: MIT

//go:build !unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

// Set is a no-op on platforms without unix process groups.
func Set(*exec.Cmd) {}

// Terminate kills the direct child; descendants are left to the OS.
func Terminate(cmd *exec.Cmd) error { return kill(cmd) }

// Kill kills the direct child.
func Kill(cmd *exec.Cmd) error { return kill(cmd) }

func kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
