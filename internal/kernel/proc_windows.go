//go:build windows

package kernel

import (
	"errors"
	"os"
	"os/exec"
)

func setupProcessGroup(cmd *exec.Cmd) {}

// signalTerminate is a no-op: closing stdin is the only graceful request a
// Windows kernel gets.
func signalTerminate(cmd *exec.Cmd) error {
	return nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
