//go:build !unix

package adapter

import (
	"os/exec"
)

func configureProcessGroup(_ *exec.Cmd) {}

func signalTerminate(cmd *exec.Cmd) error {
	return signalKill(cmd)
}

func signalKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
