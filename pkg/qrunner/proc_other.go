//go:build !unix

package qrunner

import (
	"os"
	"os/exec"
	"time"
)

func setProcessGroup(cmd *exec.Cmd) {}

func terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration) error {
	_ = cmd.Process.Kill()
	return <-done
}

func killGroup(pgid int) {}

func exitStatus(ps *os.ProcessState) int {
	return ps.ExitCode()
}
