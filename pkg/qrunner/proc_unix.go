//go:build unix

package qrunner

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup puts the task in its own group so cancellation reaches
// everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the group, escalates to SIGKILL after grace,
// and returns once the leader has been reaped.
func terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration) error {
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case err := <-done:
		// Sweep children that outlived the leader.
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return err
	case <-time.After(grace):
	}

	_ = syscall.Kill(pgid, syscall.SIGKILL)
	return <-done
}

// killGroup sends SIGKILL to every process left in the group led by pgid.
func killGroup(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// exitStatus follows the shell convention of 128+signal for killed tasks.
func exitStatus(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ps.ExitCode()
}
