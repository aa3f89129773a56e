// SPDX-License-Identifier: MIT

//go:build unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/heliolapse/heliolapse/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil // already gone
	}

	logger := log.WithComponent("procgroup")
	logger.Debug().Int("pid", pid).Msg("sending SIGTERM to process group")
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		_ = proc.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", pid).Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		_ = proc.Kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrKillFailed
	}
}
