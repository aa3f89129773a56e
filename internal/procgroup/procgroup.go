// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses in their own process group so the
// whole tree can be reaped on shutdown.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

// ErrKillFailed reports that a process group survived SIGKILL past the
// timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Set configures the command to start in a new process group. Mandatory for
// KillGroup to function as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree: SIGTERM, grace period,
// then SIGKILL. The process must have been spawned with Set.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
