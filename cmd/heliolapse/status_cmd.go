// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/health"
	"github.com/heliolapse/heliolapse/internal/run"
)

// printStatus renders the last health snapshot and, when present, the
// active lock holder.
func printStatus(cfg config.AppConfig) int {
	if info, ok := run.ReadLock(cfg.LockPath()); ok {
		fmt.Printf("run in progress: pid %d since %s\n",
			info.PID, info.StartedAt.Format(time.RFC3339))
	}

	snap, err := health.Read(cfg.HealthPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("no run has completed yet")
			return run.ExitSuccess
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return run.ExitFatal
	}

	fmt.Print(run.RenderReport(snap))
	if age, stale := snap.Age(time.Now().UTC()); stale {
		fmt.Printf("warning: last run finished %s ago\n", age.Round(time.Minute))
	}
	return run.ExitSuccess
}
