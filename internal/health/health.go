// SPDX-License-Identifier: MIT

// Package health persists the machine-readable last-run snapshot consumed
// by --status and external monitoring.
package health

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/heliolapse/heliolapse/internal/state"
)

// Status classifies the last run.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Snapshot is the health.json payload: the final report in machine-readable
// form.
type Snapshot struct {
	Status     Status         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	FinishedAt time.Time      `json:"finished_at"`
	Runtime    string         `json:"runtime"`
	Message    string         `json:"message,omitempty"`
	Run        state.Snapshot `json:"run"`
}

// Classify derives the health status from a finished run.
func Classify(exitCode int, run state.Snapshot) Status {
	switch {
	case exitCode == 0 && run.FramesFailed == 0:
		return StatusHealthy
	case exitCode == 0 || exitCode == 3:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Write persists the snapshot atomically.
func Write(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write health snapshot: %w", err)
	}
	return nil
}

// Read loads the last snapshot.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from BASE_DIR
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse health snapshot: %w", err)
	}
	return snap, nil
}

// Age describes how stale the snapshot is; runs are expected daily, so
// anything beyond 24 hours is flagged.
func (s Snapshot) Age(now time.Time) (time.Duration, bool) {
	age := now.Sub(s.FinishedAt)
	return age, age > 24*time.Hour
}
