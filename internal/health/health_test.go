// SPDX-License-Identifier: MIT

package health

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliolapse/heliolapse/internal/state"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		failed   int
		want     Status
	}{
		{"clean run", 0, 0, StatusHealthy},
		{"clean exit with failures", 0, 3, StatusDegraded},
		{"partial errors", 3, 700, StatusDegraded},
		{"fatal", 1, 0, StatusUnhealthy},
		{"no frames", 2, 0, StatusUnhealthy},
		{"busy", 4, 0, StatusUnhealthy},
		{"interrupted", 130, 10, StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.exitCode, state.Snapshot{FramesFailed: tc.failed})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")
	want := Snapshot{
		Status:     StatusDegraded,
		ExitCode:   3,
		FinishedAt: time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC),
		Runtime:    "55m",
		Message:    "601 of 5376 frames failed",
		Run:        state.Snapshot{Phase: state.PhaseDone, FramesPlanned: 5376},
	}

	require.NoError(t, Write(path, want))
	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.ExitCode, got.ExitCode)
	assert.True(t, got.FinishedAt.Equal(want.FinishedAt))
	assert.Equal(t, want.Run.FramesPlanned, got.Run.FramesPlanned)
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestAge(t *testing.T) {
	finished := time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC)
	snap := Snapshot{FinishedAt: finished}

	age, stale := snap.Age(finished.Add(2 * time.Hour))
	assert.Equal(t, 2*time.Hour, age)
	assert.False(t, stale)

	_, stale = snap.Age(finished.Add(25 * time.Hour))
	assert.True(t, stale)
}
