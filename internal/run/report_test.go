// SPDX-License-Identifier: MIT

package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heliolapse/heliolapse/internal/health"
	"github.com/heliolapse/heliolapse/internal/state"
)

func TestRenderReport(t *testing.T) {
	hs := health.Snapshot{
		Status:     health.StatusDegraded,
		ExitCode:   ExitPartialErrors,
		FinishedAt: time.Date(2026, 8, 24, 4, 12, 0, 0, time.UTC),
		Runtime:    "1h12m3s",
		Message:    "601 of 5376 frames failed",
		Run: state.Snapshot{
			FramesPlanned:      5376,
			FramesSucceeded:    4775,
			FramesFailed:       601,
			FramesSkipped:      4000,
			FramesRetried:      12,
			FramesAbandoned:    4,
			FallbacksUsed:      37,
			DuplicatesResolved: 5,
			OmittedFrames:      601,
			ErrorsByKind:       map[string]int{"fetch": 590, "composite": 11},
			Renditions:         map[string]string{"desktop": "ok", "mobile": "ok", "social": "encoder exit 1: signal"},
		},
	}

	out := RenderReport(hs)
	assert.Contains(t, out, "status: degraded (exit 3)")
	assert.Contains(t, out, "note: 601 of 5376 frames failed")
	assert.Contains(t, out, "planned 5376, succeeded 4775")
	assert.Contains(t, out, "fallbacks used: 37, duplicates resolved: 5, omitted from encode: 601")
	assert.Contains(t, out, "composite=11 fetch=590")
	assert.Contains(t, out, "desktop")
	assert.Contains(t, out, "encoder exit 1")
	// 5376 processed over 1h12m3s.
	assert.Contains(t, out, "throughput: 5376 frames processed (74.6 frames/min)")
}

func TestRenderReportThroughputWithoutRuntime(t *testing.T) {
	hs := health.Snapshot{
		Status:     health.StatusHealthy,
		FinishedAt: time.Date(2026, 8, 24, 4, 12, 0, 0, time.UTC),
		Run:        state.Snapshot{FramesSucceeded: 10},
	}
	out := RenderReport(hs)
	assert.Contains(t, out, "throughput: 10 frames processed\n")
	assert.NotContains(t, out, "frames/min")
}

func TestRenderReportMinimal(t *testing.T) {
	hs := health.Snapshot{
		Status:     health.StatusHealthy,
		FinishedAt: time.Date(2026, 8, 24, 4, 12, 0, 0, time.UTC),
		Runtime:    "3m2s",
	}
	out := RenderReport(hs)
	assert.Contains(t, out, "status: healthy (exit 0)")
	assert.NotContains(t, out, "note:")
	assert.NotContains(t, out, "errors by kind")
}
