// SPDX-License-Identifier: MIT

// Package window turns "now" into the ordered list of target instants the
// pipeline is responsible for on one run.
package window

import (
	"time"

	"github.com/heliolapse/heliolapse/internal/config"
)

// KeyFormat is the manifest key layout: ISO-8601 UTC, second precision.
const KeyFormat = "2006-01-02T15:04:05Z"

// TargetInstant is one slot of the rolling window.
type TargetInstant struct {
	Index int       // position in the window, 0 = oldest
	Time  time.Time // quantized UTC instant
}

// Key returns the manifest key for this instant.
func (t TargetInstant) Key() string {
	return t.Time.UTC().Format(KeyFormat)
}

// Plan produces the ordered sequence of target instants covering the window,
// oldest first. The window end sits at the last interval boundary at or
// before now − safeDelay; the sequence length is exactly
// totalDays · framesPerDay.
func Plan(now time.Time, cfg config.WindowConfig) []TargetInstant {
	interval := cfg.Interval()
	end := now.UTC().Add(-cfg.SafeDelay()).Truncate(interval)
	count := cfg.TotalDays * cfg.FramesPerDay()
	start := end.Add(-time.Duration(count-1) * interval)

	plan := make([]TargetInstant, count)
	for i := 0; i < count; i++ {
		plan[i] = TargetInstant{Index: i, Time: start.Add(time.Duration(i) * interval)}
	}
	return plan
}

// ParseKey parses a manifest key back into a UTC time.
func ParseKey(key string) (time.Time, error) {
	return time.Parse(KeyFormat, key)
}
