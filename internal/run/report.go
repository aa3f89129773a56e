// SPDX-License-Identifier: MIT

package run

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/heliolapse/heliolapse/internal/health"
)

// RenderReport formats the single-page end-of-run summary.
func RenderReport(hs health.Snapshot) string {
	var b strings.Builder
	r := hs.Run

	fmt.Fprintf(&b, "heliolapse run report — %s\n", hs.FinishedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "status: %s (exit %d)\n", hs.Status, hs.ExitCode)
	if hs.Message != "" {
		fmt.Fprintf(&b, "note: %s\n", hs.Message)
	}
	fmt.Fprintf(&b, "runtime: %s\n\n", hs.Runtime)

	fmt.Fprintf(&b, "frames: planned %d, succeeded %d, skipped %d, retried %d, failed %d, abandoned %d\n",
		r.FramesPlanned, r.FramesSucceeded, r.FramesSkipped, r.FramesRetried, r.FramesFailed, r.FramesAbandoned)
	fmt.Fprintf(&b, "fallbacks used: %d, duplicates resolved: %d, omitted from encode: %d\n",
		r.FallbacksUsed, r.DuplicatesResolved, r.OmittedFrames)

	if len(r.ErrorsByKind) > 0 {
		kinds := make([]string, 0, len(r.ErrorsByKind))
		for k := range r.ErrorsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		b.WriteString("errors by kind:")
		for _, k := range kinds {
			fmt.Fprintf(&b, " %s=%d", k, r.ErrorsByKind[k])
		}
		b.WriteString("\n")
	}

	if len(r.Renditions) > 0 {
		names := make([]string, 0, len(r.Renditions))
		for n := range r.Renditions {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("renditions:\n")
		for _, n := range names {
			fmt.Fprintf(&b, "  %-8s %s\n", n, r.Renditions[n])
		}
	}

	processed := r.FramesSucceeded + r.FramesFailed
	if processed > 0 {
		if elapsed, err := time.ParseDuration(hs.Runtime); err == nil && elapsed > 0 {
			fmt.Fprintf(&b, "throughput: %d frames processed (%.1f frames/min)\n",
				processed, float64(processed)/elapsed.Minutes())
		} else {
			fmt.Fprintf(&b, "throughput: %d frames processed\n", processed)
		}
	}
	return b.String()
}
