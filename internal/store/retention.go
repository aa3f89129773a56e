// SPDX-License-Identifier: MIT

package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heliolapse/heliolapse/internal/log"
)

// SweepFrames removes day directories dated before the cutoff. Best-effort:
// failures are logged and never fail the run.
func SweepFrames(framesRoot string, cutoff time.Time) int {
	logger := log.WithComponent("retention")
	entries, err := os.ReadDir(framesRoot)
	if err != nil {
		return 0
	}

	cutoffDay := cutoff.UTC().Format("2006-01-02")
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", e.Name()); err != nil {
			continue
		}
		if e.Name() >= cutoffDay {
			continue
		}
		dir := filepath.Join(framesRoot, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove expired frame dir")
			continue
		}
		logger.Info().Str("dir", dir).Msg("removed expired frame dir")
		removed++
	}
	return removed
}

// SweepVideos removes video files older than maxAge. Best-effort.
func SweepVideos(videosRoot string, now time.Time, maxAge time.Duration) int {
	logger := log.WithComponent("retention")
	entries, err := os.ReadDir(videosRoot)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(videosRoot, e.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove expired video")
			continue
		}
		logger.Info().Str("path", path).Msg("removed expired video")
		removed++
	}
	return removed
}

// SweepScratch removes orphaned heliolapse scratch files older than maxAge.
func SweepScratch(scratchDir string, now time.Time, maxAge time.Duration) int {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "heliolapse-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(scratchDir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
