// SPDX-License-Identifier: MIT

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// FramePath returns the canonical on-disk location for a frame:
// framesRoot/YYYY-MM-DD/frame_HHMM.jpg.
func FramePath(framesRoot string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(
		framesRoot,
		t.Format("2006-01-02"),
		fmt.Sprintf("frame_%s.jpg", t.Format("1504")),
	)
}

// WriteFrame persists encoded frame bytes atomically, creating the day
// directory as needed. Frame files are written once and never mutated.
func WriteFrame(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
