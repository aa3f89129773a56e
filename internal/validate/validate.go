// SPDX-License-Identifier: MIT

// Package validate checks persisted frames and manifest records against the
// pipeline's invariants.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/store"
	"github.com/heliolapse/heliolapse/internal/window"
)

// Problem is one invariant violation found during validation.
type Problem struct {
	Subject string
	Detail  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Subject, p.Detail)
}

// Frame checks that the file decodes to the configured crop dimensions and
// meets the minimum size.
func Frame(path string, cfg config.CompositeConfig) []Problem {
	var problems []Problem

	info, err := os.Stat(path)
	if err != nil {
		return []Problem{{Subject: path, Detail: fmt.Sprintf("stat: %v", err)}}
	}
	if info.Size() < cfg.MinFrameBytes {
		problems = append(problems, Problem{
			Subject: path,
			Detail:  fmt.Sprintf("size %d below minimum %d", info.Size(), cfg.MinFrameBytes),
		})
	}

	img, err := imaging.Open(path)
	if err != nil {
		return append(problems, Problem{Subject: path, Detail: fmt.Sprintf("decode: %v", err)})
	}
	if got := img.Bounds().Size(); got.X != cfg.CropWidth || got.Y != cfg.CropHeight {
		problems = append(problems, Problem{
			Subject: path,
			Detail:  fmt.Sprintf("dimensions %dx%d, want %dx%d", got.X, got.Y, cfg.CropWidth, cfg.CropHeight),
		})
	}
	return problems
}

// Dir validates every frame file under root.
func Dir(root string, cfg config.CompositeConfig) ([]Problem, int) {
	var problems []Problem
	checked := 0
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".jpg") {
			return nil
		}
		checked++
		problems = append(problems, Frame(path, cfg)...)
		return nil
	})
	return problems, checked
}

// Manifest checks record-level invariants: attempt monotonicity and
// timestamps, abandonment ages, offset bounds, and fingerprint distinctness
// for non-adjacent successful records without the duplicate marker.
func Manifest(m *store.Manifest, intervalMinutes int, horizon time.Duration, now time.Time) []Problem {
	var problems []Problem
	offsetLimit := intervalMinutes - 1

	type indexed struct {
		idx int
		rec store.FrameRecord
	}
	var successes []indexed

	keys := m.SortedKeys()
	for i, key := range keys {
		rec, _ := m.Get(key)

		if _, err := window.ParseKey(key); err != nil {
			problems = append(problems, Problem{Subject: key, Detail: "malformed instant key"})
		}
		if rec.Attempts < 1 {
			problems = append(problems, Problem{Subject: key, Detail: "attempts below 1"})
		}
		if rec.LastAttemptAt.Before(rec.FirstAttemptAt) {
			problems = append(problems, Problem{Subject: key, Detail: "last attempt precedes first attempt"})
		}
		if off := rec.CoronaOffset; off > offsetLimit || off < -offsetLimit {
			problems = append(problems, Problem{Subject: key, Detail: fmt.Sprintf("corona offset %d exceeds ±%d", off, offsetLimit)})
		}
		if off := rec.DiskOffset; off > offsetLimit || off < -offsetLimit {
			problems = append(problems, Problem{Subject: key, Detail: fmt.Sprintf("disk offset %d exceeds ±%d", off, offsetLimit)})
		}
		if rec.Status == store.StatusAbandoned && now.Sub(rec.FirstAttemptAt) <= horizon {
			problems = append(problems, Problem{Subject: key, Detail: "abandoned before the retry horizon"})
		}
		if rec.Status == store.StatusSuccess {
			successes = append(successes, indexed{idx: i, rec: rec})
		}
	}

	for a := 0; a < len(successes); a++ {
		for b := a + 1; b < len(successes); b++ {
			ra, rb := successes[a], successes[b]
			if rb.idx-ra.idx <= 1 || ra.rec.Duplicate || rb.rec.Duplicate {
				continue
			}
			if ra.rec.CoronaFingerprint != "" && ra.rec.CoronaFingerprint == rb.rec.CoronaFingerprint {
				problems = append(problems, Problem{
					Subject: keys[rb.idx],
					Detail:  fmt.Sprintf("corona fingerprint repeats %s", keys[ra.idx]),
				})
			}
			if ra.rec.DiskFingerprint != "" && ra.rec.DiskFingerprint == rb.rec.DiskFingerprint {
				problems = append(problems, Problem{
					Subject: keys[rb.idx],
					Detail:  fmt.Sprintf("disk fingerprint repeats %s", keys[ra.idx]),
				})
			}
		}
	}
	return problems
}
