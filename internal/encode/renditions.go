// SPDX-License-Identifier: MIT

package encode

import (
	"fmt"
	"strconv"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/store"
	"github.com/heliolapse/heliolapse/internal/window"
)

// Rendition describes one video output variant.
type Rendition struct {
	Name         string
	Width        int
	Height       int
	PortraitCrop bool // center-crop the desktop frame to portrait
	MaxSeconds   int  // 0 = cover the full window
}

// Renditions returns the three output presets.
func Renditions(cfg config.EncodeConfig) []Rendition {
	return []Rendition{
		{Name: "desktop", Width: 1460, Height: 1200},
		{Name: "mobile", Width: 1080, Height: 1350, PortraitCrop: true},
		{Name: "social", Width: 1080, Height: 1350, PortraitCrop: true, MaxSeconds: cfg.SocialSeconds},
	}
}

// Selection is an ordered list of frame files chosen for an encode, plus the
// count of planned instants that had no successful frame and were omitted.
type Selection struct {
	Paths   []string
	Omitted int
}

// SelectWindow walks the plan in order and collects the file paths of
// successful frame records. Instants without a successful record are
// omitted, not substituted: the video runs short rather than masking gaps.
func SelectWindow(manifest *store.Manifest, plan []window.TargetInstant) Selection {
	var sel Selection
	for _, target := range plan {
		rec, ok := manifest.Get(target.Key())
		if !ok || rec.Status != store.StatusSuccess || rec.FilePath == "" {
			sel.Omitted++
			continue
		}
		sel.Paths = append(sel.Paths, rec.FilePath)
	}
	return sel
}

// Tail keeps only the most recent n frames of the selection.
func (s Selection) Tail(n int) Selection {
	if n <= 0 || len(s.Paths) <= n {
		return s
	}
	return Selection{Paths: s.Paths[len(s.Paths)-n:], Omitted: s.Omitted}
}

// chunkArgs builds the encoder invocation for one chunk: concat-list input,
// H.264 at the configured crf/preset, 4:2:0, faststart.
func chunkArgs(cfg config.EncodeConfig, rend Rendition, listPath, outPath string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	if rend.PortraitCrop {
		args = append(args, "-vf", portraitFilter(rend))
	}
	args = append(args,
		"-r", strconv.Itoa(cfg.FPS),
		"-c:v", "libx264",
		"-preset", cfg.Preset,
		"-crf", strconv.Itoa(cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outPath,
	)
	return args
}

// portraitFilter scales the desktop frame up to the portrait height, then
// center-crops to the target width.
func portraitFilter(rend Rendition) string {
	return fmt.Sprintf("scale=-2:%d,crop=%d:%d", rend.Height, rend.Width, rend.Height)
}

// concatArgs builds the stream-copy concatenation of chunk files.
func concatArgs(listPath, outPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		outPath,
	}
}
