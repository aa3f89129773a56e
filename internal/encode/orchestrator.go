// SPDX-License-Identifier: MIT

// Package encode turns persisted frames into chunked H.264 renditions via
// the external encoder binary.
package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/metrics"
)

// Orchestrator drives the external encoder over frame selections.
type Orchestrator struct {
	cfg        config.EncodeConfig
	scratchDir string
}

// NewOrchestrator creates an orchestrator. scratchDir may be empty to use
// the system temp directory.
func NewOrchestrator(cfg config.EncodeConfig, scratchDir string) *Orchestrator {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Orchestrator{cfg: cfg, scratchDir: scratchDir}
}

// Result summarizes one rendition encode.
type Result struct {
	OutPath string
	Frames  int
	Chunks  int
	Bytes   int64
	Elapsed time.Duration
}

// OutputPath returns videosRoot/<name>_<YYYY-MM-DD>.mp4 for the given day.
func OutputPath(videosRoot, name string, day time.Time) string {
	return filepath.Join(videosRoot, fmt.Sprintf("%s_%s.mp4", name, day.UTC().Format("2006-01-02")))
}

// Encode produces one rendition from the selection. Selections longer than
// MaxChunkFrames are partitioned into contiguous sub-runs, each encoded
// independently, then stream-copied into the final output. This bounds the
// encoder's peak memory independent of window length.
func (o *Orchestrator) Encode(ctx context.Context, sel Selection, rend Rendition, outPath string) (Result, error) {
	logger := log.WithComponentFromContext(ctx, "encode")
	start := time.Now()

	if rend.MaxSeconds > 0 {
		sel = sel.Tail(rend.MaxSeconds * o.cfg.FPS)
	}
	if len(sel.Paths) == 0 {
		return Result{}, fmt.Errorf("rendition %s: no frames selected", rend.Name)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create videos dir: %w", err)
	}

	workDir, err := os.MkdirTemp(o.scratchDir, "heliolapse-encode-*")
	if err != nil {
		return Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("dir", workDir).Msg("failed to remove encode scratch dir")
		}
	}()

	chunks := partition(sel.Paths, o.cfg.MaxChunkFrames)
	logger.Info().
		Str("rendition", rend.Name).
		Int("frames", len(sel.Paths)).
		Int("omitted", sel.Omitted).
		Int("chunks", len(chunks)).
		Msg("encoding rendition")

	run := newRunner(o.cfg.Binary)

	if len(chunks) == 1 {
		listPath, err := o.writeFrameList(workDir, chunks[0])
		if err != nil {
			return Result{}, err
		}
		if err := run.run(ctx, chunkArgs(o.cfg, rend, listPath, outPath)); err != nil {
			metrics.RecordEncodeChunk(rend.Name, "error")
			return Result{}, err
		}
		metrics.RecordEncodeChunk(rend.Name, "ok")
		return o.finish(outPath, len(sel.Paths), 1, start)
	}

	chunkFiles := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		listPath, err := o.writeFrameList(workDir, chunk)
		if err != nil {
			return Result{}, err
		}
		chunkPath := filepath.Join(workDir, fmt.Sprintf("chunk_%03d_%s.mp4", i, shortID()))
		if err := run.run(ctx, chunkArgs(o.cfg, rend, listPath, chunkPath)); err != nil {
			metrics.RecordEncodeChunk(rend.Name, "error")
			return Result{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		metrics.RecordEncodeChunk(rend.Name, "ok")
		chunkFiles = append(chunkFiles, chunkPath)
	}

	concatPath, err := o.writeConcatList(workDir, chunkFiles)
	if err != nil {
		return Result{}, err
	}
	if err := run.run(ctx, concatArgs(concatPath, outPath)); err != nil {
		metrics.RecordEncodeChunk(rend.Name, "concat_error")
		return Result{}, fmt.Errorf("concat %d chunks: %w", len(chunkFiles), err)
	}
	return o.finish(outPath, len(sel.Paths), len(chunks), start)
}

func (o *Orchestrator) finish(outPath string, frames, chunks int, start time.Time) (Result, error) {
	info, err := os.Stat(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat output: %w", err)
	}
	return Result{
		OutPath: outPath,
		Frames:  frames,
		Chunks:  chunks,
		Bytes:   info.Size(),
		Elapsed: time.Since(start),
	}, nil
}

// writeFrameList writes a concat-list file with a duration record per frame
// so the demuxer paces the image sequence at the configured fps.
func (o *Orchestrator) writeFrameList(dir string, paths []string) (string, error) {
	var b strings.Builder
	frameDur := 1.0 / float64(o.cfg.FPS)
	for _, p := range paths {
		fmt.Fprintf(&b, "file '%s'\nduration %.6f\n", escapeConcatPath(p), frameDur)
	}
	// The concat demuxer ignores the final duration unless the last file is
	// repeated.
	if len(paths) > 0 {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(paths[len(paths)-1]))
	}
	return o.writeList(dir, "frames", b.String())
}

func (o *Orchestrator) writeConcatList(dir string, chunkFiles []string) (string, error) {
	var b strings.Builder
	for _, p := range chunkFiles {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(p))
	}
	return o.writeList(dir, "chunks", b.String())
}

func (o *Orchestrator) writeList(dir, kind, content string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", kind, shortID()))
	if err := renameio.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s list: %w", kind, err)
	}
	return path, nil
}

// escapeConcatPath quotes single quotes for the concat demuxer list format.
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

func partition(paths []string, size int) [][]string {
	if size <= 0 || len(paths) <= size {
		return [][]string{paths}
	}
	var out [][]string
	for start := 0; start < len(paths); start += size {
		end := start + size
		if end > len(paths) {
			end = len(paths)
		}
		out = append(out, paths[start:end])
	}
	return out
}

func shortID() string {
	return uuid.NewString()[:8]
}
