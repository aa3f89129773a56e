// SPDX-License-Identifier: MIT

// Package run owns the daily production pass: lock, disk gate, scheduler,
// encoder orchestration, retention and the final report.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/heliolapse/heliolapse/internal/compose"
	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/encode"
	"github.com/heliolapse/heliolapse/internal/fetch"
	"github.com/heliolapse/heliolapse/internal/health"
	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/metrics"
	"github.com/heliolapse/heliolapse/internal/pipeline"
	"github.com/heliolapse/heliolapse/internal/registry"
	"github.com/heliolapse/heliolapse/internal/state"
	"github.com/heliolapse/heliolapse/internal/store"
	"github.com/heliolapse/heliolapse/internal/window"
)

// Exit codes of the production pass.
const (
	ExitSuccess          = 0
	ExitFatal            = 1
	ExitNoFrames         = 2
	ExitPartialErrors    = 3
	ExitBusy             = 4
	ExitInsufficientDisk = 5
	ExitInterrupted      = 130
)

// partialErrorRatio is the frame-failure share above which a completed run
// exits with ExitPartialErrors.
const partialErrorRatio = 0.10

// Controller executes one production pass end to end.
type Controller struct {
	cfg config.AppConfig
}

// NewController creates a controller from validated configuration.
func NewController(cfg config.AppConfig) *Controller {
	return &Controller{cfg: cfg}
}

// Execute runs one pass and returns the process exit code. ctx cancellation
// (SIGINT/SIGTERM) drains the pipeline, flushes state and exits Interrupted.
func (c *Controller) Execute(ctx context.Context) int {
	ctx = log.ContextWithRunID(ctx, uuid.NewString()[:8])
	logger := log.WithComponentFromContext(ctx, "run")
	startedAt := time.Now().UTC()

	if err := os.MkdirAll(c.cfg.BaseDir, 0o755); err != nil {
		logger.Error().Err(err).Str("dir", c.cfg.BaseDir).Msg("cannot create base dir")
		return ExitFatal
	}

	release, err := AcquireLock(c.cfg.LockPath(), c.cfg.Run.LockStale, startedAt)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			logger.Warn().Err(err).Msg("run already in progress")
			return ExitBusy
		}
		logger.Error().Err(err).Msg("lock acquisition failed")
		return ExitFatal
	}
	defer release()

	free, err := freeDiskBytes(c.cfg.BaseDir)
	if err != nil {
		logger.Error().Err(err).Msg("disk space check failed")
		return ExitFatal
	}
	if free < c.cfg.Run.DiskFloorBytes {
		logger.Error().
			Uint64("free_bytes", free).
			Uint64("floor_bytes", c.cfg.Run.DiskFloorBytes).
			Msg("insufficient disk space")
		return ExitInsufficientDisk
	}

	st := state.New(startedAt)
	manifest := store.LoadManifest(c.cfg.ManifestPath())
	plan := window.Plan(startedAt, c.cfg.Window)
	st.SetPlanned(len(plan))

	abandoned := manifest.MarkAbandoned(startedAt, c.cfg.Pipeline.RetryHorizon)
	st.SetAbandoned(abandoned)
	if abandoned > 0 {
		logger.Info().Int("abandoned", abandoned).Msg("abandoned frames past the retry horizon")
	}

	reg := registry.New()
	manifest.ReplayRegistry(reg, plan)

	fetcher := fetch.NewClient(c.cfg.UpstreamBase, c.cfg.Fetch, reg)
	composer := compose.New(c.cfg.Composite)
	sched := pipeline.New(
		c.cfg.Pipeline, c.cfg.Fetch, fetcher, composer,
		manifest, reg, st,
		c.cfg.FramesDir(), c.cfg.ManifestPath(), c.cfg.StatePath(),
	)

	st.SetPhase(state.PhaseFetching)
	metrics.SetRunPhase(1)
	if err := sched.Run(ctx, plan); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return c.finish(ctx, st, startedAt, ExitInterrupted, "interrupted by signal")
		}
		logger.Error().Err(err).Msg("scheduler failed")
		st.AddError("storage")
		return c.finish(ctx, st, startedAt, ExitFatal, err.Error())
	}

	successes := manifest.CountByStatus()[store.StatusSuccess]
	if successes == 0 {
		logger.Error().Msg("no successful frames in window, skipping encode")
		return c.finish(ctx, st, startedAt, ExitNoFrames, "no frames produced")
	}

	st.SetPhase(state.PhaseEncoding)
	metrics.SetRunPhase(2)
	if code, msg := c.encodeRenditions(ctx, manifest, plan, st); code != ExitSuccess {
		return c.finish(ctx, st, startedAt, code, msg)
	}

	st.SetPhase(state.PhaseRetention)
	metrics.SetRunPhase(3)
	c.retention(plan, manifest)

	snap := st.Snapshot()
	code := ExitSuccess
	msg := ""
	if snap.FramesPlanned > 0 &&
		float64(snap.FramesFailed) > partialErrorRatio*float64(snap.FramesPlanned) {
		code = ExitPartialErrors
		msg = fmt.Sprintf("%d of %d frames failed", snap.FramesFailed, snap.FramesPlanned)
	}
	return c.finish(ctx, st, startedAt, code, msg)
}

// encodeRenditions runs every rendition; per-rendition failures never stop
// the others. A missing encoder binary is fatal.
func (c *Controller) encodeRenditions(ctx context.Context, manifest *store.Manifest, plan []window.TargetInstant, st *state.RunState) (int, string) {
	logger := log.WithComponentFromContext(ctx, "run")

	orch := encode.NewOrchestrator(c.cfg.Encode, c.cfg.ScratchDir)
	sel := encode.SelectWindow(manifest, plan)
	st.AddOmitted(sel.Omitted)
	day := plan[len(plan)-1].Time

	anyOK := false
	for _, rend := range encode.Renditions(c.cfg.Encode) {
		if ctx.Err() != nil {
			return ExitInterrupted, "interrupted by signal"
		}
		outPath := encode.OutputPath(c.cfg.VideosDir(), rend.Name, day)
		res, err := orch.Encode(ctx, sel, rend, outPath)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				logger.Error().Err(err).Msg("encoder binary not found on PATH")
				return ExitFatal, "encoder binary not found"
			}
			st.SetRendition(rend.Name, err.Error())
			st.AddError("encoder")
			logger.Error().Err(err).Str("rendition", rend.Name).Msg("rendition failed")
			continue
		}
		anyOK = true
		st.SetRendition(rend.Name, "ok")
		logger.Info().
			Str("rendition", rend.Name).
			Str("path", res.OutPath).
			Int("frames", res.Frames).
			Int("chunks", res.Chunks).
			Int64("bytes", res.Bytes).
			Dur("elapsed", res.Elapsed).
			Msg("rendition encoded")
	}
	if !anyOK {
		return ExitFatal, "all renditions failed"
	}
	return ExitSuccess, ""
}

// retention removes frames and records fallen out of the window, old videos
// and orphaned scratch files. Best-effort.
func (c *Controller) retention(plan []window.TargetInstant, manifest *store.Manifest) {
	windowStart := plan[0].Time
	cutoff := windowStart.Add(-24 * time.Hour)

	store.SweepFrames(c.cfg.FramesDir(), cutoff)
	manifest.Prune(cutoff)
	_ = manifest.Save(c.cfg.ManifestPath())

	now := time.Now().UTC()
	store.SweepVideos(c.cfg.VideosDir(), now, c.cfg.Run.VideoRetention)

	scratch := c.cfg.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	store.SweepScratch(scratch, now, c.cfg.Run.ScratchMaxAge)
}

// finish persists final state and health, prints the report and returns the
// exit code.
func (c *Controller) finish(ctx context.Context, st *state.RunState, startedAt time.Time, code int, msg string) int {
	logger := log.WithComponentFromContext(ctx, "run")

	st.SetPhase(state.PhaseDone)
	metrics.SetRunPhase(0)
	if err := st.Save(c.cfg.StatePath()); err != nil {
		logger.Error().Err(err).Msg("failed to persist run state")
	}

	now := time.Now().UTC()
	snap := st.Snapshot()
	hs := health.Snapshot{
		Status:     health.Classify(code, snap),
		ExitCode:   code,
		FinishedAt: now,
		Runtime:    now.Sub(startedAt).Round(time.Second).String(),
		Message:    msg,
		Run:        snap,
	}
	if err := health.Write(c.cfg.HealthPath(), hs); err != nil {
		logger.Error().Err(err).Msg("failed to write health snapshot")
	}

	fmt.Print(RenderReport(hs))
	logger.Info().Int("exit_code", code).Str("status", string(hs.Status)).Msg("run finished")
	return code
}
