// SPDX-License-Identifier: MIT

// Package pipeline wires the fetch and composite stages into a bounded
// two-stage worker pipeline with backpressure and periodic checkpointing.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/fetch"
	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/metrics"
	"github.com/heliolapse/heliolapse/internal/registry"
	"github.com/heliolapse/heliolapse/internal/source"
	"github.com/heliolapse/heliolapse/internal/state"
	"github.com/heliolapse/heliolapse/internal/store"
	"github.com/heliolapse/heliolapse/internal/window"
)

// Fetcher retrieves one source image for a target instant.
type Fetcher interface {
	Fetch(ctx context.Context, target window.TargetInstant, spec source.Spec) (fetch.Result, error)
}

// Composer produces one encoded frame from the two source bodies.
type Composer interface {
	Compose(corona, disk []byte) ([]byte, error)
}

// Scheduler drives the fetch → composite stages over a window plan.
type Scheduler struct {
	cfg          config.PipelineConfig
	fetchCfg     config.FetchConfig
	fetcher      Fetcher
	composer     Composer
	manifest     *store.Manifest
	reg          *registry.Registry
	st           *state.RunState
	framesRoot   string
	manifestPath string
	statePath    string

	processed int
	procMu    sync.Mutex
}

// New creates a scheduler over shared manifest, registry and run state.
func New(cfg config.PipelineConfig, fetchCfg config.FetchConfig, fetcher Fetcher, composer Composer,
	manifest *store.Manifest, reg *registry.Registry, st *state.RunState,
	framesRoot, manifestPath, statePath string) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		fetchCfg:     fetchCfg,
		fetcher:      fetcher,
		composer:     composer,
		manifest:     manifest,
		reg:          reg,
		st:           st,
		framesRoot:   framesRoot,
		manifestPath: manifestPath,
		statePath:    statePath,
	}
}

type workItem struct {
	target window.TargetInstant
	retry  bool
}

type frameTuple struct {
	target window.TargetInstant
	retry  bool
	corona fetch.Result
	disk   fetch.Result
}

// Run processes the plan to completion or cancellation. Per-frame errors are
// recorded and never abort the run; only persistent storage failures or
// cancellation surface as errors.
func (s *Scheduler) Run(ctx context.Context, plan []window.TargetInstant) error {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	queue := s.buildQueue(plan)
	logger.Info().
		Int("planned", len(plan)).
		Int("queued", len(queue)).
		Int("fetch_workers", s.cfg.FetchConcurrency).
		Int("composite_workers", s.cfg.CompositeConcurrency).
		Msg("scheduler starting")

	jobs := make(chan workItem)
	handoffLen := s.cfg.FetchConcurrency
	handoff := make(chan frameTuple, handoffLen)

	var fetchWG sync.WaitGroup
	compGrp := new(errgroup.Group)

	// Fetch stage: F workers, each fetching the two sources in parallel.
	for i := 0; i < s.cfg.FetchConcurrency; i++ {
		fetchWG.Add(1)
		go func() {
			defer fetchWG.Done()
			for item := range jobs {
				if ctx.Err() != nil {
					return
				}
				s.fetchFrame(ctx, item, handoff)
			}
		}()
	}

	// Composite stage: C workers consuming the bounded handoff channel.
	for i := 0; i < s.cfg.CompositeConcurrency; i++ {
		compGrp.Go(func() error {
			for tuple := range handoff {
				if ctx.Err() != nil {
					// Tuples already handed off are dropped on cancel;
					// their records stay untouched and will be retried.
					continue
				}
				s.compositeFrame(ctx, tuple)
			}
			return nil
		})
	}

	// Dispatch. Stops within one item of cancellation.
dispatch:
	for _, item := range queue {
		select {
		case jobs <- item:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)

	fetchWG.Wait()
	close(handoff)
	_ = compGrp.Wait()

	flushErr := s.flush()
	if ctx.Err() != nil {
		logger.Warn().Msg("scheduler interrupted, state flushed")
		return ctx.Err()
	}
	if flushErr != nil {
		return flushErr
	}
	logger.Info().Int("processed", s.processedCount()).Msg("scheduler finished")
	return nil
}

// buildQueue orders work: failed records within the retry horizon first,
// then currently-missing instants. Successful and abandoned records are
// skipped.
func (s *Scheduler) buildQueue(plan []window.TargetInstant) []workItem {
	now := time.Now().UTC()
	var retries, missing []workItem

	for _, target := range plan {
		rec, ok := s.manifest.Get(target.Key())
		if !ok {
			missing = append(missing, workItem{target: target})
			continue
		}
		switch rec.Status {
		case store.StatusSuccess:
			s.st.AddSkipped()
		case store.StatusAbandoned:
			// Never retried.
		case store.StatusFailed:
			if now.Sub(rec.FirstAttemptAt) <= s.cfg.RetryHorizon {
				retries = append(retries, workItem{target: target, retry: true})
			}
		default:
			missing = append(missing, workItem{target: target})
		}
	}
	return append(retries, missing...)
}

// fetchFrame retrieves corona and disk for one instant and hands the tuple
// to the composite stage. Fetch failures are recorded here.
func (s *Scheduler) fetchFrame(ctx context.Context, item workItem, handoff chan<- frameTuple) {
	var (
		wg        sync.WaitGroup
		corona    fetch.Result
		disk      fetch.Result
		coronaErr error
		diskErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		corona, coronaErr = s.fetcher.Fetch(ctx, item.target, s.fetchCfg.Corona)
	}()
	go func() {
		defer wg.Done()
		disk, diskErr = s.fetcher.Fetch(ctx, item.target, s.fetchCfg.Disk)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	if coronaErr != nil || diskErr != nil {
		err := coronaErr
		if err == nil {
			err = diskErr
		}
		// Release any accepted fingerprint so a later retry can re-offer it.
		if coronaErr == nil {
			s.reg.Forget(source.Corona, corona.Fingerprint, item.target.Index)
		}
		if diskErr == nil {
			s.reg.Forget(source.Disk, disk.Fingerprint, item.target.Index)
		}
		s.recordFailure(ctx, item, "fetch", max(corona.Attempts, disk.Attempts), err)
		return
	}

	select {
	case handoff <- frameTuple{target: item.target, retry: item.retry, corona: corona, disk: disk}:
	case <-ctx.Done():
	}
}

// compositeFrame composes, persists and records one frame.
func (s *Scheduler) compositeFrame(ctx context.Context, tuple frameTuple) {
	attempts := max(tuple.corona.Attempts, tuple.disk.Attempts)

	frameBytes, err := s.composer.Compose(tuple.corona.Bytes, tuple.disk.Bytes)
	if err != nil {
		s.reg.Forget(source.Corona, tuple.corona.Fingerprint, tuple.target.Index)
		s.reg.Forget(source.Disk, tuple.disk.Fingerprint, tuple.target.Index)
		metrics.RecordComposite("error")
		s.recordFailure(ctx, workItem{target: tuple.target, retry: tuple.retry}, "composite", attempts, err)
		return
	}

	path := store.FramePath(s.framesRoot, tuple.target.Time)
	if err := store.WriteFrame(path, frameBytes); err != nil {
		// One retry before giving up on this frame; persistent storage
		// failure surfaces at the next flush.
		if err = store.WriteFrame(path, frameBytes); err != nil {
			s.recordFailure(ctx, workItem{target: tuple.target, retry: tuple.retry}, "storage", attempts, err)
			return
		}
	}

	now := time.Now().UTC()
	s.manifest.Upsert(tuple.target.Key(), now, attempts, func(rec *store.FrameRecord) {
		rec.Status = store.StatusSuccess
		rec.LastError = ""
		rec.CoronaOffset = tuple.corona.OffsetApplied
		rec.DiskOffset = tuple.disk.OffsetApplied
		rec.CoronaFingerprint = tuple.corona.Fingerprint
		rec.DiskFingerprint = tuple.disk.Fingerprint
		rec.FilePath = path
		rec.Bytes = int64(len(frameBytes))
		rec.Duplicate = tuple.corona.Duplicate || tuple.disk.Duplicate
	})

	metrics.RecordComposite("ok")
	s.st.AddSucceeded()
	if tuple.retry {
		s.st.AddRetried()
	}
	if tuple.corona.OffsetApplied != 0 {
		s.st.AddFallback()
	}
	if tuple.disk.OffsetApplied != 0 {
		s.st.AddFallback()
	}
	if tuple.corona.Duplicate || tuple.disk.Duplicate {
		s.st.AddDuplicate()
	}

	s.afterFrame(ctx)
}

// recordFailure marks the frame failed, crediting the upstream attempt count
// reported by the fetcher for the losing offset.
func (s *Scheduler) recordFailure(ctx context.Context, item workItem, kind string, attempts int, err error) {
	now := time.Now().UTC()
	s.manifest.Upsert(item.target.Key(), now, attempts, func(rec *store.FrameRecord) {
		if rec.Status != store.StatusSuccess {
			rec.Status = store.StatusFailed
		}
		rec.LastError = err.Error()
	})
	s.st.AddFailed()
	s.st.AddError(kind)
	if item.retry {
		s.st.AddRetried()
	}

	logger := log.WithComponentFromContext(ctx, "scheduler")
	logger.Warn().
		Err(err).
		Str("kind", kind).
		Str("instant", item.target.Key()).
		Msg("frame failed")

	s.afterFrame(ctx)
}

// afterFrame advances the processed counter and checkpoints every K frames.
func (s *Scheduler) afterFrame(ctx context.Context) {
	s.procMu.Lock()
	s.processed++
	checkpoint := s.processed%s.cfg.CheckpointEvery == 0
	s.procMu.Unlock()

	if !checkpoint {
		return
	}
	if err := s.flush(); err != nil {
		logger := log.WithComponentFromContext(ctx, "scheduler")
		logger.Error().
			Err(err).
			Msg("checkpoint flush failed")
	}
}

func (s *Scheduler) processedCount() int {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.processed
}

// flush persists manifest and run state atomically, retrying each once.
// The duplicate registry is derived from the manifest and needs no separate
// file.
func (s *Scheduler) flush() error {
	if err := s.manifest.Save(s.manifestPath); err != nil {
		if err = s.manifest.Save(s.manifestPath); err != nil {
			return fmt.Errorf("persist manifest: %w", err)
		}
	}
	if err := s.st.Save(s.statePath); err != nil {
		if err = s.st.Save(s.statePath); err != nil {
			return fmt.Errorf("persist run state: %w", err)
		}
	}
	for status, n := range s.manifest.CountByStatus() {
		metrics.SetWindowStatus(status, n)
	}
	return nil
}
