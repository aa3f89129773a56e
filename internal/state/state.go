// SPDX-License-Identifier: MIT

// Package state tracks per-run counters for reporting and the health
// snapshot.
package state

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Run phases.
const (
	PhaseIdle      = "idle"
	PhaseFetching  = "fetching"
	PhaseEncoding  = "encoding"
	PhaseRetention = "retention"
	PhaseDone      = "done"
)

// Snapshot is the serializable view of a run's state.
type Snapshot struct {
	Phase              string            `json:"phase"`
	StartedAt          time.Time         `json:"started_at"`
	FramesPlanned      int               `json:"frames_planned"`
	FramesSucceeded    int               `json:"frames_succeeded"`
	FramesFailed       int               `json:"frames_failed"`
	FramesSkipped      int               `json:"frames_skipped"`
	FramesRetried      int               `json:"frames_retried"`
	FramesAbandoned    int               `json:"frames_abandoned"`
	FallbacksUsed      int               `json:"fallbacks_used"`
	DuplicatesResolved int               `json:"duplicates_resolved"`
	ErrorsByKind       map[string]int    `json:"errors_by_kind,omitempty"`
	Renditions         map[string]string `json:"renditions,omitempty"` // name -> "ok" or error
	OmittedFrames      int               `json:"omitted_frames"`
}

// RunState is a concurrency-safe Snapshot.
type RunState struct {
	mu   sync.Mutex
	snap Snapshot
}

// New creates a RunState for a run starting now.
func New(now time.Time) *RunState {
	return &RunState{snap: Snapshot{
		Phase:        PhaseIdle,
		StartedAt:    now,
		ErrorsByKind: make(map[string]int),
		Renditions:   make(map[string]string),
	}}
}

// ReadSnapshot loads the last persisted snapshot, for status reporting.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path derived from BASE_DIR
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save writes the snapshot atomically.
func (s *RunState) Save(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Snapshot returns a copy of the current state.
func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.ErrorsByKind = make(map[string]int, len(s.snap.ErrorsByKind))
	for k, v := range s.snap.ErrorsByKind {
		snap.ErrorsByKind[k] = v
	}
	snap.Renditions = make(map[string]string, len(s.snap.Renditions))
	for k, v := range s.snap.Renditions {
		snap.Renditions[k] = v
	}
	return snap
}

// SetPhase records the controller's current phase.
func (s *RunState) SetPhase(phase string) {
	s.mu.Lock()
	s.snap.Phase = phase
	s.mu.Unlock()
}

// SetPlanned records the window size.
func (s *RunState) SetPlanned(n int) {
	s.mu.Lock()
	s.snap.FramesPlanned = n
	s.mu.Unlock()
}

func (s *RunState) AddSucceeded() { s.add(func(sn *Snapshot) { sn.FramesSucceeded++ }) }
func (s *RunState) AddFailed()    { s.add(func(sn *Snapshot) { sn.FramesFailed++ }) }
func (s *RunState) AddSkipped()   { s.add(func(sn *Snapshot) { sn.FramesSkipped++ }) }
func (s *RunState) AddRetried()   { s.add(func(sn *Snapshot) { sn.FramesRetried++ }) }
func (s *RunState) AddFallback()  { s.add(func(sn *Snapshot) { sn.FallbacksUsed++ }) }
func (s *RunState) AddDuplicate() { s.add(func(sn *Snapshot) { sn.DuplicatesResolved++ }) }

// SetAbandoned records the abandonment count for this run.
func (s *RunState) SetAbandoned(n int) {
	s.mu.Lock()
	s.snap.FramesAbandoned = n
	s.mu.Unlock()
}

// AddError tallies one error of the given kind.
func (s *RunState) AddError(kind string) {
	s.mu.Lock()
	s.snap.ErrorsByKind[kind]++
	s.mu.Unlock()
}

// SetRendition records a rendition outcome ("ok" or an error string).
func (s *RunState) SetRendition(name, outcome string) {
	s.mu.Lock()
	s.snap.Renditions[name] = outcome
	s.mu.Unlock()
}

// AddOmitted records frames missing from an encode selection.
func (s *RunState) AddOmitted(n int) {
	s.mu.Lock()
	s.snap.OmittedFrames += n
	s.mu.Unlock()
}

func (s *RunState) add(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}
