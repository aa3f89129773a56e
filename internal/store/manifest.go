// SPDX-License-Identifier: MIT

// Package store owns the on-disk frame layout and the manifest that is the
// source of truth for every frame's status.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/heliolapse/heliolapse/internal/log"
	"github.com/heliolapse/heliolapse/internal/registry"
	"github.com/heliolapse/heliolapse/internal/source"
	"github.com/heliolapse/heliolapse/internal/window"
)

// Frame status values.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// FrameRecord is the persisted state of one target instant.
type FrameRecord struct {
	Status            string    `json:"status"`
	FirstAttemptAt    time.Time `json:"first_attempt_at"`
	LastAttemptAt     time.Time `json:"last_attempt_at"`
	Attempts          int       `json:"attempts"`
	LastError         string    `json:"last_error,omitempty"`
	CoronaOffset      int       `json:"corona_offset"`
	DiskOffset        int       `json:"disk_offset"`
	CoronaFingerprint string    `json:"corona_fingerprint,omitempty"`
	DiskFingerprint   string    `json:"disk_fingerprint,omitempty"`
	FilePath          string    `json:"file_path,omitempty"`
	Bytes             int64     `json:"bytes,omitempty"`
	Duplicate         bool      `json:"duplicate,omitempty"`
}

// Manifest maps ISO-8601 instant keys to frame records. All mutation goes
// through Upsert so attempt counters stay monotonic.
type Manifest struct {
	mu      sync.Mutex
	records map[string]*FrameRecord
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{records: make(map[string]*FrameRecord)}
}

// LoadManifest reads a manifest from disk. A missing or corrupt file is
// tolerated by starting fresh.
func LoadManifest(path string) *Manifest {
	logger := log.WithComponent("store")

	data, err := os.ReadFile(path) // #nosec G304 -- path derived from BASE_DIR
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("manifest unreadable, starting fresh")
		}
		return NewManifest()
	}

	var records map[string]*FrameRecord
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("manifest corrupt, starting fresh")
		return NewManifest()
	}
	if records == nil {
		records = make(map[string]*FrameRecord)
	}
	logger.Info().Int("records", len(records)).Str("path", path).Msg("manifest loaded")
	return &Manifest{records: records}
}

// Save serializes the manifest to a temp sibling and renames it into place.
func (m *Manifest) Save(path string) error {
	m.mu.Lock()
	data, err := json.MarshalIndent(m.records, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Get returns a copy of the record for the key, if present.
func (m *Manifest) Get(key string) (FrameRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return FrameRecord{}, false
	}
	return *rec, true
}

// Upsert applies fn to the record for key, creating it first if absent.
// attempts is the number of upstream attempts this touch represents, as
// reported by the fetcher; it is floored at one so the counter stays
// monotonic. Timestamps are maintained here so callers cannot regress them.
func (m *Manifest) Upsert(key string, now time.Time, attempts int, fn func(rec *FrameRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		rec = &FrameRecord{FirstAttemptAt: now}
		m.records[key] = rec
	}
	if attempts < 1 {
		attempts = 1
	}
	rec.Attempts += attempts
	rec.LastAttemptAt = now
	fn(rec)
}

// Len returns the number of records.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Records returns a copy of all records keyed by instant.
func (m *Manifest) Records() map[string]FrameRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]FrameRecord, len(m.records))
	for k, v := range m.records {
		out[k] = *v
	}
	return out
}

// SortedKeys returns all record keys in chronological order.
func (m *Manifest) SortedKeys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// CountByStatus tallies records per status.
func (m *Manifest) CountByStatus() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, 3)
	for _, rec := range m.records {
		counts[rec.Status]++
	}
	return counts
}

// MarkAbandoned transitions failed records older than the horizon to
// abandoned and returns how many were transitioned. A record at exactly the
// horizon age stays eligible for one more retry.
func (m *Manifest) MarkAbandoned(now time.Time, horizon time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.Status == StatusFailed && now.Sub(rec.FirstAttemptAt) > horizon {
			rec.Status = StatusAbandoned
			n++
		}
	}
	return n
}

// Prune drops records whose instant falls before the cutoff and returns the
// removed keys.
func (m *Manifest) Prune(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []string
	for key := range m.records {
		t, err := window.ParseKey(key)
		if err != nil || t.Before(cutoff) {
			removed = append(removed, key)
			delete(m.records, key)
		}
	}
	return removed
}

// ReplayRegistry rebuilds the duplicate registry from persisted
// fingerprints. The plan supplies the window index for each key; records
// outside the plan are skipped.
func (m *Manifest) ReplayRegistry(reg *registry.Registry, plan []window.TargetInstant) {
	index := make(map[string]int, len(plan))
	for _, t := range plan {
		index[t.Key()] = t.Index
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		idx, ok := index[key]
		if !ok || rec.Status != StatusSuccess {
			continue
		}
		if rec.CoronaFingerprint != "" {
			reg.Offer(source.Corona, rec.CoronaFingerprint, idx)
		}
		if rec.DiskFingerprint != "" {
			reg.Offer(source.Disk, rec.DiskFingerprint, idx)
		}
	}
}
