// SPDX-License-Identifier: MIT

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliolapse/heliolapse/internal/registry"
	"github.com/heliolapse/heliolapse/internal/source"
	"github.com/heliolapse/heliolapse/internal/window"
)

var baseTime = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func key(i int) string {
	return baseTime.Add(time.Duration(i) * 15 * time.Minute).Format(window.KeyFormat)
}

func TestLoadManifestMissingStartsFresh(t *testing.T) {
	m := LoadManifest(filepath.Join(t.TempDir(), "manifest.json"))
	assert.Equal(t, 0, m.Len())
}

func TestLoadManifestCorruptStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))

	m := LoadManifest(path)
	assert.Equal(t, 0, m.Len())
}

func TestManifestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	now := baseTime

	m := NewManifest()
	m.Upsert(key(0), now, 1, func(rec *FrameRecord) {
		rec.Status = StatusSuccess
		rec.CoronaOffset = -5
		rec.DiskOffset = 3
		rec.CoronaFingerprint = "aa"
		rec.DiskFingerprint = "bb"
		rec.FilePath = "/frames/f.jpg"
		rec.Bytes = 120_000
	})
	m.Upsert(key(1), now, 1, func(rec *FrameRecord) {
		rec.Status = StatusFailed
		rec.LastError = "upstream unavailable"
	})
	require.NoError(t, m.Save(path))

	loaded := LoadManifest(path)
	if diff := cmp.Diff(m.Records(), loaded.Records()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertMaintainsAttempts(t *testing.T) {
	m := NewManifest()
	first := baseTime
	second := baseTime.Add(time.Hour)

	// A failed pass that burned three upstream requests, then a clean retry.
	m.Upsert(key(0), first, 3, func(rec *FrameRecord) { rec.Status = StatusFailed })
	m.Upsert(key(0), second, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })

	rec, ok := m.Get(key(0))
	require.True(t, ok)
	assert.Equal(t, 4, rec.Attempts)
	assert.Equal(t, first, rec.FirstAttemptAt)
	assert.Equal(t, second, rec.LastAttemptAt)
	assert.Equal(t, StatusSuccess, rec.Status)
}

func TestUpsertFloorsAttemptsAtOne(t *testing.T) {
	m := NewManifest()
	m.Upsert(key(0), baseTime, 0, func(rec *FrameRecord) { rec.Status = StatusFailed })

	rec, _ := m.Get(key(0))
	assert.Equal(t, 1, rec.Attempts)
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManifest()
	m.Upsert(key(0), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })

	rec, _ := m.Get(key(0))
	rec.Status = StatusFailed

	again, _ := m.Get(key(0))
	assert.Equal(t, StatusSuccess, again.Status)
}

func TestMarkAbandonedHorizonBoundary(t *testing.T) {
	horizon := 7 * 24 * time.Hour
	m := NewManifest()

	// Exactly at the horizon: still eligible for one more retry.
	m.Upsert(key(0), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusFailed })
	// One minute past the horizon: abandoned.
	m.Upsert(key(1), baseTime.Add(-time.Minute), 1, func(rec *FrameRecord) { rec.Status = StatusFailed })
	// Successful records are never abandoned regardless of age.
	m.Upsert(key(2), baseTime.Add(-48*time.Hour), 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })

	now := baseTime.Add(horizon)
	assert.Equal(t, 1, m.MarkAbandoned(now, horizon))

	rec, _ := m.Get(key(0))
	assert.Equal(t, StatusFailed, rec.Status)
	rec, _ = m.Get(key(1))
	assert.Equal(t, StatusAbandoned, rec.Status)
	rec, _ = m.Get(key(2))
	assert.Equal(t, StatusSuccess, rec.Status)
}

func TestPrune(t *testing.T) {
	m := NewManifest()
	for i := 0; i < 4; i++ {
		m.Upsert(key(i), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })
	}
	m.Upsert("garbage-key", baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusFailed })

	removed := m.Prune(baseTime.Add(30 * time.Minute))
	assert.Len(t, removed, 3) // keys 0 and 1 plus the unparsable key
	assert.Equal(t, 2, m.Len())

	_, ok := m.Get(key(2))
	assert.True(t, ok)
}

func TestCountByStatus(t *testing.T) {
	m := NewManifest()
	m.Upsert(key(0), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })
	m.Upsert(key(1), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })
	m.Upsert(key(2), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusFailed })

	counts := m.CountByStatus()
	assert.Equal(t, 2, counts[StatusSuccess])
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, 0, counts[StatusAbandoned])
}

func TestSortedKeys(t *testing.T) {
	m := NewManifest()
	for _, i := range []int{3, 0, 2, 1} {
		m.Upsert(key(i), baseTime, 1, func(rec *FrameRecord) { rec.Status = StatusSuccess })
	}
	assert.Equal(t, []string{key(0), key(1), key(2), key(3)}, m.SortedKeys())
}

func TestReplayRegistry(t *testing.T) {
	plan := make([]window.TargetInstant, 8)
	for i := range plan {
		plan[i] = window.TargetInstant{Index: i, Time: baseTime.Add(time.Duration(i) * 15 * time.Minute)}
	}

	m := NewManifest()
	m.Upsert(key(1), baseTime, 1, func(rec *FrameRecord) {
		rec.Status = StatusSuccess
		rec.CoronaFingerprint = "c1"
		rec.DiskFingerprint = "d1"
	})
	// Failed records contribute nothing.
	m.Upsert(key(3), baseTime, 1, func(rec *FrameRecord) {
		rec.Status = StatusFailed
		rec.CoronaFingerprint = "c3"
	})
	// Records outside the plan are skipped.
	m.Upsert("2020-01-01T00:00:00Z", baseTime, 1, func(rec *FrameRecord) {
		rec.Status = StatusSuccess
		rec.CoronaFingerprint = "old"
	})

	reg := registry.New()
	m.ReplayRegistry(reg, plan)

	assert.Equal(t, 1, reg.Len(source.Corona))
	assert.Equal(t, 1, reg.Len(source.Disk))
	// The replayed fingerprint blocks a distant re-use.
	assert.False(t, reg.Offer(source.Corona, "c1", 6).Accepted)
	assert.True(t, reg.Offer(source.Corona, "c3", 6).Accepted)
}
