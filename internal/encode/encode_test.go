// SPDX-License-Identifier: MIT

package encode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliolapse/heliolapse/internal/config"
	"github.com/heliolapse/heliolapse/internal/store"
	"github.com/heliolapse/heliolapse/internal/window"
)

func TestRenditionPresets(t *testing.T) {
	rends := Renditions(config.EncodeConfig{SocialSeconds: 60})
	require.Len(t, rends, 3)

	assert.Equal(t, Rendition{Name: "desktop", Width: 1460, Height: 1200}, rends[0])
	assert.Equal(t, "mobile", rends[1].Name)
	assert.True(t, rends[1].PortraitCrop)
	assert.Equal(t, 0, rends[1].MaxSeconds)
	assert.Equal(t, 60, rends[2].MaxSeconds)
}

func TestSelectWindow(t *testing.T) {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	plan := make([]window.TargetInstant, 4)
	for i := range plan {
		plan[i] = window.TargetInstant{Index: i, Time: base.Add(time.Duration(i) * 15 * time.Minute)}
	}

	m := store.NewManifest()
	m.Upsert(plan[0].Key(), base, 1, func(rec *store.FrameRecord) {
		rec.Status = store.StatusSuccess
		rec.FilePath = "/frames/a.jpg"
	})
	m.Upsert(plan[1].Key(), base, 1, func(rec *store.FrameRecord) {
		rec.Status = store.StatusFailed
	})
	m.Upsert(plan[3].Key(), base, 1, func(rec *store.FrameRecord) {
		rec.Status = store.StatusSuccess
		rec.FilePath = "/frames/d.jpg"
	})

	sel := SelectWindow(m, plan)
	assert.Equal(t, []string{"/frames/a.jpg", "/frames/d.jpg"}, sel.Paths)
	assert.Equal(t, 2, sel.Omitted)
}

func TestSelectionTail(t *testing.T) {
	sel := Selection{Paths: []string{"a", "b", "c", "d"}, Omitted: 1}

	tail := sel.Tail(2)
	assert.Equal(t, []string{"c", "d"}, tail.Paths)
	assert.Equal(t, 1, tail.Omitted)

	assert.Equal(t, sel, sel.Tail(0))
	assert.Equal(t, sel, sel.Tail(10))
}

func TestPartition(t *testing.T) {
	paths := make([]string, 2500)

	chunks := partition(paths, 1000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)

	assert.Len(t, partition(paths[:900], 1000), 1)
	assert.Len(t, partition(nil, 1000), 1)
}

func TestChunkArgsDesktop(t *testing.T) {
	cfg := config.EncodeConfig{FPS: 24, CRF: 18, Preset: "medium"}
	rend := Rendition{Name: "desktop", Width: 1460, Height: 1200}

	args := chunkArgs(cfg, rend, "/tmp/list.txt", "/videos/out.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f concat -safe 0 -i /tmp/list.txt")
	assert.Contains(t, joined, "-c:v libx264 -preset medium -crf 18")
	assert.Contains(t, joined, "-pix_fmt yuv420p")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.Contains(t, joined, "-r 24")
	assert.NotContains(t, joined, "-vf", "desktop keeps the native frame geometry")
	assert.Equal(t, "/videos/out.mp4", args[len(args)-1])
}

func TestChunkArgsPortrait(t *testing.T) {
	cfg := config.EncodeConfig{FPS: 24, CRF: 18, Preset: "medium"}
	rend := Rendition{Name: "mobile", Width: 1080, Height: 1350, PortraitCrop: true}

	args := chunkArgs(cfg, rend, "/tmp/list.txt", "/videos/out.mp4")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-vf scale=-2:1350,crop=1080:1350")
}

func TestConcatArgs(t *testing.T) {
	joined := strings.Join(concatArgs("/tmp/chunks.txt", "/videos/out.mp4"), " ")
	assert.Contains(t, joined, "-f concat -safe 0 -i /tmp/chunks.txt")
	assert.Contains(t, joined, "-c copy")
}

func TestOutputPath(t *testing.T) {
	day := time.Date(2026, 8, 24, 13, 45, 0, 0, time.UTC)
	assert.Equal(t,
		filepath.Join("/videos", "desktop_2026-08-24.mp4"),
		OutputPath("/videos", "desktop", day))
}

func TestWriteFrameList(t *testing.T) {
	o := NewOrchestrator(config.EncodeConfig{FPS: 24}, "")
	dir := t.TempDir()

	path, err := o.writeFrameList(dir, []string{"/f/a.jpg", "/f/b.jpg"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	require.Len(t, lines, 5)
	assert.Equal(t, "file '/f/a.jpg'", lines[0])
	assert.Equal(t, "duration 0.041667", lines[1])
	assert.Equal(t, "file '/f/b.jpg'", lines[2])
	// Last file repeated so the demuxer honors the final duration.
	assert.Equal(t, "file '/f/b.jpg'", lines[4])
}

func TestWriteConcatList(t *testing.T) {
	o := NewOrchestrator(config.EncodeConfig{FPS: 24}, "")
	dir := t.TempDir()

	path, err := o.writeConcatList(dir, []string{"/s/chunk_000.mp4", "/s/chunk_001.mp4"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file '/s/chunk_000.mp4'\nfile '/s/chunk_001.mp4'\n", string(data))
}

func TestEscapeConcatPath(t *testing.T) {
	assert.Equal(t, `/f/it'\''s.jpg`, escapeConcatPath("/f/it's.jpg"))
	assert.Equal(t, "/plain.jpg", escapeConcatPath("/plain.jpg"))
}

func TestEncoderErrorMessage(t *testing.T) {
	err := &EncoderError{ExitCode: 1, Err: assert.AnError}
	assert.NotContains(t, err.Error(), ":  ")

	err.Stderr = []string{"frame= 100", "No such file or directory"}
	assert.Contains(t, err.Error(), "encoder exit 1")
	assert.Contains(t, err.Error(), "No such file or directory")
}

func TestEncodeEmptySelection(t *testing.T) {
	o := NewOrchestrator(config.EncodeConfig{FPS: 24, MaxChunkFrames: 1000}, "")
	_, err := o.Encode(context.Background(), Selection{}, Rendition{Name: "desktop"}, filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no frames selected")
}

func TestEncodeMissingBinary(t *testing.T) {
	o := NewOrchestrator(config.EncodeConfig{Binary: "no-such-encoder-binary", FPS: 24, MaxChunkFrames: 1000}, "")
	sel := Selection{Paths: []string{"/f/a.jpg"}}

	_, err := o.Encode(context.Background(), sel, Rendition{Name: "desktop"}, filepath.Join(t.TempDir(), "out.mp4"))
	require.Error(t, err)

	var encErr *EncoderError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, -1, encErr.ExitCode)
}
