// SPDX-License-Identifier: MIT

// Package config defines the typed configuration records for the pipeline
// and loads them with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/heliolapse/heliolapse/internal/source"
)

// WindowConfig controls the rolling capture window.
type WindowConfig struct {
	SafeDelayDays   int `yaml:"safe_delay_days"`  // upstream availability lag tolerance
	TotalDays       int `yaml:"total_days"`       // window length
	IntervalMinutes int `yaml:"interval_minutes"` // frame cadence
}

// SafeDelay returns the safe delay as a duration.
func (w WindowConfig) SafeDelay() time.Duration {
	return time.Duration(w.SafeDelayDays) * 24 * time.Hour
}

// Interval returns the frame cadence as a duration.
func (w WindowConfig) Interval() time.Duration {
	return time.Duration(w.IntervalMinutes) * time.Minute
}

// FramesPerDay returns the number of target instants per day.
func (w WindowConfig) FramesPerDay() int {
	return 1440 / w.IntervalMinutes
}

// FetchConfig controls upstream retrieval.
type FetchConfig struct {
	Attempts      int           `yaml:"attempts"`     // attempts per (instant, offset) pair
	RetryBase     time.Duration `yaml:"retry_base"`   // backoff = base * attempt
	Timeout       time.Duration `yaml:"timeout"`      // hard per-request bound
	MinBytes      int64         `yaml:"min_bytes"`    // bodies below this are invalid
	RatePerSecond float64       `yaml:"rate_per_sec"` // upstream politeness limit
	Corona        source.Spec   `yaml:"corona"`
	Disk          source.Spec   `yaml:"disk"`
}

// Spec returns the layer spec for the given kind.
func (f FetchConfig) Spec(kind source.Kind) source.Spec {
	if kind == source.Disk {
		return f.Disk
	}
	return f.Corona
}

// Grade holds the color-grading parameters for one source layer. The values
// are frozen rendition constants; changing any of them is a rendition
// version change.
type Grade struct {
	Saturation  float64 `yaml:"saturation"`  // percent, imaging.AdjustSaturation domain
	Brightness  float64 `yaml:"brightness"`  // percent
	HueDegrees  float64 `yaml:"hue_degrees"` // signed hue rotation
	TintR       uint8   `yaml:"tint_r"`
	TintG       uint8   `yaml:"tint_g"`
	TintB       uint8   `yaml:"tint_b"`
	TintOpacity float64 `yaml:"tint_opacity"` // 0..1 overlay strength
	ContrastMul float64 `yaml:"contrast_mul"` // affine contrast multiplier
	ContrastOff float64 `yaml:"contrast_off"` // affine contrast offset, -255..255
	Gamma       float64 `yaml:"gamma"`
}

// CompositeConfig controls the frame compositor.
type CompositeConfig struct {
	CoronaGrade     Grade `yaml:"corona_grade"`
	DiskGrade       Grade `yaml:"disk_grade"`
	DiskFinalSize   int   `yaml:"disk_final_size"`  // square edge after resize
	CompositeRadius int   `yaml:"composite_radius"` // fully transparent at this radius
	FeatherRadius   int   `yaml:"feather_radius"`   // gradient width inside the radius
	CanvasWidth     int   `yaml:"canvas_width"`
	CanvasHeight    int   `yaml:"canvas_height"`
	CropLeft        int   `yaml:"crop_left"`
	CropTop         int   `yaml:"crop_top"`
	CropWidth       int   `yaml:"crop_width"`
	CropHeight      int   `yaml:"crop_height"`
	JPEGQuality     int   `yaml:"jpeg_quality"`
	MinFrameBytes   int64 `yaml:"min_frame_bytes"` // validator floor for encoded frames
}

// CropRect returns the crop rectangle in canvas coordinates.
func (c CompositeConfig) CropRect() image.Rectangle {
	return image.Rect(c.CropLeft, c.CropTop, c.CropLeft+c.CropWidth, c.CropTop+c.CropHeight)
}

// EncodeConfig controls the external video encoder.
type EncodeConfig struct {
	Binary         string `yaml:"binary"` // resolved on PATH
	FPS            int    `yaml:"fps"`
	CRF            int    `yaml:"crf"`    // 0..51
	Preset         string `yaml:"preset"` // libx264 quality/speed tradeoff
	MaxChunkFrames int    `yaml:"max_chunk_frames"`
	SocialSeconds  int    `yaml:"social_seconds"` // output cap for the social rendition
}

// PipelineConfig controls scheduler concurrency and checkpointing.
type PipelineConfig struct {
	FetchConcurrency     int           `yaml:"fetch_concurrency"`
	CompositeConcurrency int           `yaml:"composite_concurrency"`
	CheckpointEvery      int           `yaml:"checkpoint_every"`
	RetryHorizon         time.Duration `yaml:"retry_horizon"` // abandonment horizon
}

// RunConfig controls run-level gates and retention.
type RunConfig struct {
	LockStale      time.Duration `yaml:"lock_stale"`
	DiskFloorBytes uint64        `yaml:"disk_floor_bytes"`
	VideoRetention time.Duration `yaml:"video_retention"`
	ScratchMaxAge  time.Duration `yaml:"scratch_max_age"`
}

// AppConfig is the root configuration record.
type AppConfig struct {
	BaseDir      string          `yaml:"base_dir"`
	ScratchDir   string          `yaml:"scratch_dir"`
	UpstreamBase string          `yaml:"upstream_base"`
	LogLevel     string          `yaml:"log_level"`
	LogPretty    bool            `yaml:"log_pretty"` // human-readable console output instead of JSON
	Window       WindowConfig    `yaml:"window"`
	Fetch        FetchConfig     `yaml:"fetch"`
	Composite    CompositeConfig `yaml:"composite"`
	Encode       EncodeConfig    `yaml:"encode"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Run          RunConfig       `yaml:"run"`
}

// Filesystem layout under BaseDir.

func (c AppConfig) FramesDir() string    { return filepath.Join(c.BaseDir, "frames") }
func (c AppConfig) VideosDir() string    { return filepath.Join(c.BaseDir, "videos") }
func (c AppConfig) ManifestPath() string { return filepath.Join(c.BaseDir, "manifest.json") }
func (c AppConfig) StatePath() string    { return filepath.Join(c.BaseDir, "state.json") }
func (c AppConfig) LockPath() string     { return filepath.Join(c.BaseDir, "production.lock") }
func (c AppConfig) HealthPath() string   { return filepath.Join(c.BaseDir, "health.json") }

// Default returns the fully-populated default configuration.
func Default() AppConfig {
	return AppConfig{
		BaseDir:      "/var/lib/heliolapse",
		ScratchDir:   "",
		UpstreamBase: "https://api.helioviewer.org/v2/takeScreenshot/",
		LogLevel:     "info",
		Window: WindowConfig{
			SafeDelayDays:   2,
			TotalDays:       56,
			IntervalMinutes: 15,
		},
		Fetch: FetchConfig{
			Attempts:      3,
			RetryBase:     2 * time.Second,
			Timeout:       5 * time.Minute,
			MinBytes:      1024,
			RatePerSecond: 4,
			Corona:        source.DefaultCorona(),
			Disk:          source.DefaultDisk(),
		},
		Composite: CompositeConfig{
			CoronaGrade: Grade{
				Saturation: 12,
				Brightness: -4,
				HueDegrees: -8,
				TintR:      255, TintG: 96, TintB: 24,
				TintOpacity: 0.12,
				ContrastMul: 1.08,
				ContrastOff: -6,
				Gamma:       1.10,
			},
			DiskGrade: Grade{
				Saturation: 20,
				Brightness: 2,
				HueDegrees: 4,
				TintR:      255, TintG: 160, TintB: 64,
				TintOpacity: 0.08,
				ContrastMul: 1.12,
				ContrastOff: -10,
				Gamma:       0.95,
			},
			DiskFinalSize:   1435,
			CompositeRadius: 700,
			FeatherRadius:   60,
			CanvasWidth:     1920,
			CanvasHeight:    1435,
			CropLeft:        230,
			CropTop:         117,
			CropWidth:       1460,
			CropHeight:      1200,
			JPEGQuality:     95,
			MinFrameBytes:   50 * 1024,
		},
		Encode: EncodeConfig{
			Binary:         "ffmpeg",
			FPS:            24,
			CRF:            18,
			Preset:         "medium",
			MaxChunkFrames: 1000,
			SocialSeconds:  60,
		},
		Pipeline: PipelineConfig{
			FetchConcurrency:     8,
			CompositeConcurrency: 4,
			CheckpointEvery:      100,
			RetryHorizon:         7 * 24 * time.Hour,
		},
		Run: RunConfig{
			LockStale:      12 * time.Hour,
			DiskFloorBytes: 10 << 30,
			VideoRetention: 3 * 24 * time.Hour,
			ScratchMaxAge:  24 * time.Hour,
		},
	}
}

// applyEnv overlays documented environment variables on top of cfg.
func applyEnv(cfg *AppConfig) {
	cfg.BaseDir = ParseString("BASE_DIR", cfg.BaseDir)
	cfg.ScratchDir = ParseString("SCRATCH_DIR", cfg.ScratchDir)
	cfg.UpstreamBase = ParseString("UPSTREAM_BASE", cfg.UpstreamBase)
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = ParseBool("LOG_PRETTY", cfg.LogPretty)

	cfg.Window.SafeDelayDays = ParseInt("SAFE_DELAY_DAYS", cfg.Window.SafeDelayDays)
	cfg.Window.TotalDays = ParseInt("TOTAL_DAYS", cfg.Window.TotalDays)
	cfg.Window.IntervalMinutes = ParseInt("INTERVAL_MINUTES", cfg.Window.IntervalMinutes)

	cfg.Fetch.Attempts = ParseInt("FETCH_ATTEMPTS", cfg.Fetch.Attempts)
	cfg.Fetch.Timeout = ParseDuration("FETCH_TIMEOUT", cfg.Fetch.Timeout)
	cfg.Fetch.RatePerSecond = ParseFloat("FETCH_RPS", cfg.Fetch.RatePerSecond)

	cfg.Encode.Binary = ParseString("FFMPEG_BIN", cfg.Encode.Binary)
	cfg.Encode.FPS = ParseInt("FPS", cfg.Encode.FPS)
	cfg.Encode.CRF = ParseInt("CRF", cfg.Encode.CRF)
	cfg.Encode.Preset = ParseString("PRESET", cfg.Encode.Preset)
	cfg.Encode.MaxChunkFrames = ParseInt("MAX_CHUNK_FRAMES", cfg.Encode.MaxChunkFrames)

	cfg.Pipeline.FetchConcurrency = ParseInt("FETCH_CONCURRENCY", cfg.Pipeline.FetchConcurrency)
	cfg.Pipeline.CompositeConcurrency = ParseInt("COMPOSITE_CONCURRENCY", cfg.Pipeline.CompositeConcurrency)
	cfg.Pipeline.CheckpointEvery = ParseInt("CHECKPOINT_EVERY", cfg.Pipeline.CheckpointEvery)
}

// Validate checks the loaded configuration for internal consistency.
func (c AppConfig) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	if c.UpstreamBase == "" {
		return fmt.Errorf("upstream_base must not be empty")
	}
	if c.Window.IntervalMinutes <= 0 || 1440%c.Window.IntervalMinutes != 0 {
		return fmt.Errorf("interval_minutes %d must evenly divide 1440", c.Window.IntervalMinutes)
	}
	if c.Window.TotalDays <= 0 {
		return fmt.Errorf("total_days must be positive")
	}
	if c.Window.SafeDelayDays < 0 {
		return fmt.Errorf("safe_delay_days must not be negative")
	}
	if c.Fetch.Attempts < 1 {
		return fmt.Errorf("fetch attempts must be at least 1")
	}
	if c.Fetch.MinBytes <= 0 {
		return fmt.Errorf("fetch min_bytes must be positive")
	}
	for _, spec := range []source.Spec{c.Fetch.Corona, c.Fetch.Disk} {
		if err := spec.ValidateOffsets(c.Window.IntervalMinutes); err != nil {
			return err
		}
		if spec.Width <= 0 || spec.Height <= 0 {
			return fmt.Errorf("source %s: width/height must be positive", spec.Kind)
		}
	}
	if c.Composite.DiskFinalSize <= 0 {
		return fmt.Errorf("disk_final_size must be positive")
	}
	if c.Composite.CompositeRadius >= c.Composite.DiskFinalSize/2 {
		return fmt.Errorf("composite_radius %d must be below disk_final_size/2", c.Composite.CompositeRadius)
	}
	if c.Composite.FeatherRadius <= 0 || c.Composite.FeatherRadius >= c.Composite.CompositeRadius {
		return fmt.Errorf("feather_radius must lie in (0, composite_radius)")
	}
	crop := c.Composite.CropRect()
	canvas := image.Rect(0, 0, c.Composite.CanvasWidth, c.Composite.CanvasHeight)
	if !crop.In(canvas) {
		return fmt.Errorf("crop rect %v exceeds canvas %v", crop, canvas)
	}
	if c.Composite.JPEGQuality < 1 || c.Composite.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality %d out of range 1..100", c.Composite.JPEGQuality)
	}
	if c.Encode.CRF < 0 || c.Encode.CRF > 51 {
		return fmt.Errorf("crf %d out of range 0..51", c.Encode.CRF)
	}
	if c.Encode.FPS <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	if c.Encode.MaxChunkFrames <= 0 {
		return fmt.Errorf("max_chunk_frames must be positive")
	}
	if c.Pipeline.FetchConcurrency < 1 || c.Pipeline.CompositeConcurrency < 1 {
		return fmt.Errorf("concurrency settings must be at least 1")
	}
	if c.Pipeline.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint_every must be at least 1")
	}
	return nil
}
