// SPDX-License-Identifier: MIT

// Package source defines the upstream image layers the pipeline fuses into
// a frame and the per-layer request parameters.
package source

import "fmt"

// Kind identifies one of the two upstream image layers.
type Kind string

const (
	// Corona is the wide-field coronagraph layer.
	Corona Kind = "corona"
	// Disk is the near-Sun disk layer.
	Disk Kind = "disk"
)

// Kinds lists all layers in composition order.
func Kinds() []Kind { return []Kind{Corona, Disk} }

// Spec carries the fixed upstream request configuration for one layer.
type Spec struct {
	Kind       Kind    `yaml:"kind"`
	LayerID    int     `yaml:"layer_id"`    // upstream numeric source id
	ImageScale float64 `yaml:"image_scale"` // arc-seconds per pixel
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`

	// FallbackOffsets is the ordered sequence of signed minute offsets tried
	// when the exact instant is unavailable or a duplicate. The order is an
	// observed upstream property, not sorted by magnitude; changing it is a
	// configuration version bump.
	FallbackOffsets []int `yaml:"fallback_offsets"`
}

// Layers returns the bracketed upstream layer selector for this spec.
func (s Spec) Layers() string {
	return fmt.Sprintf("[%d,1,100]", s.LayerID)
}

// DefaultCorona returns the wide-field layer configuration. The fallback
// sequence biases negative offsets: the coronagraph publishes late more
// often than early.
func DefaultCorona() Spec {
	return Spec{
		Kind:            Corona,
		LayerID:         4,
		ImageScale:      8.4,
		Width:           1920,
		Height:          1435,
		FallbackOffsets: []int{0, -5, 5, -10, 10, -14},
	}
}

// DefaultDisk returns the near-Sun disk layer configuration with an
// alternating-sign fallback sequence.
func DefaultDisk() Spec {
	return Spec{
		Kind:            Disk,
		LayerID:         13,
		ImageScale:      2.4,
		Width:           1435,
		Height:          1435,
		FallbackOffsets: []int{0, -3, 3, -6, 6, -9, 9, -12, 12, -14, 14},
	}
}

// ValidateOffsets checks every fallback offset against the cadence bound:
// |offset| must stay strictly below the frame interval so an adjusted
// instant never lands on a neighboring slot, and the sequence must begin
// with 0. The bound is deliberately interval−1 rather than half the
// interval: the default sequences reach ±14 minutes at the 15-minute
// cadence, matching the upstream's half-hour publication lag, and a
// half-interval bound would reject them.
func (s Spec) ValidateOffsets(intervalMinutes int) error {
	if len(s.FallbackOffsets) == 0 || s.FallbackOffsets[0] != 0 {
		return fmt.Errorf("source %s: fallback sequence must begin with offset 0", s.Kind)
	}
	limit := intervalMinutes - 1
	for _, off := range s.FallbackOffsets {
		if off > limit || off < -limit {
			return fmt.Errorf("source %s: fallback offset %d exceeds ±%d minutes", s.Kind, off, limit)
		}
	}
	return nil
}
