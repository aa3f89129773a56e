// SPDX-License-Identifier: MIT

// Package compose color-grades the two source layers, feathers the disk,
// blends them on a canvas and encodes one frame. The pipeline is a pure
// function of its inputs: identical bytes in, identical bytes out.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/heliolapse/heliolapse/internal/config"
)

// Error wraps any stage failure inside the compositor.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("composite %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &Error{Stage: stage, Err: err}
}

// Composer holds the frozen rendition parameters.
type Composer struct {
	cfg config.CompositeConfig
}

// New creates a composer from validated configuration.
func New(cfg config.CompositeConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Compose produces one encoded JPEG frame from the raw corona and disk
// bodies. Stage order: grade corona, grade disk, feather disk, screen-blend
// on canvas, crop, encode.
func (c *Composer) Compose(coronaBytes, diskBytes []byte) ([]byte, error) {
	coronaImg, err := imaging.Decode(bytes.NewReader(coronaBytes))
	if err != nil {
		return nil, stageErr("decode corona", err)
	}
	diskImg, err := imaging.Decode(bytes.NewReader(diskBytes))
	if err != nil {
		return nil, stageErr("decode disk", err)
	}

	corona := applyGrade(coronaImg, c.cfg.CoronaGrade)
	disk := applyGrade(diskImg, c.cfg.DiskGrade)

	disk = imaging.Resize(disk, c.cfg.DiskFinalSize, c.cfg.DiskFinalSize, imaging.Lanczos)
	featherDisk(disk, c.cfg.CompositeRadius, c.cfg.FeatherRadius)

	canvas := imaging.New(c.cfg.CanvasWidth, c.cfg.CanvasHeight, image.Transparent)
	canvas = imaging.PasteCenter(canvas, corona)
	screenBlendCenter(canvas, disk)

	crop := c.cfg.CropRect()
	frame := imaging.Crop(canvas, crop)
	if got := frame.Bounds().Size(); got.X != crop.Dx() || got.Y != crop.Dy() {
		return nil, stageErr("crop", fmt.Errorf("got %dx%d, want %dx%d", got.X, got.Y, crop.Dx(), crop.Dy()))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(c.cfg.JPEGQuality)); err != nil {
		return nil, stageErr("encode", err)
	}
	return buf.Bytes(), nil
}

// featherDisk multiplies a radial alpha gradient into the disk in place:
// fully opaque within compositeRadius − featherRadius, fading to fully
// transparent at compositeRadius.
func featherDisk(disk *image.NRGBA, compositeRadius, featherRadius int) {
	b := disk.Bounds()
	cx := float64(b.Dx()) / 2
	cy := float64(b.Dy()) / 2
	outer := float64(compositeRadius)
	inner := outer - float64(featherRadius)

	for y := 0; y < b.Dy(); y++ {
		row := disk.Pix[y*disk.Stride : y*disk.Stride+b.Dx()*4]
		fy := float64(y) + 0.5 - cy
		for x := 0; x < b.Dx(); x++ {
			fx := float64(x) + 0.5 - cx
			d := math.Hypot(fx, fy)

			var alpha float64
			switch {
			case d <= inner:
				alpha = 1
			case d >= outer:
				alpha = 0
			default:
				alpha = (outer - d) / (outer - inner)
			}
			i := x * 4
			row[i+3] = uint8(float64(row[i+3])*alpha + 0.5)
		}
	}
}

// screenBlendCenter blends src centered onto dst using the screen operator
// (inverted multiply), weighted by src's alpha channel.
func screenBlendCenter(dst *image.NRGBA, src *image.NRGBA) {
	db := dst.Bounds()
	sb := src.Bounds()
	offX := (db.Dx() - sb.Dx()) / 2
	offY := (db.Dy() - sb.Dy()) / 2

	for sy := 0; sy < sb.Dy(); sy++ {
		dy := sy + offY
		if dy < 0 || dy >= db.Dy() {
			continue
		}
		srow := src.Pix[sy*src.Stride : sy*src.Stride+sb.Dx()*4]
		drow := dst.Pix[dy*dst.Stride : dy*dst.Stride+db.Dx()*4]
		for sx := 0; sx < sb.Dx(); sx++ {
			dx := sx + offX
			if dx < 0 || dx >= db.Dx() {
				continue
			}
			si := sx * 4
			di := dx * 4
			a := uint32(srow[si+3])
			if a == 0 {
				continue
			}
			for ch := 0; ch < 3; ch++ {
				base := uint32(drow[di+ch])
				over := uint32(srow[si+ch])
				screen := 255 - (255-base)*(255-over)/255
				drow[di+ch] = uint8((base*(255-a) + screen*a) / 255)
			}
			if drow[di+3] < uint8(a) {
				drow[di+3] = uint8(a)
			}
		}
	}
}
