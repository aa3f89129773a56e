// SPDX-License-Identifier: MIT

package compose

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/heliolapse/heliolapse/internal/config"
)

// applyGrade runs the full per-layer color grade: saturation, brightness,
// hue shift, tint overlay, affine contrast, gamma.
func applyGrade(img image.Image, g config.Grade) *image.NRGBA {
	out := imaging.AdjustSaturation(img, g.Saturation)
	out = imaging.AdjustBrightness(out, g.Brightness)

	if g.HueDegrees != 0 {
		out = imaging.AdjustFunc(out, hueRotate(g.HueDegrees))
	}
	if g.TintOpacity > 0 {
		out = imaging.AdjustFunc(out, tintOverlay(g.TintR, g.TintG, g.TintB, g.TintOpacity))
	}
	if g.ContrastMul != 1 || g.ContrastOff != 0 {
		out = imaging.AdjustFunc(out, affineContrast(g.ContrastMul, g.ContrastOff))
	}
	if g.Gamma != 1 {
		out = imaging.AdjustGamma(out, g.Gamma)
	}
	return out
}

// hueRotate shifts the hue of every pixel by the given degrees via an
// RGB→HSL round trip.
func hueRotate(degrees float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		h, s, l := rgbToHSL(c.R, c.G, c.B)
		h = math.Mod(h+degrees/360+1, 1)
		r, g, b := hslToRGB(h, s, l)
		return color.NRGBA{R: r, G: g, B: b, A: c.A}
	}
}

// tintOverlay blends a fixed RGB tint into every pixel at the given opacity.
func tintOverlay(tr, tg, tb uint8, opacity float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: mix(c.R, tr, opacity),
			G: mix(c.G, tg, opacity),
			B: mix(c.B, tb, opacity),
			A: c.A,
		}
	}
}

// affineContrast applies c' = mul·c + off per channel with clamping.
func affineContrast(mul, off float64) func(color.NRGBA) color.NRGBA {
	return func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: clamp8(mul*float64(c.R) + off),
			G: clamp8(mul*float64(c.G) + off),
			B: clamp8(mul*float64(c.B) + off),
			A: c.A,
		}
	}
}

func mix(base, over uint8, t float64) uint8 {
	return clamp8(float64(base)*(1-t) + float64(over)*t)
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// rgbToHSL converts 8-bit RGB to hue/saturation/lightness in [0,1].
func rgbToHSL(r8, g8, b8 uint8) (h, s, l float64) {
	r := float64(r8) / 255
	g := float64(g8) / 255
	b := float64(b8) / 255

	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2

	if max == min {
		return 0, 0, l
	}

	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}

	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h /= 6
	return h, s, l
}

// hslToRGB converts hue/saturation/lightness in [0,1] back to 8-bit RGB.
func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := clamp8(l * 255)
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	r := hueToChannel(p, q, h+1.0/3)
	g := hueToChannel(p, q, h)
	b := hueToChannel(p, q, h-1.0/3)
	return clamp8(r * 255), clamp8(g * 255), clamp8(b * 255)
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}
