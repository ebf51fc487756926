// Package analysis holds the per-frame analyzers: pixel sampling, Laplacian sharpness,
// sampled brightness and iris geometry. Every function here is total over validated frames.
package analysis

import (
	"math"

	"github.com/andresmejia3/irisguide/internal/types"
)

// Rec. 601 luma weights.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

func inBounds(f *types.Frame, x, y int) bool {
	return x >= 0 && x < f.Width && y >= 0 && y < f.Height
}

// RGB reads the colour at (x,y). Planar luma frames return a grey triplet.
// ok is false when (x,y) lies outside the frame; callers skip such samples.
func RGB(f *types.Frame, x, y int) (r, g, b uint8, ok bool) {
	if !inBounds(f, x, y) {
		return 0, 0, 0, false
	}
	p := f.Planes[0]
	switch f.Format {
	case types.FormatBGRA:
		i := y*p.RowStride + x*4
		return p.Data[i+2], p.Data[i+1], p.Data[i], true
	default:
		v := p.Data[y*p.RowStride+x*p.PixelStride]
		return v, v, v, true
	}
}

// Luma returns the 8-bit luminance at (x,y).
func Luma(f *types.Frame, x, y int) (uint8, bool) {
	if !inBounds(f, x, y) {
		return 0, false
	}
	if f.Format == types.FormatBGRA {
		lum := lumaBGRA(f, x, y)
		return uint8(math.Min(255, math.Round(lum))), true
	}
	p := f.Planes[0]
	return p.Data[y*p.RowStride+x*p.PixelStride], true
}

// NormalizedLuma returns luminance in [0,1]. Packed colour frames keep the unrounded weighted sum.
func NormalizedLuma(f *types.Frame, x, y int) (float64, bool) {
	if !inBounds(f, x, y) {
		return 0, false
	}
	if f.Format == types.FormatBGRA {
		return lumaBGRA(f, x, y) / 255.0, true
	}
	p := f.Planes[0]
	return float64(p.Data[y*p.RowStride+x*p.PixelStride]) / 255.0, true
}

func lumaBGRA(f *types.Frame, x, y int) float64 {
	p := f.Planes[0]
	i := y*p.RowStride + x*4
	b := float64(p.Data[i])
	g := float64(p.Data[i+1])
	r := float64(p.Data[i+2])
	return lumaR*r + lumaG*g + lumaB*b
}

// GrayPixels renders the whole frame as a tightly packed 8-bit luminance buffer.
func GrayPixels(f *types.Frame) []uint8 {
	out := make([]uint8, f.Width*f.Height)
	for y := 0; y < f.Height; y++ {
		row := out[y*f.Width : (y+1)*f.Width]
		for x := range row {
			row[x], _ = Luma(f, x, y)
		}
	}
	return out
}
