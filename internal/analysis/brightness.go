package analysis

import (
	"math/rand/v2"
	"time"

	"github.com/andresmejia3/irisguide/internal/types"
)

// Defaults for sampled brightness.
const (
	DefaultBrightnessSamples = 30
	DefaultBrightnessRadius  = 50
	DefaultDarkBelow         = 0.25
	DefaultBrightAbove       = 0.85
)

// Rand is the subset of *rand.Rand the estimator needs. Tests inject fixed sequences.
type Rand interface {
	IntN(n int) int
}

// BrightnessEstimator averages normalized luminance over random points near the frame centre.
// It owns its random source and is not safe for concurrent use.
type BrightnessEstimator struct {
	Samples     int
	Radius      int
	DarkBelow   float64
	BrightAbove float64

	rng Rand
}

// NewBrightnessEstimator returns an estimator with default parameters.
// A nil rng is replaced by a time-seeded PCG source.
func NewBrightnessEstimator(rng Rand) *BrightnessEstimator {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &BrightnessEstimator{
		Samples:     DefaultBrightnessSamples,
		Radius:      DefaultBrightnessRadius,
		DarkBelow:   DefaultDarkBelow,
		BrightAbove: DefaultBrightAbove,
		rng:         rng,
	}
}

// Estimate draws Samples points in the square [-Radius, Radius] around the centre.
// Points outside the frame are dropped without replacement, shrinking the divisor.
func (e *BrightnessEstimator) Estimate(f *types.Frame) types.BrightnessResult {
	cx, cy := f.Width/2, f.Height/2
	span := 2*e.Radius + 1

	var sum float64
	var count int
	for i := 0; i < e.Samples; i++ {
		x := cx + e.rng.IntN(span) - e.Radius
		y := cy + e.rng.IntN(span) - e.Radius
		l, ok := NormalizedLuma(f, x, y)
		if !ok {
			continue
		}
		sum += l
		count++
	}

	brightness := 0.0
	if count > 0 {
		brightness = sum / float64(count)
	}
	return types.BrightnessResult{Brightness: brightness, Status: e.Classify(brightness)}
}

// Classify maps a brightness to a lighting status. Both bounds are strict.
func (e *BrightnessEstimator) Classify(brightness float64) types.LightingStatus {
	switch {
	case brightness < e.DarkBelow:
		return types.TooDark
	case brightness > e.BrightAbove:
		return types.TooBright
	default:
		return types.Good
	}
}
