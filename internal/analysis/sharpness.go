package analysis

import (
	"github.com/andresmejia3/irisguide/internal/types"
	"gonum.org/v1/gonum/stat"
)

// Defaults for the Laplacian focus measure.
const (
	DefaultBlurThreshold   = 100.0
	DefaultSharpnessStride = 2
)

// SharpnessEstimator scores focus as the variance of a 3x3 Laplacian over the centre ninth of the frame.
type SharpnessEstimator struct {
	// BlurThreshold is empirical: frames scoring strictly below it are blurry.
	BlurThreshold float64
	// Stride is the grid step in both axes. Coarser grids trade accuracy for frame budget.
	Stride int
}

// NewSharpnessEstimator returns an estimator with the default threshold and stride.
func NewSharpnessEstimator() *SharpnessEstimator {
	return &SharpnessEstimator{BlurThreshold: DefaultBlurThreshold, Stride: DefaultSharpnessStride}
}

// Estimate computes the focus measure. Degenerate frames score 0 and are blurry.
func (e *SharpnessEstimator) Estimate(f *types.Frame) types.SharpnessResult {
	responses := LaplacianResponses(f, e.stride())
	if len(responses) == 0 {
		return types.SharpnessResult{Sharpness: 0, IsBlurry: true}
	}
	sharpness := LaplacianVariance(responses)
	return types.SharpnessResult{
		Sharpness: sharpness,
		IsBlurry:  sharpness < e.BlurThreshold,
	}
}

func (e *SharpnessEstimator) stride() int {
	if e.Stride < 1 {
		return DefaultSharpnessStride
	}
	return e.Stride
}

// LaplacianResponses walks the centre tile and returns the kernel response at every grid point.
// The walk stops two pixels short of the tile's far edge so the 3x3 window stays inside it.
// A stride below 1 falls back to the default.
func LaplacianResponses(f *types.Frame, stride int) []float64 {
	if stride < 1 {
		stride = DefaultSharpnessStride
	}
	sampleW, sampleH := f.Width/3, f.Height/3
	startX, startY := f.Width/3, f.Height/3
	if sampleW < 3 || sampleH < 3 {
		return nil
	}

	var responses []float64
	var v [3][3]int
	for y := startY; y < startY+sampleH-2; y += stride {
		for x := startX; x < startX+sampleW-2; x += stride {
			for dy := 0; dy < 3; dy++ {
				for dx := 0; dx < 3; dx++ {
					l, _ := Luma(f, x+dx, y+dy)
					v[dy][dx] = int(l)
				}
			}
			// [[0,1,0],[1,-4,1],[0,1,0]]
			r := v[0][1] + v[1][0] + v[1][2] + v[2][1] - 4*v[1][1]
			responses = append(responses, float64(r))
		}
	}
	return responses
}

// LaplacianVariance is the population variance (divide by N) of the responses.
func LaplacianVariance(responses []float64) float64 {
	if len(responses) == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(responses, nil)
	return variance
}
