package analysis

import (
	"math"

	"github.com/andresmejia3/irisguide/internal/types"
)

// Face-width breakpoints of the distance heuristic. Between them distance sits on the 0.5 plateau.
const (
	farFaceWidth   = 0.25
	closeFaceWidth = 0.55
	idealDistance  = 0.5
)

// LocateIris turns eye landmarks into a normalized iris centre, radius and distance score.
// Missing landmarks are the ordinary "nothing in frame yet" case and yield the zero result.
func LocateIris(lm *types.Landmarks, frameW, frameH int) types.IrisResult {
	if lm == nil || len(lm.Left) == 0 || len(lm.Right) == 0 || frameW <= 0 || frameH <= 0 {
		return types.IrisResult{}
	}

	left := centroid(lm.Left)
	right := centroid(lm.Right)
	mid := types.Point{X: (left.X + right.X) / 2, Y: (left.Y + right.Y) / 2}

	eyeDistance := math.Hypot(right.X-left.X, right.Y-left.Y)

	return types.IrisResult{
		Detected: true,
		CenterX:  clamp01(mid.X / float64(frameW)),
		CenterY:  clamp01(mid.Y / float64(frameH)),
		Radius:   eyeDistance / float64(frameW) / 4.0,
		Distance: DistanceFromFaceWidth(lm.FaceWidth),
	}
}

// DistanceFromFaceWidth maps normalized face width to the distance score:
// [0,0.25) rises linearly to 0.5, [0.25,0.55] is flat at 0.5, (0.55,1] rises to 1.0.
func DistanceFromFaceWidth(faceWidth float64) float64 {
	var d float64
	switch {
	case faceWidth < farFaceWidth:
		d = (faceWidth / farFaceWidth) * idealDistance
	case faceWidth > closeFaceWidth:
		d = idealDistance + ((faceWidth-closeFaceWidth)/(1-closeFaceWidth))*idealDistance
	default:
		d = idealDistance
	}
	return clamp01(d)
}

func centroid(pts []types.Point) types.Point {
	var c types.Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return types.Point{X: c.X / n, Y: c.Y / n}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
