package guidance

import (
	"math"

	"github.com/andresmejia3/irisguide/internal/types"
)

// positionTolerance is how far the eye centre may drift from the frame centre before a
// directional hint is shown.
const positionTolerance = 0.15

// Focus bands shown to the user. These are display bands, separate from the fusion thresholds.
const (
	sharpFocusAbove = 150.0
	slightBlurFrom  = 80.0
)

// FocusLevel buckets a focus quality score for display.
type FocusLevel int

const (
	TooBlurry FocusLevel = iota
	SlightlyBlurry
	Sharp
)

func (l FocusLevel) String() string {
	switch l {
	case Sharp:
		return "Sharp"
	case SlightlyBlurry:
		return "Slightly blurry"
	default:
		return "Too blurry"
	}
}

// FocusLevelOf maps a Laplacian variance to a FocusLevel.
func FocusLevelOf(quality float64) FocusLevel {
	switch {
	case quality > sharpFocusAbove:
		return Sharp
	case quality >= slightBlurFrom:
		return SlightlyBlurry
	default:
		return TooBlurry
	}
}

// DistanceHint is the main instruction line.
func DistanceHint(s types.GuidanceState) string {
	switch {
	case !s.IsReady || !s.IrisDetected:
		return "Position your eye in the circle"
	case s.Distance < 0.3:
		return "Move closer"
	case s.Distance > 0.7:
		return "Move away"
	case s.ReadyToCapture:
		return "Perfect! Hold steady"
	default:
		return "Good distance"
	}
}

// PositionHint tells the user which way to move to centre the eye, or "" when centred.
// Horizontal drift is reported before vertical.
func PositionHint(s types.GuidanceState) string {
	if !s.IrisDetected {
		return ""
	}
	dx := s.IrisCenter.X - 0.5
	dy := s.IrisCenter.Y - 0.5

	if math.Abs(dx) > positionTolerance {
		if dx > 0 {
			return "Move left"
		}
		return "Move right"
	}
	if math.Abs(dy) > positionTolerance {
		if dy > 0 {
			return "Move down"
		}
		return "Move up"
	}
	return ""
}

// LightingHint describes the lighting status.
func LightingHint(status types.LightingStatus) string {
	switch status {
	case types.TooDark:
		return "Find more light"
	case types.TooBright:
		return "Reduce glare"
	default:
		return "Good lighting"
	}
}

// HintSet bundles every user-facing line for one state.
type HintSet struct {
	Distance string `json:"distance"`
	Position string `json:"position,omitempty"`
	Focus    string `json:"focus"`
	Lighting string `json:"lighting"`
}

// Hints renders all hints for s.
func Hints(s types.GuidanceState) HintSet {
	return HintSet{
		Distance: DistanceHint(s),
		Position: PositionHint(s),
		Focus:    FocusLevelOf(s.FocusQuality).String(),
		Lighting: LightingHint(s.LightingStatus),
	}
}
