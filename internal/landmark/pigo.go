package landmark

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/irisguide/internal/analysis"
	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/types"
	pigo "github.com/esimov/pigo/core"
)

// perturbFact is the number of perturbations puploc averages per pupil.
const perturbFact = 63

// PigoLocator detects the face with a pigo cascade and refines both pupils with puploc.
// A PigoLocator is safe for concurrent use; the unpacked cascades are read-only.
type PigoLocator struct {
	face   *pigo.Pigo
	puploc *pigo.PuplocCascade
	cfg    config.LandmarkConfig
}

// NewPigoLocator unpacks the face and puploc cascades named in cfg.
func NewPigoLocator(cfg config.LandmarkConfig) (*PigoLocator, error) {
	faceData, err := os.ReadFile(cfg.FaceCascade)
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}
	puplocData, err := os.ReadFile(cfg.PuplocCascade)
	if err != nil {
		return nil, fmt.Errorf("failed to read puploc cascade: %w", err)
	}
	return NewPigoLocatorFromData(faceData, puplocData, cfg)
}

// NewPigoLocatorFromData unpacks cascades that are already in memory.
func NewPigoLocatorFromData(faceData, puplocData []byte, cfg config.LandmarkConfig) (*PigoLocator, error) {
	face, err := pigo.NewPigo().Unpack(faceData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}
	plc, err := pigo.NewPuplocCascade().UnpackCascade(puplocData)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack puploc cascade: %w", err)
	}
	return &PigoLocator{face: face, puploc: plc, cfg: cfg}, nil
}

// LocateLandmarks implements Locator.
func (p *PigoLocator) LocateLandmarks(ctx context.Context, f *types.Frame) (*types.Landmarks, error) {
	if f.Width == 0 || f.Height == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := pigo.ImageParams{
		Pixels: analysis.GrayPixels(f),
		Rows:   f.Height,
		Cols:   f.Width,
		Dim:    f.Width,
	}
	params := pigo.CascadeParams{
		MinSize:     p.cfg.MinFaceSize,
		MaxSize:     p.cfg.MaxFaceSize,
		ShiftFactor: p.cfg.ShiftFactor,
		ScaleFactor: p.cfg.ScaleFactor,
		ImageParams: img,
	}

	dets := p.face.RunCascade(params, 0.0)
	dets = p.face.ClusterDetections(dets, p.cfg.IoUThreshold)

	best, ok := bestDetection(dets, p.cfg.MinFaceQuality)
	if !ok {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	left := p.eye(best, img, -1)
	right := p.eye(best, img, 1)
	return &types.Landmarks{
		Left:      left,
		Right:     right,
		FaceWidth: float64(best.Scale) / float64(f.Width),
	}, nil
}

// eye returns the puploc seed for one side of the face plus the refined pupil when puploc finds it.
// side is -1 for the eye on the image's left and +1 for the right.
func (p *PigoLocator) eye(det pigo.Detection, img pigo.ImageParams, side int) []types.Point {
	seed := pigo.Puploc{
		Row:      det.Row - int(0.085*float32(det.Scale)),
		Col:      det.Col + side*int(0.185*float32(det.Scale)),
		Scale:    float32(det.Scale) * 0.4,
		Perturbs: perturbFact,
	}
	pts := []types.Point{{X: float64(seed.Col), Y: float64(seed.Row)}}

	found := p.puploc.RunDetector(seed, img, 0.0, false)
	if found != nil && found.Row > 0 && found.Col > 0 {
		pts = append(pts, types.Point{X: float64(found.Col), Y: float64(found.Row)})
	}
	return pts
}

func bestDetection(dets []pigo.Detection, minQ float32) (pigo.Detection, bool) {
	var best pigo.Detection
	found := false
	for _, d := range dets {
		if d.Q < minQ {
			continue
		}
		if !found || d.Q > best.Q {
			best = d
			found = true
		}
	}
	return best, found
}
