package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/andresmejia3/irisguide/internal/analysis"
	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/landmark"
	"github.com/andresmejia3/irisguide/internal/logging"
	"github.com/andresmejia3/irisguide/internal/timeutil"
	"github.com/andresmejia3/irisguide/internal/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Analyzer runs the three per-frame analyses. It owns a random source, so give each worker
// goroutine its own Analyzer.
type Analyzer struct {
	sharpness  *analysis.SharpnessEstimator
	brightness *analysis.BrightnessEstimator
	locator    landmark.Locator
	clock      timeutil.Clock

	// Landmark failures can happen on every frame; keep the log readable.
	landmarkLog rate.Sometimes
}

// NewAnalyzer builds an analyzer from tuning. loc may be nil (no face ever found).
// rng may be nil for a time-seeded source.
func NewAnalyzer(t config.Tuning, loc landmark.Locator, clock timeutil.Clock, rng analysis.Rand) *Analyzer {
	if loc == nil {
		loc = landmark.None
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sharp := analysis.NewSharpnessEstimator()
	sharp.BlurThreshold = t.BlurThreshold
	sharp.Stride = t.SharpnessStride

	bright := analysis.NewBrightnessEstimator(rng)
	bright.Samples = t.BrightnessSamples
	bright.Radius = t.BrightnessRadius
	bright.DarkBelow = t.DarkBelow
	bright.BrightAbove = t.BrightAbove

	return &Analyzer{
		sharpness:   sharp,
		brightness:  bright,
		locator:     landmark.WithBudget(landmark.Safe(loc), t.LandmarkBudget),
		clock:       clock,
		landmarkLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Analyze validates f and returns its results tagged with seq. The landmark lookup runs
// alongside sharpness and brightness. A panic in any of them is returned as an error, as is
// cancellation of ctx.
func (a *Analyzer) Analyze(ctx context.Context, f *types.Frame, seq uint64) (res types.FrameResult, err error) {
	if err := f.Validate(); err != nil {
		return res, err
	}
	defer recoverInto(&err)

	res.Seq = seq
	res.Timestamp = f.Timestamp
	if res.Timestamp.IsZero() {
		res.Timestamp = a.clock.Now()
	}

	var lm *types.Landmarks
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err)
		found, lerr := a.locator.LocateLandmarks(gctx, f)
		if lerr != nil {
			// No landmarks this frame; guidance shows "not detected" rather than failing.
			a.landmarkLog.Do(func() {
				logging.Logger().Debug("landmark lookup failed", "seq", seq, "err", lerr)
			})
			return nil
		}
		lm = found
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err)
		res.Sharpness = a.sharpness.Estimate(f)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err)
		res.Brightness = a.brightness.Estimate(f)
		return nil
	})
	if err := g.Wait(); err != nil {
		return types.FrameResult{}, err
	}
	// A cancelled caller leaves the landmark lookup unanswered; drop the frame.
	if err := ctx.Err(); err != nil {
		return types.FrameResult{}, err
	}

	res.Iris = analysis.LocateIris(lm, f.Width, f.Height)
	return res, nil
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("analysis panicked: %v\n%s", r, debug.Stack())
	}
}
