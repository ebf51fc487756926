// Package landmark adapts face/eye landmark detectors to the guidance pipeline.
package landmark

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/andresmejia3/irisguide/internal/types"
)

// ErrBudgetExceeded is returned by WithBudget when the detector did not answer in time.
var ErrBudgetExceeded = errors.New("landmark budget exceeded")

// Locator finds eye landmarks in a frame. It returns (nil, nil) when no face is present.
type Locator interface {
	LocateLandmarks(ctx context.Context, f *types.Frame) (*types.Landmarks, error)
}

// LocatorFunc adapts a plain function to Locator.
type LocatorFunc func(ctx context.Context, f *types.Frame) (*types.Landmarks, error)

// LocateLandmarks calls fn.
func (fn LocatorFunc) LocateLandmarks(ctx context.Context, f *types.Frame) (*types.Landmarks, error) {
	return fn(ctx, f)
}

// None never finds a face.
var None Locator = LocatorFunc(func(context.Context, *types.Frame) (*types.Landmarks, error) {
	return nil, nil
})

// Static returns the same landmarks for every frame.
func Static(lm *types.Landmarks) Locator {
	return LocatorFunc(func(context.Context, *types.Frame) (*types.Landmarks, error) {
		if lm == nil {
			return nil, nil
		}
		cp := *lm
		return &cp, nil
	})
}

// Safe turns panics inside loc into errors.
func Safe(loc Locator) Locator {
	return LocatorFunc(func(ctx context.Context, f *types.Frame) (lm *types.Landmarks, err error) {
		defer func() {
			if r := recover(); r != nil {
				lm = nil
				err = fmt.Errorf("landmark detector panicked: %v\n%s", r, debug.Stack())
			}
		}()
		return loc.LocateLandmarks(ctx, f)
	})
}

// WithBudget bounds each lookup to d. A late answer is dropped, never waited for; the detector
// goroutine finishes on its own. A zero budget disables the bound.
//
// The frame is only borrowed for the call, so the detector gets its own copy of plane 0.
func WithBudget(loc Locator, d time.Duration) Locator {
	if d <= 0 {
		return loc
	}
	return LocatorFunc(func(ctx context.Context, f *types.Frame) (*types.Landmarks, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type answer struct {
			lm  *types.Landmarks
			err error
		}
		done := make(chan answer, 1)
		owned := cloneFrame(f)
		go func() {
			lm, err := loc.LocateLandmarks(ctx, owned)
			done <- answer{lm, err}
		}()

		select {
		case a := <-done:
			return a.lm, a.err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %v", ErrBudgetExceeded, d)
			}
			return nil, ctx.Err()
		}
	})
}

// cloneFrame copies plane 0, the only plane detectors read. Chroma planes are left behind.
func cloneFrame(f *types.Frame) *types.Frame {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Planes = nil
	if len(f.Planes) > 0 {
		p := f.Planes[0]
		cp.Planes = []types.Plane{{
			Data:        append([]byte(nil), p.Data...),
			RowStride:   p.RowStride,
			PixelStride: p.PixelStride,
		}}
	}
	return &cp
}
