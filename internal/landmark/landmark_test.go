package landmark

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/types"
	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frame = types.NewLumaFrame(4, 4, make([]byte, 16))

func TestStaticAndNone(t *testing.T) {
	want := &types.Landmarks{Left: []types.Point{{X: 1, Y: 2}}, Right: []types.Point{{X: 3, Y: 2}}, FaceWidth: 0.4}
	got, err := Static(want).LocateLandmarks(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = None.LocateLandmarks(context.Background(), frame)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSafe_RecoversPanic(t *testing.T) {
	loc := Safe(LocatorFunc(func(context.Context, *types.Frame) (*types.Landmarks, error) {
		panic("detector exploded")
	}))
	lm, err := loc.LocateLandmarks(context.Background(), frame)
	assert.Nil(t, lm)
	assert.ErrorContains(t, err, "detector exploded")
}

func TestWithBudget_SlowDetectorDropped(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := LocatorFunc(func(ctx context.Context, f *types.Frame) (*types.Landmarks, error) {
		<-release
		return &types.Landmarks{}, nil
	})

	start := time.Now()
	lm, err := WithBudget(slow, 20*time.Millisecond).LocateLandmarks(context.Background(), frame)
	assert.Nil(t, lm)
	assert.True(t, errors.Is(err, ErrBudgetExceeded), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithBudget_FastDetectorAnswers(t *testing.T) {
	want := &types.Landmarks{FaceWidth: 0.3}
	lm, err := WithBudget(Static(want), time.Second).LocateLandmarks(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, want, lm)
}

func TestWithBudget_DetectorGetsOwnCopy(t *testing.T) {
	seen := make(chan *types.Frame, 1)
	loc := LocatorFunc(func(_ context.Context, f *types.Frame) (*types.Landmarks, error) {
		seen <- f
		return nil, nil
	})
	_, err := WithBudget(loc, time.Second).LocateLandmarks(context.Background(), frame)
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, frame.Planes[0].Data, got.Planes[0].Data)
	got.Planes[0].Data[0] = 99
	assert.Equal(t, byte(0), frame.Planes[0].Data[0])
}

func TestWithBudget_CopiesOnlyLumaPlane(t *testing.T) {
	nv12 := &types.Frame{
		Width:  4,
		Height: 4,
		Format: types.FormatLuma,
		Planes: []types.Plane{
			{Data: make([]byte, 16), RowStride: 4, PixelStride: 1},
			{Data: make([]byte, 8), RowStride: 4, PixelStride: 2},
		},
	}
	seen := make(chan *types.Frame, 1)
	loc := LocatorFunc(func(_ context.Context, f *types.Frame) (*types.Landmarks, error) {
		seen <- f
		return nil, nil
	})
	_, err := WithBudget(loc, time.Second).LocateLandmarks(context.Background(), nv12)
	require.NoError(t, err)

	got := <-seen
	require.Len(t, got.Planes, 1)
	assert.Len(t, got.Planes[0].Data, 16)
	assert.NoError(t, got.Validate())
	assert.Len(t, nv12.Planes, 2, "caller's frame untouched")
}

func TestPigoEyeSeeds(t *testing.T) {
	// An empty puploc cascade has no stages, so each refined pupil is the perturbed seed itself.
	p := &PigoLocator{puploc: pigo.NewPuplocCascade()}
	img := pigo.ImageParams{Pixels: make([]uint8, 400*600), Rows: 400, Cols: 600, Dim: 600}
	det := pigo.Detection{Row: 200, Col: 300, Scale: 200, Q: 10}

	tests := []struct {
		name string
		side int
		want types.Point
	}{
		{"left", -1, types.Point{X: 300 - 37, Y: 200 - 17}},
		{"right", 1, types.Point{X: 300 + 37, Y: 200 - 17}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts := p.eye(det, img, tt.side)
			require.Len(t, pts, 2, "seed plus refined pupil")
			assert.Equal(t, tt.want, pts[0], "seed at 0.085 up and 0.185 across of the face scale")

			// Perturbations stay within 0.075 of the 0.4*scale search window.
			assert.InDelta(t, tt.want.X, pts[1].X, 7)
			assert.InDelta(t, tt.want.Y, pts[1].Y, 7)
		})
	}
}

func TestBestDetection(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 10, Col: 10, Scale: 40, Q: 3},
		{Row: 50, Col: 60, Scale: 80, Q: 12},
		{Row: 20, Col: 20, Scale: 30, Q: 9},
	}
	best, ok := bestDetection(dets, 5)
	require.True(t, ok)
	assert.Equal(t, 80, best.Scale)

	_, ok = bestDetection(dets, 20)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	loc, closer, err := Open(config.LandmarkConfig{Backend: config.BackendNone}, 0)
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	lm, err := loc.LocateLandmarks(context.Background(), frame)
	assert.NoError(t, err)
	assert.Nil(t, lm)

	_, _, err = Open(config.LandmarkConfig{
		Backend:       config.BackendPigo,
		FaceCascade:   filepath.Join(t.TempDir(), "missing"),
		PuplocCascade: filepath.Join(t.TempDir(), "missing"),
	}, 0)
	assert.ErrorContains(t, err, "face cascade")

	_, _, err = Open(config.LandmarkConfig{Backend: config.BackendProcess}, 0)
	assert.Error(t, err)

	_, _, err = Open(config.LandmarkConfig{Backend: "coreml"}, 0)
	assert.ErrorContains(t, err, "unknown landmark backend")
}
