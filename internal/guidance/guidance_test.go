package guidance

import (
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func readyResult(seq uint64, at time.Duration) types.FrameResult {
	return types.FrameResult{
		Seq:        seq,
		Timestamp:  epoch.Add(at),
		Iris:       types.IrisResult{Detected: true, CenterX: 0.5, CenterY: 0.5, Radius: 0.05, Distance: 0.5},
		Sharpness:  types.SharpnessResult{Sharpness: 200, IsBlurry: false},
		Brightness: types.BrightnessResult{Brightness: 0.6, Status: types.Good},
	}
}

func notReadyResult(seq uint64, at time.Duration) types.FrameResult {
	r := readyResult(seq, at)
	r.Brightness = types.BrightnessResult{Brightness: 0.1, Status: types.TooDark}
	return r
}

// feed applies one result every 100ms starting at from, for the given span inclusive.
func feed(t *testing.T, s *Session, seq *uint64, from, span time.Duration, mk func(uint64, time.Duration) types.FrameResult) types.GuidanceState {
	t.Helper()
	var st types.GuidanceState
	for at := from; at <= from+span; at += 100 * time.Millisecond {
		*seq++
		var err error
		st, err = s.Apply(mk(*seq, at))
		require.NoError(t, err)
	}
	return st
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession(config.Default())
	st := s.State()
	assert.Equal(t, types.DefaultGuidanceState(), st)
	assert.False(t, st.IrisDetected)
	assert.True(t, st.IsBlurry)
	assert.Equal(t, types.TooDark, st.LightingStatus)
	assert.False(t, st.IsReady)
	assert.NotEqual(t, NewSession(config.Default()).ID, s.ID)
}

func TestSession_DebounceTiming(t *testing.T) {
	s := NewSession(config.Default())
	var seq uint64

	st := feed(t, s, &seq, 0, 400*time.Millisecond, readyResult)
	assert.False(t, st.ReadyToCapture, "400ms of ready frames is not enough")
	assert.True(t, st.IsReady)

	st = feed(t, s, &seq, 500*time.Millisecond, 0, readyResult)
	assert.True(t, st.ReadyToCapture, "500ms reached")

	st = feed(t, s, &seq, 600*time.Millisecond, 0, notReadyResult)
	assert.False(t, st.ReadyToCapture, "one bad frame clears readiness immediately")

	st = feed(t, s, &seq, 700*time.Millisecond, 400*time.Millisecond, readyResult)
	assert.False(t, st.ReadyToCapture, "timer restarted, old window not resumed")

	st = feed(t, s, &seq, 1200*time.Millisecond, 0, readyResult)
	assert.True(t, st.ReadyToCapture)
}

func TestSession_NoFaceNeverReady(t *testing.T) {
	s := NewSession(config.Default())
	var seq uint64
	st := feed(t, s, &seq, 0, time.Second, func(seq uint64, at time.Duration) types.FrameResult {
		r := readyResult(seq, at)
		r.Iris = types.IrisResult{}
		return r
	})
	assert.False(t, st.IrisDetected)
	assert.False(t, st.ReadyToCapture)
	assert.True(t, st.IsReady)
}

func TestSession_SustainedReady(t *testing.T) {
	s := NewSession(config.Default())
	var seq uint64
	st := feed(t, s, &seq, 0, 600*time.Millisecond, readyResult)
	assert.True(t, st.ReadyToCapture)
	assert.True(t, st.IsReady, "readyToCapture implies isReady")
	assert.Equal(t, 200.0, st.FocusQuality)
	assert.Equal(t, types.Vec2{X: 0.5, Y: 0.5}, st.IrisCenter)
}

func TestSession_StaleAndClosed(t *testing.T) {
	s := NewSession(config.Default())
	_, err := s.Apply(readyResult(5, 0))
	require.NoError(t, err)

	before := s.State()
	_, err = s.Apply(notReadyResult(5, time.Second))
	assert.ErrorIs(t, err, ErrStaleResult)
	_, err = s.Apply(notReadyResult(3, time.Second))
	assert.ErrorIs(t, err, ErrStaleResult)
	assert.Equal(t, before, s.State(), "stale results leave the state untouched")

	s.Close()
	_, err = s.Apply(readyResult(6, time.Second))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, before, s.State())
}

func TestReadyNow_Conditions(t *testing.T) {
	cfg := config.Default()
	tests := []struct {
		name   string
		mutate func(*types.FrameResult)
		want   bool
	}{
		{"all good", func(*types.FrameResult) {}, true},
		{"not detected", func(r *types.FrameResult) { r.Iris.Detected = false }, false},
		{"distance lower bound", func(r *types.FrameResult) { r.Iris.Distance = 0.3 }, true},
		{"distance upper bound", func(r *types.FrameResult) { r.Iris.Distance = 0.7 }, true},
		{"too far", func(r *types.FrameResult) { r.Iris.Distance = 0.29 }, false},
		{"too close", func(r *types.FrameResult) { r.Iris.Distance = 0.71 }, false},
		{"sharp but under focus threshold", func(r *types.FrameResult) { r.Sharpness.Sharpness = 120 }, false},
		{"focus threshold is strict", func(r *types.FrameResult) { r.Sharpness.Sharpness = 150 }, false},
		{"blurry flag", func(r *types.FrameResult) { r.Sharpness.IsBlurry = true }, false},
		{"too bright", func(r *types.FrameResult) { r.Brightness.Status = types.TooBright }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := readyResult(1, 0)
			tt.mutate(&r)
			assert.Equal(t, tt.want, ReadyNow(r, cfg))
		})
	}
}

func TestFuse_ZeroDebounceFiresImmediately(t *testing.T) {
	cfg := config.Default()
	cfg.Debounce = 0
	st, since := Fuse(types.DefaultGuidanceState(), ReadySince{}, readyResult(1, 0), cfg)
	assert.True(t, since.Set)
	assert.True(t, st.ReadyToCapture)
}

func TestSession_ConcurrentApply(t *testing.T) {
	s := NewSession(config.Default())
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			_, _ = s.Apply(readyResult(seq, time.Duration(seq)*10*time.Millisecond))
		}(uint64(i))
	}
	wg.Wait()
	st := s.State()
	assert.True(t, st.IsReady)
	assert.True(t, !st.ReadyToCapture || st.IsReady)
}

func TestHints(t *testing.T) {
	st := types.DefaultGuidanceState()
	assert.Equal(t, "Position your eye in the circle", DistanceHint(st))

	st.IsReady = true
	st.IrisDetected = true
	st.Distance = 0.2
	assert.Equal(t, "Move closer", DistanceHint(st))
	st.Distance = 0.8
	assert.Equal(t, "Move away", DistanceHint(st))
	st.Distance = 0.5
	assert.Equal(t, "Good distance", DistanceHint(st))
	st.ReadyToCapture = true
	assert.Equal(t, "Perfect! Hold steady", DistanceHint(st))

	tests := []struct {
		center types.Vec2
		want   string
	}{
		{types.Vec2{X: 0.5, Y: 0.5}, ""},
		{types.Vec2{X: 0.7, Y: 0.5}, "Move left"},
		{types.Vec2{X: 0.3, Y: 0.5}, "Move right"},
		{types.Vec2{X: 0.5, Y: 0.7}, "Move down"},
		{types.Vec2{X: 0.5, Y: 0.3}, "Move up"},
		{types.Vec2{X: 0.9, Y: 0.9}, "Move left"},
	}
	for _, tt := range tests {
		st.IrisCenter = tt.center
		assert.Equal(t, tt.want, PositionHint(st), "center %+v", tt.center)
	}

	assert.Equal(t, Sharp, FocusLevelOf(151))
	assert.Equal(t, SlightlyBlurry, FocusLevelOf(150))
	assert.Equal(t, SlightlyBlurry, FocusLevelOf(80))
	assert.Equal(t, TooBlurry, FocusLevelOf(79.9))

	assert.Equal(t, "Find more light", LightingHint(types.TooDark))
	assert.Equal(t, "Reduce glare", LightingHint(types.TooBright))
	assert.Equal(t, "Good lighting", LightingHint(types.Good))

	h := Hints(st)
	assert.Equal(t, "Perfect! Hold steady", h.Distance)
	assert.Equal(t, "Too blurry", h.Focus)
}
