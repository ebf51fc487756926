// Package guidance fuses per-frame analysis results into a debounced capture-readiness state.
package guidance

import (
	"errors"
	"sync"
	"time"

	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/types"
	"github.com/google/uuid"
)

var (
	// ErrStaleResult is returned when a result arrives after a newer one was already applied.
	ErrStaleResult = errors.New("stale frame result")
	// ErrSessionClosed is returned by Apply once the session has ended.
	ErrSessionClosed = errors.New("guidance session closed")
)

// ReadySince is the hidden debounce timestamp. Set is false while any condition fails.
type ReadySince struct {
	At  time.Time
	Set bool
}

// Session owns the guidance state of one camera session. Create a new one every time the camera
// view is (re)activated; nothing carries over between sessions.
type Session struct {
	ID uuid.UUID

	tuning config.Tuning

	mu      sync.Mutex
	state   types.GuidanceState
	since   ReadySince
	lastSeq uint64
	applied bool
	closed  bool
}

// NewSession starts a session with the default (not yet initialized) state.
func NewSession(tuning config.Tuning) *Session {
	return &Session{
		ID:     uuid.New(),
		tuning: tuning,
		state:  types.DefaultGuidanceState(),
	}
}

// Apply fuses one frame's results into the session state and returns the new state.
func (s *Session) Apply(r types.FrameResult) (types.GuidanceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.state, ErrSessionClosed
	}
	if s.applied && r.Seq <= s.lastSeq {
		return s.state, ErrStaleResult
	}

	s.state, s.since = Fuse(s.state, s.since, r, s.tuning)
	s.lastSeq = r.Seq
	s.applied = true
	return s.state, nil
}

// State returns a copy of the current state.
func (s *Session) State() types.GuidanceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close ends the session. Results applied afterwards are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Fuse is one fusion step: a pure function of the previous state, the debounce timestamp and the
// new frame results. The frame timestamp is "now".
func Fuse(prev types.GuidanceState, since ReadySince, r types.FrameResult, t config.Tuning) (types.GuidanceState, ReadySince) {
	readyNow := ReadyNow(r, t)

	switch {
	case !readyNow:
		since = ReadySince{}
	case !since.Set:
		since = ReadySince{At: r.Timestamp, Set: true}
	}

	next := prev
	next.IrisDetected = r.Iris.Detected
	next.IrisCenter = types.Vec2{X: r.Iris.CenterX, Y: r.Iris.CenterY}
	next.IrisRadius = r.Iris.Radius
	next.Distance = r.Iris.Distance
	next.FocusQuality = r.Sharpness.Sharpness
	next.IsBlurry = r.Sharpness.IsBlurry
	next.Brightness = r.Brightness.Brightness
	next.LightingStatus = r.Brightness.Status
	next.IsReady = true
	next.ReadyToCapture = readyNow && since.Set && r.Timestamp.Sub(since.At) >= t.Debounce
	return next, since
}

// ReadyNow reports whether all three signals are simultaneously acceptable on this frame.
func ReadyNow(r types.FrameResult, t config.Tuning) bool {
	goodDistance := r.Iris.Distance >= t.MinDistance && r.Iris.Distance <= t.MaxDistance
	goodFocus := !r.Sharpness.IsBlurry && r.Sharpness.Sharpness > t.FocusThreshold
	goodLighting := r.Brightness.Status == types.Good
	return r.Iris.Detected && goodDistance && goodFocus && goodLighting
}
