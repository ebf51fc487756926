package pipeline

import "sync/atomic"

// FrameScheduler throttles analysis to every Nth camera frame.
type FrameScheduler struct {
	Every int

	counter atomic.Uint64
}

// NewFrameScheduler returns a scheduler that selects frames every, 2*every, ...
func NewFrameScheduler(every int) *FrameScheduler {
	return &FrameScheduler{Every: every}
}

// Tick counts one camera frame and reports whether it should be analyzed.
// The first frame is seq 1, so with Every=3 frames 3, 6, 9... are analyzed.
func (s *FrameScheduler) Tick() (seq uint64, analyze bool) {
	seq = s.counter.Add(1)
	every := s.Every
	if every < 1 {
		every = 1
	}
	return seq, seq%uint64(every) == 0
}
