// Package pipeline schedules camera frames through analysis and guidance fusion and hands the
// resulting state to the presentation layer.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/irisguide/internal/analysis"
	"github.com/andresmejia3/irisguide/internal/config"
	"github.com/andresmejia3/irisguide/internal/guidance"
	"github.com/andresmejia3/irisguide/internal/landmark"
	"github.com/andresmejia3/irisguide/internal/logging"
	"github.com/andresmejia3/irisguide/internal/timeutil"
	"github.com/andresmejia3/irisguide/internal/types"
)

// Options wires a Pipeline. Only Tuning is required.
type Options struct {
	Tuning  config.Tuning
	Locator landmark.Locator
	Clock   timeutil.Clock
	Rand    analysis.Rand
}

// Stats counts what happened to the frames handed to Process.
type Stats struct {
	Frames   uint64 // every valid frame passed to Process
	Analyzed uint64 // frames selected by the scheduler
	Failed   uint64 // analyzed frames whose results were discarded
	Dropped  uint64 // published states overwritten before the consumer read them
}

// Pipeline is one guidance session bound to a camera stream. Process must be called from a
// single goroutine (the camera worker); States may be read from any other.
type Pipeline struct {
	scheduler *FrameScheduler
	analyzer  *Analyzer
	session   *guidance.Session

	mu     sync.Mutex
	states chan types.GuidanceState
	closed bool

	frames   atomic.Uint64
	analyzed atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

// New starts a fresh guidance session.
func New(opts Options) *Pipeline {
	return &Pipeline{
		scheduler: NewFrameScheduler(opts.Tuning.AnalyzeEvery),
		analyzer:  NewAnalyzer(opts.Tuning, opts.Locator, opts.Clock, opts.Rand),
		session:   guidance.NewSession(opts.Tuning),
		states:    make(chan types.GuidanceState, 1),
	}
}

// Session exposes the underlying guidance session.
func (p *Pipeline) Session() *guidance.Session {
	return p.session
}

// Process handles one camera frame. Only a malformed frame is reported (ErrInvalidFrame);
// anything that goes wrong inside analysis leaves the state at its last value.
func (p *Pipeline) Process(ctx context.Context, f *types.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	p.frames.Add(1)

	seq, analyze := p.scheduler.Tick()
	if !analyze {
		return nil
	}
	p.analyzed.Add(1)

	res, err := p.analyzer.Analyze(ctx, f, seq)
	if err != nil {
		p.failed.Add(1)
		logging.Logger().Debug("frame analysis failed", "session", p.session.ID, "seq", seq, "err", err)
		return nil
	}

	state, err := p.session.Apply(res)
	if err != nil {
		p.failed.Add(1)
		if !errors.Is(err, guidance.ErrSessionClosed) {
			logging.Logger().Debug("frame result rejected", "session", p.session.ID, "seq", seq, "err", err)
		}
		return nil
	}
	p.publish(state)
	return nil
}

// States delivers the newest guidance state. The channel holds at most one state; a newer one
// replaces an unread older one. It is closed by Close.
func (p *Pipeline) States() <-chan types.GuidanceState {
	return p.states
}

// State returns the session's current state without consuming the mailbox.
func (p *Pipeline) State() types.GuidanceState {
	return p.session.State()
}

func (p *Pipeline) publish(s types.GuidanceState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.states <- s:
		return
	default:
	}
	// Mailbox full: replace the stale state. Publishers hold mu, so the slot stays free.
	select {
	case <-p.states:
		p.dropped.Add(1)
	default:
	}
	p.states <- s
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:   p.frames.Load(),
		Analyzed: p.analyzed.Load(),
		Failed:   p.failed.Load(),
		Dropped:  p.dropped.Load(),
	}
}

// Close ends the session. An analysis already in flight finishes but its result is discarded.
func (p *Pipeline) Close() {
	p.session.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.states)
}
