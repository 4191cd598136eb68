package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultFrameBuf is the buffer depth of the channels linking stages. Sized
// to absorb bursts (a full LLM turn of sentences, a batch of audio frames)
// without stalling upstream stages.
const defaultFrameBuf = 32

// Stage is one processing step of a session pipeline.
//
// Process must read frames from in until it is closed or ctx is cancelled,
// and write results to out. It must not close out; the runner owns channel
// lifecycles. Returning a non-nil error tears the whole pipeline down, so
// stages reserve it for unrecoverable faults and log-and-continue otherwise.
type Stage interface {
	Name() string
	Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error
}

// ErrNotRunning is returned by [Pipeline.Push] once the pipeline has shut
// down.
var ErrNotRunning = errors.New("pipeline: not running")

// Pipeline chains stages and pumps frames through them. Frames preserve
// order stage-to-stage; there is no reordering or fan-out inside the chain.
type Pipeline struct {
	stages []Stage
	log    *slog.Logger

	mu     sync.RWMutex // guards source against close-during-send
	source chan Frame
	closed bool
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithLogger sets the logger used for stage lifecycle and isolation messages.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New assembles a pipeline from stages in processing order.
func New(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: stages,
		log:    slog.Default(),
		source: make(chan Frame, defaultFrameBuf),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push enqueues a frame at the head of the pipeline. It blocks while the
// source buffer is full and fails once the pipeline has shut down or ctx is
// cancelled. Safe for concurrent use with Shutdown.
func (p *Pipeline) Push(ctx context.Context, f Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotRunning
	}
	select {
	case p.source <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown closes the head of the pipeline. In-flight frames drain through
// the remaining stages; Run returns once the tail is exhausted. Idempotent.
// Blocks until pushes in flight have landed.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.source)
}

// Run wires the stages together and blocks until every stage has finished:
// either the source was closed via [Pipeline.Shutdown] and all frames
// drained, or ctx was cancelled, or a stage failed.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	in := (<-chan Frame)(p.source)
	for _, s := range p.stages {
		out := make(chan Frame, defaultFrameBuf)
		g.Go(p.runStage(ctx, s, in, out))
		in = out
	}

	// Drain the tail so the last stage never blocks on an unread channel.
	tail := in
	g.Go(func() error {
		for range tail {
		}
		return nil
	})

	return g.Wait()
}

// runStage wraps one stage invocation. The runner owns out and closes it when
// the stage returns. A panicking stage is isolated: the fault is logged and
// the stage degrades to a pass-through so the rest of the session stays up.
func (p *Pipeline) runStage(ctx context.Context, s Stage, in <-chan Frame, out chan<- Frame) func() error {
	return func() (err error) {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("pipeline: stage panicked, degrading to pass-through",
					"stage", s.Name(), "panic", r)
				err = passThrough(ctx, in, out)
			}
		}()

		if err := s.Process(ctx, in, out); err != nil {
			return fmt.Errorf("pipeline: stage %s: %w", s.Name(), err)
		}
		return nil
	}
}

// passThrough forwards frames unmodified. It keeps a session alive after its
// stage has been isolated.
func passThrough(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Forward writes one frame to out, honoring cancellation. Stages use it as
// their single exit path for produced frames.
func Forward(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
