package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/pipeline"
)

const frameWait = 5 * time.Second

// startStage runs a single stage in isolation and returns its input and
// output channels. The stage is stopped via context cancellation when the
// test finishes; tests that need drain semantics close in themselves.
func startStage(t *testing.T, s pipeline.Stage) (chan<- pipeline.Frame, <-chan pipeline.Frame) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan pipeline.Frame, 64)
	out := make(chan pipeline.Frame, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		if err := s.Process(ctx, in, out); err != nil {
			t.Errorf("stage %s returned error: %v", s.Name(), err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in, out
}

// nextFrame waits for one frame with a deadline.
func nextFrame(t *testing.T, out <-chan pipeline.Frame) pipeline.Frame {
	t.Helper()
	select {
	case f, ok := <-out:
		if !ok {
			t.Fatal("output channel closed, want a frame")
		}
		return f
	case <-time.After(frameWait):
		t.Fatal("timed out waiting for a frame")
	}
	return nil
}

// collectFrames waits for exactly n frames.
func collectFrames(t *testing.T, out <-chan pipeline.Frame, n int) []pipeline.Frame {
	t.Helper()
	frames := make([]pipeline.Frame, 0, n)
	for len(frames) < n {
		frames = append(frames, nextFrame(t, out))
	}
	return frames
}

// expectNoFrame asserts that nothing arrives within a short grace period.
func expectNoFrame(t *testing.T, out <-chan pipeline.Frame) {
	t.Helper()
	select {
	case f := <-out:
		t.Fatalf("got unexpected %s frame, want none", f.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

// recordStage forwards every frame and keeps a copy of what it saw.
type recordStage struct {
	name string

	mu     sync.Mutex
	frames []pipeline.Frame
}

func (r *recordStage) Name() string { return r.name }

func (r *recordStage) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			r.mu.Lock()
			r.frames = append(r.frames, f)
			r.mu.Unlock()
			if !pipeline.Forward(ctx, out, f) {
				return nil
			}
		}
	}
}

func (r *recordStage) seen() []pipeline.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Frame(nil), r.frames...)
}

// panicStage panics on the first frame it receives.
type panicStage struct{}

func (panicStage) Name() string { return "panicky" }

func (panicStage) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for range in {
		panic("stage fault")
	}
	return nil
}

// failStage returns an error on the first frame it receives.
type failStage struct{ err error }

func (failStage) Name() string { return "failing" }

func (f failStage) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for range in {
		return f.err
	}
	return nil
}

func TestPipeline_DeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	first := &recordStage{name: "first"}
	second := &recordStage{name: "second"}
	p := pipeline.New([]pipeline.Stage{first, second})

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()

	ctx := context.Background()
	pushed := []pipeline.Frame{
		&pipeline.StartFrame{SessionID: "sess-1"},
		&pipeline.TextFrame{TurnID: 1, Text: "one"},
		&pipeline.TextFrame{TurnID: 1, Text: "two"},
	}
	for _, f := range pushed {
		if err := p.Push(ctx, f); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	p.Shutdown()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil", err)
		}
	case <-time.After(frameWait):
		t.Fatal("Run() did not return after Shutdown")
	}

	for _, stage := range []*recordStage{first, second} {
		got := stage.seen()
		if len(got) != len(pushed) {
			t.Fatalf("stage %s saw %d frames, want %d", stage.name, len(got), len(pushed))
		}
		for i := range pushed {
			if got[i] != pushed[i] {
				t.Errorf("stage %s frame[%d] = %s, want %s", stage.name, i, got[i].Kind(), pushed[i].Kind())
			}
		}
	}
}

func TestPipeline_PanickedStageDegradesToPassThrough(t *testing.T) {
	t.Parallel()

	tail := &recordStage{name: "tail"}
	p := pipeline.New([]pipeline.Stage{panicStage{}, tail})

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()

	ctx := context.Background()
	// The first frame triggers the panic and is lost with it; the second
	// must still reach the tail through the degraded stage.
	if err := p.Push(ctx, &pipeline.TextFrame{Text: "boom"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := p.Push(ctx, &pipeline.TextFrame{Text: "survivor"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	p.Shutdown()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil after isolated panic", err)
		}
	case <-time.After(frameWait):
		t.Fatal("Run() did not return after Shutdown")
	}

	got := tail.seen()
	if len(got) != 1 {
		t.Fatalf("tail saw %d frames, want 1", len(got))
	}
	tf, ok := got[0].(*pipeline.TextFrame)
	if !ok || tf.Text != "survivor" {
		t.Errorf("tail frame = %#v, want text frame %q", got[0], "survivor")
	}
}

func TestPipeline_StageErrorTearsDown(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("unrecoverable")
	p := pipeline.New([]pipeline.Stage{failStage{err: wantErr}})

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background()) }()

	if err := p.Push(context.Background(), &pipeline.StartFrame{}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	select {
	case err := <-runErr:
		if !errors.Is(err, wantErr) {
			t.Fatalf("Run() error = %v, want wrapped %v", err, wantErr)
		}
		if !strings.Contains(err.Error(), "failing") {
			t.Errorf("Run() error = %q, want it to name the stage", err)
		}
	case <-time.After(frameWait):
		t.Fatal("Run() did not return after stage failure")
	}
}

func TestPipeline_PushAfterShutdown(t *testing.T) {
	t.Parallel()

	p := pipeline.New(nil)
	go p.Run(context.Background())

	p.Shutdown()
	p.Shutdown() // idempotent

	err := p.Push(context.Background(), &pipeline.StartFrame{})
	if !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("Push() after Shutdown error = %v, want ErrNotRunning", err)
	}
}
