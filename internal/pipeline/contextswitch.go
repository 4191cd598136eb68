package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// injectionBuf bounds how many injections can queue while the pipeline is
// busy. Phase banners and nudges are rare, so a small buffer suffices.
const injectionBuf = 16

// ErrInjectionQueueFull is returned when an injection cannot be queued
// because earlier injections have not drained.
var ErrInjectionQueueFull = errors.New("pipeline: injection queue full")

// ContextSwitch merges system-role injections into the frame stream: phase
// instructions on entry, time nudges from the timer, and the terminal
// closure request.
//
// Queued injections are forwarded ahead of any frame that arrives after the
// injection was enqueued, so a phase banner is always visible to the LLM
// before the first candidate turn of that phase.
type ContextSwitch struct {
	injections chan Frame
	log        *slog.Logger
}

var _ Stage = (*ContextSwitch)(nil)

// NewContextSwitch returns a processor with an empty injection queue.
func NewContextSwitch(log *slog.Logger) *ContextSwitch {
	if log == nil {
		log = slog.Default()
	}
	return &ContextSwitch{
		injections: make(chan Frame, injectionBuf),
		log:        log,
	}
}

// InjectInstructions queues a phase banner: the new phase's system
// instructions, wrapped by the caller with sequence, duration, and question.
// generate asks the model to speak right away (announcing the new phase).
func (c *ContextSwitch) InjectInstructions(banner string, generate bool) error {
	return c.enqueue(&AppendFrame{
		Role:     types.RoleSystem,
		Content:  banner,
		Generate: generate,
		Source:   "phase_banner",
	})
}

// InjectNudge queues a time nudge. Non-final nudges generate a spoken
// time check; the final nudge only updates the context because the closure
// utterance follows immediately.
func (c *ContextSwitch) InjectNudge(text string, final bool) error {
	return c.enqueue(&AppendFrame{
		Role:     types.RoleSystem,
		Content:  text,
		Generate: !final,
		Source:   "nudge",
	})
}

// InjectClosure queues the terminal closure request. The closure handler
// downstream converts it into the final user-role generation.
func (c *ContextSwitch) InjectClosure(message string) error {
	return c.enqueue(&ClosureFrame{Message: message})
}

func (c *ContextSwitch) enqueue(f Frame) error {
	select {
	case c.injections <- f:
		return nil
	default:
		return ErrInjectionQueueFull
	}
}

func (c *ContextSwitch) Name() string { return "context_switch" }

func (c *ContextSwitch) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		// Pending injections go first so phase context precedes any
		// candidate turn that arrives after the transition.
		select {
		case f := <-c.injections:
			if !Forward(ctx, out, f) {
				return nil
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case f := <-c.injections:
			if !Forward(ctx, out, f) {
				return nil
			}
		case f, ok := <-in:
			if !ok {
				c.flush(ctx, out)
				return nil
			}
			if !Forward(ctx, out, f) {
				return nil
			}
		}
	}
}

// flush delivers injections still queued when the stream ends, so a closure
// enqueued during shutdown is not lost.
func (c *ContextSwitch) flush(ctx context.Context, out chan<- Frame) {
	for {
		select {
		case f := <-c.injections:
			if !Forward(ctx, out, f) {
				return
			}
		default:
			return
		}
	}
}
