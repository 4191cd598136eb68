package pipeline

import (
	"context"
	"log/slog"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Closure sits immediately before the LLM stage and converts an in-band
// [ClosureFrame] into a user-role append that makes the model produce the
// interview's final utterance. Everything else passes unchanged.
type Closure struct {
	log *slog.Logger
}

var _ Stage = (*Closure)(nil)

// NewClosure returns the closure handler.
func NewClosure(log *slog.Logger) *Closure {
	if log == nil {
		log = slog.Default()
	}
	return &Closure{log: log}
}

func (c *Closure) Name() string { return "closure" }

func (c *Closure) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			cf, isClosure := f.(*ClosureFrame)
			if !isClosure {
				if !Forward(ctx, out, f) {
					return nil
				}
				continue
			}

			c.log.Info("closure requested, generating final utterance")
			converted := &AppendFrame{
				Role:     types.RoleUser,
				Content:  cf.Message,
				Generate: true,
				Source:   "closure",
			}
			if !Forward(ctx, out, converted) {
				return nil
			}
		}
	}
}
