package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Interrupter is told when the candidate speaks over queued interviewer
// audio. The transport sink implements it by discarding audio from turns
// started before the interruption.
type Interrupter interface {
	Interrupt()
}

// Aggregator turns final transcriptions into user turns for the LLM stage.
//
// Whitespace-only finals are dropped: silence must never trigger a
// generation. Every accepted final also interrupts in-flight interviewer
// audio, since a candidate who starts talking has stopped listening. The
// original [TranscriptionFrame] keeps flowing for taps downstream.
//
// The assistant side needs no aggregation here: the LLM stage records its
// own replies into the conversation as each stream completes.
type Aggregator struct {
	interrupter Interrupter
	log         *slog.Logger
}

var _ Stage = (*Aggregator)(nil)

// NewAggregator returns the user-side context aggregator. interrupter may be
// nil when the session has no audio output to cut off (tests, text-only runs).
func NewAggregator(interrupter Interrupter, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{interrupter: interrupter, log: log}
}

func (a *Aggregator) Name() string { return "user_aggregator" }

func (a *Aggregator) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if !Forward(ctx, out, f) {
				return nil
			}

			tr, isFinal := f.(*TranscriptionFrame)
			if !isFinal {
				continue
			}
			text := strings.TrimSpace(tr.Transcript.Text)
			if text == "" {
				a.log.Debug("aggregator: dropping empty final")
				continue
			}

			if a.interrupter != nil {
				a.interrupter.Interrupt()
			}

			if !Forward(ctx, out, &AppendFrame{
				Role:     types.RoleUser,
				Content:  text,
				Generate: true,
				Source:   "candidate_speech",
			}) {
				return nil
			}
		}
	}
}
