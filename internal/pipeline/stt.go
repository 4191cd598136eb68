package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cadenza-ai/cadenza/internal/lexicon"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/provider/stt"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// STT feeds candidate audio to the speech-to-text provider and emits the
// provider's final transcripts as [TranscriptionFrame] values. Partial
// transcripts are drained and discarded; only finals enter the conversation.
//
// Finals pass through a swappable [lexicon.Corrector] before they are
// forwarded, so misheard technical terms are fixed against the current
// phase's vocabulary. The orchestrator swaps the corrector on phase entry
// via [STT.SetCorrector].
type STT struct {
	provider  stt.Provider
	cfg       stt.StreamConfig
	corrector atomic.Pointer[lexicon.Corrector]
	metrics   *observe.Metrics
	log       *slog.Logger
}

var _ Stage = (*STT)(nil)

// NewSTT returns an STT stage. The streaming session is opened when Process
// starts, not here.
func NewSTT(p stt.Provider, cfg stt.StreamConfig, log *slog.Logger) *STT {
	if log == nil {
		log = slog.Default()
	}
	return &STT{
		provider: p,
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
		log:      log,
	}
}

// SetCorrector swaps the vocabulary corrector applied to finals. A nil
// corrector disables correction. Safe to call while the stage is running.
func (s *STT) SetCorrector(c *lexicon.Corrector) {
	s.corrector.Store(c)
}

func (s *STT) Name() string { return "stt" }

func (s *STT) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	session, err := s.provider.StartStream(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("start stt stream: %w", err)
	}
	defer session.Close()

	// Partials exist for barge-in detection, which the interview does not
	// use; drain them so the provider never blocks.
	go func() {
		for range session.Partials() {
		}
	}()

	finals := session.Finals()
	var lastAudio time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case tr, ok := <-finals:
			if !ok {
				// The provider ended the session on its own. Keep serving
				// the rest of the pipeline as a pass-through.
				s.log.Warn("stt session ended early, transcription disabled")
				finals = nil
				continue
			}
			if !s.emitFinal(ctx, out, tr, lastAudio) {
				return nil
			}

		case f, ok := <-in:
			if !ok {
				return s.flush(ctx, out, session, finals, lastAudio)
			}
			audio, isAudio := f.(*InputAudioFrame)
			if !isAudio {
				if !Forward(ctx, out, f) {
					return nil
				}
				continue
			}
			lastAudio = time.Now()
			if err := session.SendAudio(audio.Audio.Data); err != nil {
				s.log.Warn("stt send audio failed", "error", err)
			}
		}
	}
}

// flush closes the provider session so buffered audio finalizes, then
// forwards the remaining finals before the stage returns.
func (s *STT) flush(ctx context.Context, out chan<- Frame, session stt.SessionHandle, finals <-chan types.Transcript, lastAudio time.Time) error {
	if err := session.Close(); err != nil {
		s.log.Warn("stt session close failed", "error", err)
	}
	if finals == nil {
		return nil
	}
	for tr := range finals {
		if !s.emitFinal(ctx, out, tr, lastAudio) {
			return nil
		}
	}
	return nil
}

// emitFinal runs the corrector over one final transcript and forwards it.
func (s *STT) emitFinal(ctx context.Context, out chan<- Frame, tr types.Transcript, lastAudio time.Time) bool {
	if c := s.corrector.Load(); c != nil {
		corrected, corrections := c.Correct(tr.Text)
		if len(corrections) > 0 {
			s.log.Debug("stt corrected technical terms",
				"count", len(corrections), "text", corrected)
			tr.Text = corrected
		}
	}
	if !lastAudio.IsZero() {
		s.metrics.STTDuration.Record(ctx, time.Since(lastAudio).Seconds())
	}
	return Forward(ctx, out, &TranscriptionFrame{Transcript: tr})
}
