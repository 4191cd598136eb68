package pipeline

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// keepRecent is the trim floor: history is never cut below this many
// messages, so the model always sees the current exchange even when the
// token budget is tight.
const keepRecent = 4

// LLM owns the session's conversation history and turns [AppendFrame] values
// into interviewer responses.
//
// Every append (candidate speech, phase banners, nudges, debounced artifact
// prompts, the closure request) lands in the history; appends with Generate
// set additionally run one streamed completion. The stage emits a
// [ResponseStartFrame], one [TextFrame] per complete sentence (so TTS can
// start speaking before the model finishes), and a [ResponseEndFrame]
// carrying the full reply for the transcript tap. Turn ids increase
// monotonically; the transport sink uses them to discard audio from
// superseded turns.
//
// Provider failures never tear the session down: the turn ends empty and the
// interview continues on the next input.
type LLM struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int

	history []types.Message
	turns   atomic.Int64

	metrics *observe.Metrics
	log     *slog.Logger
}

var _ Stage = (*LLM)(nil)

// LLMOption configures an [LLM] stage.
type LLMOption func(*LLM)

// WithTemperature sets the sampling temperature for all completions.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// WithMaxTokens caps completion length. Zero keeps the provider default.
func WithMaxTokens(n int) LLMOption {
	return func(l *LLM) { l.maxTokens = n }
}

// NewLLM returns an LLM stage seeded with the given system prompt.
func NewLLM(p llm.Provider, systemPrompt string, log *slog.Logger, opts ...LLMOption) *LLM {
	if log == nil {
		log = slog.Default()
	}
	l := &LLM{
		provider:     p,
		systemPrompt: systemPrompt,
		metrics:      observe.DefaultMetrics(),
		log:          log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *LLM) Name() string { return "llm" }

// CurrentTurn reports the id of the newest turn started, zero before the
// first. Safe for concurrent use; the transport sink reads it when the
// candidate interrupts so every turn already underway is discarded.
func (l *LLM) CurrentTurn() int64 { return l.turns.Load() }

func (l *LLM) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			ap, isAppend := f.(*AppendFrame)
			if !isAppend {
				if !Forward(ctx, out, f) {
					return nil
				}
				continue
			}

			l.history = append(l.history, types.Message{Role: ap.Role, Content: ap.Content})
			l.metrics.RecordPromptInjection(ctx, ap.Source)
			l.log.Debug("llm context append",
				"role", string(ap.Role), "source", ap.Source, "generate", ap.Generate)

			if ap.Generate {
				if !l.generate(ctx, out) {
					return nil
				}
			}
		}
	}
}

// generate runs one completion over the current history and streams the
// reply downstream sentence by sentence. Reports false only on cancellation.
func (l *LLM) generate(ctx context.Context, out chan<- Frame) bool {
	l.trimHistory()

	turn := l.turns.Add(1)
	if !Forward(ctx, out, &ResponseStartFrame{TurnID: turn}) {
		return false
	}

	start := time.Now()
	ch, err := l.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     slices.Clone(l.history),
		SystemPrompt: l.systemPrompt,
		Temperature:  l.temperature,
		MaxTokens:    l.maxTokens,
	})
	if err != nil {
		l.log.Error("llm stream failed", "turn", turn, "error", err)
		return Forward(ctx, out, &ResponseEndFrame{TurnID: turn})
	}

	full, ok := l.forwardSentences(ctx, out, ch, turn)
	l.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if !ok {
		return false
	}

	if full != "" {
		l.history = append(l.history, types.Message{Role: types.RoleAssistant, Content: full})
	}
	return Forward(ctx, out, &ResponseEndFrame{TurnID: turn, Text: full})
}

// forwardSentences reads token chunks from ch, accumulates them into complete
// sentences, and forwards each sentence as a [TextFrame] so synthesis starts
// before the model finishes. Any text remaining when the stream ends is
// flushed as a final fragment. Returns the full reply text; ok is false only
// when the pipeline shut down mid-stream.
func (l *LLM) forwardSentences(ctx context.Context, out chan<- Frame, ch <-chan llm.Chunk, turn int64) (string, bool) {
	var full, pending strings.Builder
	for {
		select {
		case <-ctx.Done():
			return full.String(), false
		case chunk, ok := <-ch:
			if !ok {
				// Channel closed: flush remaining text.
				if pending.Len() > 0 {
					if !Forward(ctx, out, &TextFrame{TurnID: turn, Text: pending.String()}) {
						return full.String(), false
					}
				}
				return full.String(), true
			}

			if chunk.FinishReason == "error" {
				// Text carries the provider's error message, not model
				// output; keep what arrived before the fault.
				l.log.Error("llm stream error mid-turn", "turn", turn, "error", chunk.Text)
				go drainChunks(ch)
				if pending.Len() > 0 {
					if !Forward(ctx, out, &TextFrame{TurnID: turn, Text: pending.String()}) {
						return full.String(), false
					}
				}
				return full.String(), true
			}

			if chunk.Text != "" {
				pending.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
			}

			// Flush complete sentences eagerly for lower TTS latency.
			for {
				idx := sentenceBoundary(pending.String())
				if idx < 0 {
					break
				}
				sentence := pending.String()[:idx+1]
				rest := strings.TrimLeft(pending.String()[idx+1:], " \t\n\r")
				pending.Reset()
				pending.WriteString(rest)
				if !Forward(ctx, out, &TextFrame{TurnID: turn, Text: sentence}) {
					return full.String(), false
				}
			}

			if chunk.FinishReason != "" {
				if pending.Len() > 0 {
					if !Forward(ctx, out, &TextFrame{TurnID: turn, Text: pending.String()}) {
						return full.String(), false
					}
				}
				go drainChunks(ch)
				return full.String(), true
			}
		}
	}
}

// trimHistory drops the oldest messages while the history exceeds the
// model's context budget, keeping at least [keepRecent] messages. Token
// counting failures skip trimming; an over-long request fails loudly at the
// provider instead.
func (l *LLM) trimHistory() {
	caps := l.provider.Capabilities()
	if caps.ContextWindow <= 0 {
		return
	}
	reserve := l.maxTokens
	if reserve == 0 {
		reserve = caps.MaxOutputTokens
	}
	budget := caps.ContextWindow - reserve
	if budget <= 0 {
		return
	}

	dropped := 0
	for len(l.history) > keepRecent {
		n, err := l.provider.CountTokens(l.history)
		if err != nil {
			l.log.Debug("llm token count failed, skipping trim", "error", err)
			break
		}
		if n <= budget {
			break
		}
		l.history = slices.Delete(l.history, 0, 1)
		dropped++
	}
	if dropped > 0 {
		l.log.Info("llm trimmed conversation history",
			"dropped", dropped, "kept", len(l.history))
	}
}

// sentenceBoundary returns the index of the first '.', '!', or '?' that is
// immediately followed by whitespace, or -1 when s holds no complete
// sentence.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards the rest of a completion stream so the provider's
// goroutine never blocks after the stage stops reading.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
