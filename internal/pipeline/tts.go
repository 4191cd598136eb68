package pipeline

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ttsTextBuf is how many sentences can queue toward the synthesizer before
// the stage starts draining audio to make room.
const ttsTextBuf = 8

// defaultSynthSampleRate matches the PCM format requested from the TTS
// provider (pcm_16000: 16 kHz mono little-endian int16).
const defaultSynthSampleRate = 16000

// TTS synthesizes interviewer speech. Each assistant turn opens one provider
// stream: [TextFrame] sentences are filtered for speech and fed in as they
// arrive, synthesized audio comes back as [OutputAudioFrame] values tagged
// with the turn id, and the [ResponseEndFrame] is forwarded only after the
// turn's audio has fully drained, so a downstream sink can treat it as the
// end of the utterance.
//
// Markdown does not read well aloud: fenced code blocks and table rows are
// dropped entirely (the editor prompt already told the model the candidate
// can see the code), inline formatting is stripped. A provider failure mutes
// the turn but never tears the session down.
type TTS struct {
	provider   tts.Provider
	voice      types.VoiceProfile
	sampleRate int

	filter  speechFilter
	metrics *observe.Metrics
	log     *slog.Logger
}

var _ Stage = (*TTS)(nil)

// TTSOption configures a [TTS] stage.
type TTSOption func(*TTS)

// WithSynthSampleRate declares the PCM sample rate the provider returns.
// Default is 16 kHz.
func WithSynthSampleRate(hz int) TTSOption {
	return func(t *TTS) {
		if hz > 0 {
			t.sampleRate = hz
		}
	}
}

// NewTTS returns a TTS stage speaking with the given voice.
func NewTTS(p tts.Provider, voice types.VoiceProfile, log *slog.Logger, opts ...TTSOption) *TTS {
	if log == nil {
		log = slog.Default()
	}
	t := &TTS{
		provider:   p,
		voice:      voice,
		sampleRate: defaultSynthSampleRate,
		metrics:    observe.DefaultMetrics(),
		log:        log,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *TTS) Name() string { return "tts" }

// synthTurn is the in-flight state of one assistant turn.
type synthTurn struct {
	id      int64
	text    chan string
	audio   <-chan []byte
	started time.Time
}

func (t *TTS) Process(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	var cur *synthTurn

	for {
		// A nil audio channel blocks forever, which is exactly right when no
		// turn is active or the provider already closed its side.
		var audio <-chan []byte
		if cur != nil {
			audio = cur.audio
		}

		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-audio:
			if !ok {
				cur.audio = nil
				continue
			}
			if !t.emitAudio(ctx, out, cur, chunk) {
				return nil
			}

		case f, ok := <-in:
			if !ok {
				if cur != nil {
					t.finishTurn(ctx, out, cur)
				}
				return nil
			}

			switch fr := f.(type) {
			case *ResponseStartFrame:
				if cur != nil {
					// The LLM serializes turns, so this means a start frame
					// was injected out of band. Close out the old turn first.
					t.log.Warn("tts: new turn started before previous finished",
						"previous", cur.id, "turn", fr.TurnID)
					if !t.finishTurn(ctx, out, cur) {
						return nil
					}
				}
				cur = t.openTurn(ctx, fr.TurnID)
				if !Forward(ctx, out, f) {
					return nil
				}

			case *TextFrame:
				if cur == nil || fr.TurnID != cur.id || cur.text == nil {
					continue
				}
				speech := t.filter.Filter(fr.Text)
				if speech == "" {
					continue
				}
				if !t.sendText(ctx, out, cur, speech) {
					return nil
				}

			case *ResponseEndFrame:
				if cur != nil {
					if !t.finishTurn(ctx, out, cur) {
						return nil
					}
					cur = nil
				}
				if !Forward(ctx, out, f) {
					return nil
				}

			default:
				if !Forward(ctx, out, f) {
					return nil
				}
			}
		}
	}
}

// openTurn starts one provider stream. On failure the turn stays allocated
// but inert: its text frames are dropped and the end frame closes it out.
func (t *TTS) openTurn(ctx context.Context, turnID int64) *synthTurn {
	cur := &synthTurn{id: turnID, started: time.Now()}
	t.filter.Reset()

	text := make(chan string, ttsTextBuf)
	audio, err := t.provider.SynthesizeStream(ctx, text, t.voice)
	if err != nil {
		t.log.Error("tts: synthesis stream failed, turn muted",
			"turn", turnID, "error", err)
		close(text)
		return cur
	}
	cur.text = text
	cur.audio = audio
	return cur
}

// sendText queues one sentence toward the provider, draining audio while the
// queue is full so neither side deadlocks. Reports false on cancellation.
func (t *TTS) sendText(ctx context.Context, out chan<- Frame, cur *synthTurn, text string) bool {
	for {
		if cur.audio == nil {
			// Provider closed its output mid-turn; nobody is reading text.
			t.log.Debug("tts: dropping sentence, synthesis ended early", "turn", cur.id)
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case cur.text <- text:
			return true
		case chunk, ok := <-cur.audio:
			if !ok {
				cur.audio = nil
				continue
			}
			if !t.emitAudio(ctx, out, cur, chunk) {
				return false
			}
		}
	}
}

// finishTurn closes the text side and forwards the remaining audio. Reports
// false on cancellation.
func (t *TTS) finishTurn(ctx context.Context, out chan<- Frame, cur *synthTurn) bool {
	if cur.text != nil {
		close(cur.text)
		cur.text = nil
	}
	for cur.audio != nil {
		select {
		case <-ctx.Done():
			return false
		case chunk, ok := <-cur.audio:
			if !ok {
				cur.audio = nil
				continue
			}
			if !t.emitAudio(ctx, out, cur, chunk) {
				return false
			}
		}
	}
	t.metrics.TTSDuration.Record(ctx, time.Since(cur.started).Seconds())
	return true
}

func (t *TTS) emitAudio(ctx context.Context, out chan<- Frame, cur *synthTurn, chunk []byte) bool {
	return Forward(ctx, out, &OutputAudioFrame{
		TurnID: cur.id,
		Audio: types.AudioFrame{
			Data:       chunk,
			SampleRate: t.sampleRate,
			Channels:   1,
		},
	})
}

// ─── Speech filtering ─────────────────────────────────────────────────────────

var (
	linkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisPattern = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	headingPattern  = regexp.MustCompile(`^#{1,6}\s+`)
	bulletPattern   = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+`)
	spacesPattern   = regexp.MustCompile(`\s+`)
)

// speechFilter rewrites model output into something worth saying out loud.
// It keeps fence state across calls because the sentence splitter upstream
// can put the opening and closing fence of one code block into different
// frames. Reset it at every turn start.
type speechFilter struct {
	inFence bool
}

// Reset clears fence state for a new turn.
func (s *speechFilter) Reset() { s.inFence = false }

// Filter strips markdown from text. Fenced blocks and table rows vanish;
// inline markers are removed but their content kept. Returns "" when nothing
// speakable remains.
func (s *speechFilter) Filter(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			s.inFence = !s.inFence
			continue
		}
		if s.inFence {
			continue
		}
		// Table rows and separator lines read as noise.
		if strings.HasPrefix(trimmed, "|") {
			continue
		}

		line = headingPattern.ReplaceAllString(trimmed, "")
		line = bulletPattern.ReplaceAllString(line, "")
		line = linkPattern.ReplaceAllString(line, "$1")
		line = emphasisPattern.ReplaceAllString(line, "$2")
		line = strings.ReplaceAll(line, "`", "")

		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(spacesPattern.ReplaceAllString(strings.Join(kept, " "), " "))
}
