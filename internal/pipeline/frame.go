// Package pipeline implements the per-session frame pipeline.
//
// A session is a chain of [Stage] values connected by channels of [Frame].
// Audio from the transport enters at the head, flows through speech-to-text,
// the context-switch processor, the gate, the artifact processors, the LLM
// and text-to-speech, and leaves as synthesized audio at the tail. Side-band
// inputs (client artifact events, system injections, the closure request)
// enter through [Pipeline.Push] or a stage's own injection queue and ride the
// same channels, so every consumer observes frames in a single total order.
//
// # Frame classes
//
// Frames carry a [Class] that the gate uses to decide what survives sealing:
//
//   - [ClassControl]: lifecycle and turn markers. Always forwarded.
//   - [ClassSystem]: instruction injections and the closure request.
//     Forwarded even after the gate seals.
//   - [ClassData]: everything produced by or for the candidate (audio,
//     transcriptions, artifact submissions, LLM text, synthesized audio).
//     Dropped once the gate seals.
package pipeline

import (
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Class partitions frames by how the gate treats them.
type Class int

const (
	ClassControl Class = iota
	ClassSystem
	ClassData
)

// String returns the lowercase class name for logs.
func (c Class) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassSystem:
		return "system"
	case ClassData:
		return "data"
	default:
		return "unknown"
	}
}

// Frame is one unit of work flowing through the pipeline.
type Frame interface {
	// Class reports how the gate treats the frame.
	Class() Class
	// Kind names the frame type for logs.
	Kind() string
}

// ─── Control frames ───────────────────────────────────────────────────────────

// StartFrame opens a session's frame stream.
type StartFrame struct {
	SessionID string
}

func (*StartFrame) Class() Class { return ClassControl }
func (*StartFrame) Kind() string { return "start" }

// EndFrame closes a session's frame stream. Reason is free text for logs.
type EndFrame struct {
	Reason string
}

func (*EndFrame) Class() Class { return ClassControl }
func (*EndFrame) Kind() string { return "end" }

// ResponseStartFrame marks the beginning of one assistant turn. TurnID is
// monotonically increasing within a session; the transport sink uses it to
// drop audio from superseded turns.
type ResponseStartFrame struct {
	TurnID int64
}

func (*ResponseStartFrame) Class() Class { return ClassControl }
func (*ResponseStartFrame) Kind() string { return "response_start" }

// ResponseEndFrame marks the end of one assistant turn and carries the full
// generated text for transcript taps.
type ResponseEndFrame struct {
	TurnID int64
	Text   string
}

func (*ResponseEndFrame) Class() Class { return ClassControl }
func (*ResponseEndFrame) Kind() string { return "response_end" }

// ─── System frames ────────────────────────────────────────────────────────────

// AppendFrame asks the LLM stage to append a message to the conversation.
// When Generate is set the stage runs a completion immediately afterwards.
// Source names the producer for logs (greeting, phase banner, nudge, code
// debounce, closure).
type AppendFrame struct {
	Role     types.Role
	Content  string
	Generate bool
	Source   string
}

// Class derives from the role: system-role appends must survive the sealed
// gate, candidate-attributed ones must not.
func (f *AppendFrame) Class() Class {
	if f.Role == types.RoleSystem {
		return ClassSystem
	}
	return ClassData
}

func (*AppendFrame) Kind() string { return "append" }

// ClosureFrame requests the interview's final utterance. The closure handler
// converts it into a user-role [AppendFrame]; it is system-class so it passes
// the sealed gate.
type ClosureFrame struct {
	Message string
}

func (*ClosureFrame) Class() Class { return ClassSystem }
func (*ClosureFrame) Kind() string { return "closure" }

// ─── Data frames ──────────────────────────────────────────────────────────────

// InputAudioFrame carries candidate audio from the transport.
type InputAudioFrame struct {
	Audio types.AudioFrame
}

func (*InputAudioFrame) Class() Class { return ClassData }
func (*InputAudioFrame) Kind() string { return "input_audio" }

// TranscriptionFrame carries a speech-to-text result, partial or final.
type TranscriptionFrame struct {
	Transcript types.Transcript
}

func (*TranscriptionFrame) Class() Class { return ClassData }
func (*TranscriptionFrame) Kind() string { return "transcription" }

// CodeFrame carries one code-editor snapshot from the client.
type CodeFrame struct {
	Content types.CodeContent
}

func (*CodeFrame) Class() Class { return ClassData }
func (*CodeFrame) Kind() string { return "code" }

// DesignFrame carries one design-editor snapshot from the client.
type DesignFrame struct {
	Content types.DesignContent
}

func (*DesignFrame) Class() Class { return ClassData }
func (*DesignFrame) Kind() string { return "design" }

// TextFrame carries one sentence of LLM output on its way to TTS.
type TextFrame struct {
	TurnID int64
	Text   string
}

func (*TextFrame) Class() Class { return ClassData }
func (*TextFrame) Kind() string { return "text" }

// OutputAudioFrame carries synthesized speech toward the transport. TurnID
// ties the audio to the assistant turn that produced it.
type OutputAudioFrame struct {
	TurnID int64
	Audio  types.AudioFrame
}

func (*OutputAudioFrame) Class() Class { return ClassData }
func (*OutputAudioFrame) Kind() string { return "output_audio" }

// Compile-time assertions that every frame satisfies [Frame].
var (
	_ Frame = (*StartFrame)(nil)
	_ Frame = (*EndFrame)(nil)
	_ Frame = (*ResponseStartFrame)(nil)
	_ Frame = (*ResponseEndFrame)(nil)
	_ Frame = (*AppendFrame)(nil)
	_ Frame = (*ClosureFrame)(nil)
	_ Frame = (*InputAudioFrame)(nil)
	_ Frame = (*TranscriptionFrame)(nil)
	_ Frame = (*CodeFrame)(nil)
	_ Frame = (*DesignFrame)(nil)
	_ Frame = (*TextFrame)(nil)
	_ Frame = (*OutputAudioFrame)(nil)
)
