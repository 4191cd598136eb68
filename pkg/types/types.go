// Package types defines the shared types used across all Cadenza packages.
//
// These types form the lingua franca between providers, the pipeline, the
// persistence layer, and the session orchestrator. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — received from the
// WebRTC peer, decoded to PCM, fed to STT, and synthesized back out.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples. Sample rate and channel
	// count are carried alongside because the transport and provider sides of
	// the pipeline operate at different rates.
	Data []byte

	// SampleRate in Hz (e.g., 48000 on the WebRTC wire, 16000 toward STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo (WebRTC wire).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil for providers
	// that don't support word-level output.
	Words []WordDetail

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem marks instructions injected by the orchestrator.
	RoleSystem Role = "system"

	// RoleUser marks candidate speech and artifact prompts.
	RoleUser Role = "user"

	// RoleAssistant marks interviewer (model) responses.
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn exchanged with an LLM provider.
type Message struct {
	// Role is the message author: system, user, or assistant.
	Role Role

	// Content is the message text.
	Content string
}

// ModelCapabilities describes what an LLM model supports. Values are static
// per model and used by the pipeline to budget conversation context.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// VoiceProfile identifies a synthesis voice at a TTS provider.
type VoiceProfile struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 tag of the voice's primary language, if known.
	Language string
}

// InterviewStatus is the lifecycle state of a persisted candidate interview.
// Transitions are monotone: once COMPLETED an interview never moves back.
type InterviewStatus string

const (
	// StatusPending marks an interview that has been scheduled but not joined.
	StatusPending InterviewStatus = "PENDING"

	// StatusInProgress marks an interview with a live or previously live session.
	StatusInProgress InterviewStatus = "IN_PROGRESS"

	// StatusCompleted marks a finished interview. Terminal.
	StatusCompleted InterviewStatus = "COMPLETED"
)

// IsValid reports whether s is one of the known interview statuses.
func (s InterviewStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// CandidateInterview is the durable record of one interview instance. It is
// distinct from the ephemeral session: the row outlives disconnects and is
// the key for transcripts, solutions, and completion notifications.
type CandidateInterview struct {
	// ID is the candidate_interview_id, stable for the whole lifetime.
	ID string

	// MockInterviewID references the interview template this instance was
	// created from.
	MockInterviewID string

	// UserID is the candidate's user identifier.
	UserID string

	// Status is the lifecycle state. Monotone; see [InterviewStatus].
	Status InterviewStatus

	// RecordingURL, CodeEditorSnapshot, and DesignEditorSnapshot are opaque
	// storage slots populated by persistence services. The orchestrator never
	// interprets them.
	RecordingURL         string
	CodeEditorSnapshot   string
	DesignEditorSnapshot string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuestionSolution is the latest artifact a candidate submitted for a
// question. One row per (QuestionID, CandidateInterviewID); upserts replace
// the previous snapshot — no history is kept.
type QuestionSolution struct {
	QuestionID           string
	CandidateInterviewID string

	// Type is the normalized language name for code artifacts, or the
	// sentinel "DESIGN" for design artifacts.
	Type string

	// Answer is the source text for code, or a JSON envelope (see
	// [DesignEnvelope]) for design artifacts.
	Answer string

	UpdatedAt time.Time
}

// DesignEnvelope is the JSON payload persisted for design artifacts.
type DesignEnvelope struct {
	// OriginalDesign is the raw Excalidraw scene JSON as submitted.
	OriginalDesign string `json:"original_design"`

	// Description is the natural-language rendering of the diagram.
	Description string `json:"description"`

	// Mermaid is the generated Mermaid diagram source.
	Mermaid string `json:"mermaid"`

	// Timestamp is when the artifact was transformed, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Sender identifies which side of the interview produced a transcript line.
type Sender string

const (
	// SenderInterviewer marks bot (model) speech.
	SenderInterviewer Sender = "INTERVIEWER"

	// SenderCandidate marks candidate speech.
	SenderCandidate Sender = "CANDIDATE"
)

// TranscriptEvent is one line of interview conversation, published on the
// transcript bus and persisted by the store subscriber.
type TranscriptEvent struct {
	// CandidateInterviewID keys the event to the durable interview record.
	CandidateInterviewID string

	// Sender is who spoke.
	Sender Sender

	// Message is the transcript text.
	Message string

	// Timestamp is when the line was produced.
	Timestamp time.Time

	// SessionID is the ephemeral session the line originated from.
	SessionID string

	// IsCode marks artifact-derived lines so downstream consumers can render
	// them differently.
	IsCode bool

	// CodeLanguage is the normalized language for IsCode lines.
	CodeLanguage string
}

// CodeContent is the inbound client event carrying a code editor snapshot.
// Field names follow the browser wire format.
type CodeContent struct {
	QuestionID           string `json:"questionId"`
	CandidateInterviewID string `json:"candidateInterviewId"`
	Language             string `json:"language"`
	Content              string `json:"content"`

	// Timestamp is the client-side capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// DesignContent is the inbound client event carrying a design editor
// snapshot. Content is the raw Excalidraw scene JSON.
type DesignContent struct {
	QuestionID           string `json:"questionId"`
	CandidateInterviewID string `json:"candidateInterviewId"`
	Content              string `json:"content"`

	// Timestamp is the client-side capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// KnowledgeSnippet is one retrieved entry from a question's knowledge bank,
// ranked by embedding similarity to the question text.
type KnowledgeSnippet struct {
	// ID is the snippet row identifier.
	ID string

	// BankID is the knowledge bank the snippet belongs to.
	BankID string

	// Title is a short label for the snippet.
	Title string

	// Content is the snippet text injected into phase instructions.
	Content string

	// Score is the similarity score from the vector search (higher is closer).
	Score float64
}
