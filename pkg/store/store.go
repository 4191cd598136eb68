// Package store defines the persistence interfaces for interview state.
//
// The interfaces are split by concern:
//
//   - [InterviewStore]: candidate interview rows and their phase plan.
//   - [SolutionStore]: latest-wins editor artifacts per (question, interview).
//   - [TranscriptStore]: append-only conversation log.
//   - [CatalogStore]: question-text hydration for lazily resolved plans.
//   - [KnowledgeStore]: pgvector-backed snippet retrieval for phase context.
//
// All interfaces are public so that external packages can supply alternative
// backends (Postgres, in-memory, …) without depending on cadenza internals.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist. Callers that
// treat absence as a normal case (e.g., the first artifact submission for a
// question) must branch on it with [errors.Is].
var ErrNotFound = errors.New("store: not found")

// PlannerRecord is the storage shape of one interview phase. Tool names are
// kept comma-delimited exactly as stored; parsing into typed tool sets happens
// at interview-context construction, not here. Question text is intentionally
// absent — it is hydrated lazily via [CatalogStore.QuestionTexts].
type PlannerRecord struct {
	// Sequence orders the phase within its interview plan, starting at 0.
	Sequence int

	// DurationMinutes is the planned length of the phase. Always > 0 for
	// well-formed plans; validation happens at context construction.
	DurationMinutes int

	// QuestionID references the catalogue question driving this phase.
	// Empty for free-form phases (intro, Q&A).
	QuestionID string

	// KnowledgeBankID scopes snippet retrieval for this phase.
	// Empty disables retrieval.
	KnowledgeBankID string

	// ToolNames is the raw comma-delimited tool list (e.g. "BASE,CODE_EDITOR").
	ToolNames string

	// ToolProperties is opaque per-phase UI configuration, passed through to
	// clients unmodified.
	ToolProperties map[string]any

	// InterviewInstructions is the phase prompt text injected on entry.
	// May be empty.
	InterviewInstructions string

	// CreatedAt breaks ties between rows that share a sequence number.
	CreatedAt time.Time
}

// InterviewStore provides access to candidate interview rows and their plans.
type InterviewStore interface {
	// CandidateInterview retrieves an interview instance by its ID.
	// Returns [ErrNotFound] when no such row exists.
	CandidateInterview(ctx context.Context, id string) (*types.CandidateInterview, error)

	// CandidateInterviewByMockAndUser retrieves the most recently created
	// interview instance for the given template and user.
	// Returns [ErrNotFound] when no such row exists.
	CandidateInterviewByMockAndUser(ctx context.Context, mockInterviewID, userID string) (*types.CandidateInterview, error)

	// UpdateStatus sets the status of the interview identified by id and
	// refreshes its updated_at timestamp.
	// Returns [ErrNotFound] when no such row exists.
	UpdateStatus(ctx context.Context, id string, status types.InterviewStatus) error

	// UpdateEditorSnapshots stores the final code and design editor contents
	// on the interview row for later review. Empty arguments clear the slots.
	// Returns [ErrNotFound] when no such row exists.
	UpdateEditorSnapshots(ctx context.Context, id, codeSnapshot, designSnapshot string) error

	// PlanByCandidateInterview returns the phase plan of the template backing
	// the given interview instance, ordered by sequence then creation time.
	// Returns an empty (non-nil) slice when the interview exists but its
	// template has no phases.
	PlanByCandidateInterview(ctx context.Context, candidateInterviewID string) ([]PlannerRecord, error)
}

// SolutionStore persists the latest editor artifact per question per interview.
type SolutionStore interface {
	// UpsertSolution inserts or replaces the solution identified by
	// (QuestionID, CandidateInterviewID). Latest wins; no history is kept.
	UpsertSolution(ctx context.Context, sol types.QuestionSolution) error

	// LatestSolution retrieves the current solution for the given question and
	// interview. Returns [ErrNotFound] when nothing has been submitted yet.
	LatestSolution(ctx context.Context, questionID, candidateInterviewID string) (*types.QuestionSolution, error)
}

// TranscriptStore is the append-only conversation log.
type TranscriptStore interface {
	// AppendTranscript appends one transcript event keyed by its
	// CandidateInterviewID. Returns an error only on storage failure.
	AppendTranscript(ctx context.Context, ev types.TranscriptEvent) error
}

// CatalogStore resolves catalogue data referenced by interview plans.
type CatalogStore interface {
	// QuestionTexts returns the full text for each of the given question IDs.
	// IDs without a catalogue entry are simply absent from the result; the
	// caller decides whether that is an error.
	QuestionTexts(ctx context.Context, ids []string) (map[string]string, error)
}

// KnowledgeStore manages pre-embedded knowledge snippets grouped into banks.
//
// Callers are responsible for producing embeddings before calling
// UpsertSnippet or SearchSnippets.
type KnowledgeStore interface {
	// UpsertSnippet stores a snippet with its embedding. If a snippet with the
	// same ID already exists it is completely replaced.
	UpsertSnippet(ctx context.Context, snippet types.KnowledgeSnippet, embedding []float32) error

	// SearchSnippets returns the topK snippets in the given bank whose
	// embeddings are closest (cosine distance) to the query embedding,
	// most similar first. Score is 1 - distance, so higher is better.
	// Returns an empty (non-nil) slice when the bank is empty or unknown.
	SearchSnippets(ctx context.Context, bankID string, embedding []float32, topK int) ([]types.KnowledgeSnippet, error)
}

// Store aggregates every persistence concern behind a single handle, which is
// what the dependency container wires through the application.
type Store interface {
	InterviewStore
	SolutionStore
	TranscriptStore
	CatalogStore
	KnowledgeStore
}
