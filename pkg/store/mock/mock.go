// Package mock provides an in-memory test double for the [store.Store]
// interfaces.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Two write paths are observable through subsequent reads so that workflows
// under test see their own effects: [Store.UpdateStatus] mutates
// CandidateInterviewResult when the IDs match, and [Store.UpsertSolution]
// feeds [Store.LatestSolution] for the same key.
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [store.Store]. All exported *Err
// fields default to nil (success).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// solutions holds the latest value passed to UpsertSolution per
	// (question, interview) key.
	solutions map[string]types.QuestionSolution

	// CandidateInterviewResult is returned by [Store.CandidateInterview] and
	// [Store.CandidateInterviewByMockAndUser] (a copy each call). When nil and
	// the corresponding *Err field is nil, those methods return
	// [store.ErrNotFound].
	CandidateInterviewResult *types.CandidateInterview

	// CandidateInterviewErr is returned by [Store.CandidateInterview] when non-nil.
	CandidateInterviewErr error

	// ByMockAndUserErr is returned by [Store.CandidateInterviewByMockAndUser]
	// when non-nil.
	ByMockAndUserErr error

	// UpdateStatusErr is returned by [Store.UpdateStatus] when non-nil.
	// When nil, UpdateStatus also applies the status to
	// CandidateInterviewResult when the IDs match.
	UpdateStatusErr error

	// UpdateEditorSnapshotsErr is returned by [Store.UpdateEditorSnapshots]
	// when non-nil.
	UpdateEditorSnapshotsErr error

	// PlanResult is returned by [Store.PlanByCandidateInterview].
	// When nil, an empty non-nil slice is returned.
	PlanResult []store.PlannerRecord

	// PlanErr is returned by [Store.PlanByCandidateInterview] when non-nil.
	PlanErr error

	// UpsertSolutionErr is returned by [Store.UpsertSolution] when non-nil.
	// When nil, the solution is retained for [Store.LatestSolution].
	UpsertSolutionErr error

	// LatestSolutionResult overrides what [Store.LatestSolution] returns.
	// When nil, LatestSolution falls back to the most recent UpsertSolution
	// value for the same key, and to [store.ErrNotFound] when there is none.
	LatestSolutionResult *types.QuestionSolution

	// LatestSolutionErr is returned by [Store.LatestSolution] when non-nil.
	LatestSolutionErr error

	// AppendTranscriptErr is returned by [Store.AppendTranscript] when non-nil.
	AppendTranscriptErr error

	// QuestionTextsResult is returned by [Store.QuestionTexts].
	// When nil, an empty non-nil map is returned.
	QuestionTextsResult map[string]string

	// QuestionTextsErr is returned by [Store.QuestionTexts] when non-nil.
	QuestionTextsErr error

	// UpsertSnippetErr is returned by [Store.UpsertSnippet] when non-nil.
	UpsertSnippetErr error

	// SearchSnippetsResult is returned by [Store.SearchSnippets].
	// When nil, an empty non-nil slice is returned.
	SearchSnippetsResult []types.KnowledgeSnippet

	// SearchSnippetsErr is returned by [Store.SearchSnippets] when non-nil.
	SearchSnippetsErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and retained solutions without altering
// response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.solutions = nil
}

// CandidateInterview implements [store.InterviewStore].
func (m *Store) CandidateInterview(_ context.Context, id string) (*types.CandidateInterview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CandidateInterview", Args: []any{id}})
	if m.CandidateInterviewErr != nil {
		return nil, m.CandidateInterviewErr
	}
	if m.CandidateInterviewResult == nil {
		return nil, store.ErrNotFound
	}
	ci := *m.CandidateInterviewResult
	return &ci, nil
}

// CandidateInterviewByMockAndUser implements [store.InterviewStore].
func (m *Store) CandidateInterviewByMockAndUser(_ context.Context, mockInterviewID, userID string) (*types.CandidateInterview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CandidateInterviewByMockAndUser", Args: []any{mockInterviewID, userID}})
	if m.ByMockAndUserErr != nil {
		return nil, m.ByMockAndUserErr
	}
	if m.CandidateInterviewResult == nil {
		return nil, store.ErrNotFound
	}
	ci := *m.CandidateInterviewResult
	return &ci, nil
}

// UpdateStatus implements [store.InterviewStore].
func (m *Store) UpdateStatus(_ context.Context, id string, status types.InterviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpdateStatus", Args: []any{id, status}})
	if m.UpdateStatusErr != nil {
		return m.UpdateStatusErr
	}
	if m.CandidateInterviewResult != nil && m.CandidateInterviewResult.ID == id {
		m.CandidateInterviewResult.Status = status
	}
	return nil
}

// UpdateEditorSnapshots implements [store.InterviewStore].
func (m *Store) UpdateEditorSnapshots(_ context.Context, id, codeSnapshot, designSnapshot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpdateEditorSnapshots", Args: []any{id, codeSnapshot, designSnapshot}})
	if m.UpdateEditorSnapshotsErr != nil {
		return m.UpdateEditorSnapshotsErr
	}
	if m.CandidateInterviewResult != nil && m.CandidateInterviewResult.ID == id {
		m.CandidateInterviewResult.CodeEditorSnapshot = codeSnapshot
		m.CandidateInterviewResult.DesignEditorSnapshot = designSnapshot
	}
	return nil
}

// PlanByCandidateInterview implements [store.InterviewStore].
func (m *Store) PlanByCandidateInterview(_ context.Context, candidateInterviewID string) ([]store.PlannerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "PlanByCandidateInterview", Args: []any{candidateInterviewID}})
	if m.PlanResult == nil {
		return []store.PlannerRecord{}, m.PlanErr
	}
	out := make([]store.PlannerRecord, len(m.PlanResult))
	copy(out, m.PlanResult)
	return out, m.PlanErr
}

// UpsertSolution implements [store.SolutionStore].
func (m *Store) UpsertSolution(_ context.Context, sol types.QuestionSolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpsertSolution", Args: []any{sol}})
	if m.UpsertSolutionErr != nil {
		return m.UpsertSolutionErr
	}
	if m.solutions == nil {
		m.solutions = make(map[string]types.QuestionSolution)
	}
	m.solutions[solutionKey(sol.QuestionID, sol.CandidateInterviewID)] = sol
	return nil
}

// LatestSolution implements [store.SolutionStore].
func (m *Store) LatestSolution(_ context.Context, questionID, candidateInterviewID string) (*types.QuestionSolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "LatestSolution", Args: []any{questionID, candidateInterviewID}})
	if m.LatestSolutionErr != nil {
		return nil, m.LatestSolutionErr
	}
	if m.LatestSolutionResult != nil {
		sol := *m.LatestSolutionResult
		return &sol, nil
	}
	if sol, ok := m.solutions[solutionKey(questionID, candidateInterviewID)]; ok {
		return &sol, nil
	}
	return nil, store.ErrNotFound
}

// AppendTranscript implements [store.TranscriptStore].
func (m *Store) AppendTranscript(_ context.Context, ev types.TranscriptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "AppendTranscript", Args: []any{ev}})
	return m.AppendTranscriptErr
}

// QuestionTexts implements [store.CatalogStore].
func (m *Store) QuestionTexts(_ context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "QuestionTexts", Args: []any{ids}})
	if m.QuestionTextsErr != nil {
		return nil, m.QuestionTextsErr
	}
	out := make(map[string]string, len(m.QuestionTextsResult))
	for k, v := range m.QuestionTextsResult {
		out[k] = v
	}
	return out, nil
}

// UpsertSnippet implements [store.KnowledgeStore].
func (m *Store) UpsertSnippet(_ context.Context, snippet types.KnowledgeSnippet, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpsertSnippet", Args: []any{snippet, embedding}})
	return m.UpsertSnippetErr
}

// SearchSnippets implements [store.KnowledgeStore].
func (m *Store) SearchSnippets(_ context.Context, bankID string, embedding []float32, topK int) ([]types.KnowledgeSnippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SearchSnippets", Args: []any{bankID, embedding, topK}})
	if m.SearchSnippetsResult == nil {
		return []types.KnowledgeSnippet{}, m.SearchSnippetsErr
	}
	out := make([]types.KnowledgeSnippet, len(m.SearchSnippetsResult))
	copy(out, m.SearchSnippetsResult)
	return out, m.SearchSnippetsErr
}

// Ping mirrors the health-check hook of the PostgreSQL store.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping", Args: nil})
	return m.PingErr
}

func solutionKey(questionID, candidateInterviewID string) string {
	return questionID + "|" + candidateInterviewID
}

// Ensure Store satisfies the interface at compile time.
var _ store.Store = (*Store)(nil)
