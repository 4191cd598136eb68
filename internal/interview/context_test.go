package interview_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/cadenza-ai/cadenza/internal/interview"
)

func plan(t *testing.T) []interview.PlannerField {
	t.Helper()
	return []interview.PlannerField{
		{ID: "step-0", Sequence: 0, DurationMinutes: 5, QuestionID: "q-intro", ToolNames: []interview.ToolName{interview.ToolBase}},
		{ID: "step-1", Sequence: 1, DurationMinutes: 25, QuestionID: "q-code", ToolNames: []interview.ToolName{interview.ToolCodeEditor}},
		{ID: "step-2", Sequence: 2, DurationMinutes: 10, QuestionID: "q-qna", ToolNames: []interview.ToolName{interview.ToolBase}},
	}
}

func newContext(t *testing.T) *interview.Context {
	t.Helper()
	ctx, err := interview.NewContext("ci-1", "mi-1", "user-1", "sess-1", plan(t))
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	return ctx
}

func TestNewContext_SortsPlanners(t *testing.T) {
	t.Parallel()

	shuffled := plan(t)
	slices.Reverse(shuffled)

	ctx, err := interview.NewContext("ci-1", "mi-1", "user-1", "sess-1", shuffled)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}

	p, ok := ctx.CurrentPlanner()
	if !ok {
		t.Fatal("CurrentPlanner() not ok on fresh context")
	}
	if p.Sequence != 0 {
		t.Errorf("first planner sequence = %d, want 0", p.Sequence)
	}
	if got, want := ctx.CurrentQuestionID, "q-intro"; got != want {
		t.Errorf("CurrentQuestionID = %q, want %q", got, want)
	}
}

func TestNewContext_ReportsAllViolations(t *testing.T) {
	t.Parallel()

	bad := []interview.PlannerField{
		{Sequence: -1, DurationMinutes: 0, ToolNames: []interview.ToolName{"WHITEBOARD"}},
		{Sequence: -1, DurationMinutes: 5},
	}

	_, err := interview.NewContext("", "", "user-1", "sess-1", bad)
	if err == nil {
		t.Fatal("NewContext() succeeded, want error")
	}
	if !errors.Is(err, interview.ErrInvalid) {
		t.Errorf("error = %v, want errors.Is(_, ErrInvalid)", err)
	}
	for _, want := range []string{
		"candidate interview id is empty",
		"mock interview id is empty",
		"negative sequence",
		"duplicate sequence",
		"must be positive",
		`unknown tool "WHITEBOARD"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestNewContext_EmptyPlan(t *testing.T) {
	t.Parallel()

	_, err := interview.NewContext("ci-1", "mi-1", "user-1", "sess-1", nil)
	if err == nil {
		t.Fatal("NewContext() with empty plan succeeded, want error")
	}
	if !strings.Contains(err.Error(), "no phases") {
		t.Errorf("error = %q, want mention of empty plan", err)
	}
}

func TestAdvance_CursorMovesByOne(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)

	want := 0
	for !ctx.IsTerminal() {
		if got := ctx.CurrentSequence(); got != want {
			t.Fatalf("CurrentSequence() = %d, want %d", got, want)
		}
		if !ctx.Advance() {
			t.Fatal("Advance() = false before terminal")
		}
		want++
	}

	if got := ctx.CurrentSequence(); got != ctx.PhaseCount() {
		t.Errorf("terminal CurrentSequence() = %d, want %d", got, ctx.PhaseCount())
	}
	if ctx.Advance() {
		t.Error("Advance() = true on terminal context")
	}
}

func TestAdvance_RefreshesDenormalizedFields(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)
	ctx.Advance()

	if got, want := ctx.CurrentQuestionID, "q-code"; got != want {
		t.Errorf("CurrentQuestionID = %q, want %q", got, want)
	}
	if got, want := ctx.CurrentWorkflowStepID, "step-1"; got != want {
		t.Errorf("CurrentWorkflowStepID = %q, want %q", got, want)
	}
	if !slices.Contains(ctx.CurrentToolNames, interview.ToolCodeEditor) {
		t.Errorf("CurrentToolNames = %v, want CODE_EDITOR", ctx.CurrentToolNames)
	}
}

func TestIsLastPhase(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)
	if ctx.IsLastPhase() {
		t.Error("IsLastPhase() = true on phase 0 of 3")
	}
	ctx.Advance()
	ctx.Advance()
	if !ctx.IsLastPhase() {
		t.Error("IsLastPhase() = false on final phase")
	}
	ctx.Advance()
	if ctx.IsLastPhase() {
		t.Error("IsLastPhase() = true on terminal context")
	}
}

func TestPopulateQuestionTexts(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)
	ctx.PopulateQuestionTexts(map[string]string{
		"q-intro": "Tell me about yourself.",
		"q-code":  "Reverse a linked list.",
	})

	if got, want := ctx.CurrentQuestionText, "Tell me about yourself."; got != want {
		t.Errorf("CurrentQuestionText = %q, want %q", got, want)
	}
	ctx.Advance()
	if got, want := ctx.CurrentQuestionText, "Reverse a linked list."; got != want {
		t.Errorf("CurrentQuestionText after advance = %q, want %q", got, want)
	}
	// q-qna was absent from the map and keeps its zero value.
	ctx.Advance()
	if got := ctx.CurrentQuestionText; got != "" {
		t.Errorf("CurrentQuestionText for unhydrated phase = %q, want empty", got)
	}
}

func TestPopulateToolNames(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)
	ctx.PopulateToolNames(map[string]string{
		"q-intro": "base, design_editor",
	})

	want := []interview.ToolName{interview.ToolBase, interview.ToolDesignEditor}
	if !slices.Equal(ctx.CurrentToolNames, want) {
		t.Errorf("CurrentToolNames = %v, want %v", ctx.CurrentToolNames, want)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	ctx := newContext(t)
	ctx.Advance()

	s := ctx.Summary()
	if got, want := s.CandidateInterviewID, "ci-1"; got != want {
		t.Errorf("Summary().CandidateInterviewID = %q, want %q", got, want)
	}
	if got, want := s.CurrentSequence, 1; got != want {
		t.Errorf("Summary().CurrentSequence = %d, want %d", got, want)
	}
	if s.Terminal {
		t.Error("Summary().Terminal = true mid-interview")
	}
	if got, want := s.PhaseCount, 3; got != want {
		t.Errorf("Summary().PhaseCount = %d, want %d", got, want)
	}
}

func TestParseToolNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []interview.ToolName
	}{
		{name: "single", raw: "BASE", want: []interview.ToolName{interview.ToolBase}},
		{name: "spaces and case", raw: " code_editor , Base ", want: []interview.ToolName{interview.ToolCodeEditor, interview.ToolBase}},
		{name: "duplicates collapse", raw: "BASE,BASE,CODE_EDITOR", want: []interview.ToolName{interview.ToolBase, interview.ToolCodeEditor}},
		{name: "unknown skipped", raw: "BASE,WHITEBOARD,DESIGN_EDITOR", want: []interview.ToolName{interview.ToolBase, interview.ToolDesignEditor}},
		{name: "empty", raw: "", want: nil},
		{name: "only separators", raw: " , ,", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := interview.ParseToolNames(tt.raw); !slices.Equal(got, tt.want) {
				t.Errorf("ParseToolNames(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
