// Package interview holds the per-session interview state: the ordered phase
// plan, the cursor over it, and the countdown timer that paces each phase.
//
// An [Context] is built once at session bring-up from the catalogue and
// persistence layers and is owned exclusively by the session orchestrator.
// It is not safe for concurrent use; the orchestrator serializes all access
// behind its transition lock.
package interview

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalid marks construction failures caused by bad session inputs, as
// opposed to missing rows or transport problems.
var ErrInvalid = errors.New("interview: invalid context")

// PlannerField is one phase of the interview plan: a question, the tools the
// candidate may use, a duration, and the system instructions for the model.
type PlannerField struct {
	ID              string
	Sequence        int
	DurationMinutes int
	QuestionID      string
	KnowledgeBankID string

	// QuestionText is resolved lazily from the catalogue via
	// [Context.PopulateQuestionTexts].
	QuestionText string

	ToolNames      []ToolName
	ToolProperties map[string]any

	// Instructions is the phase's system-prompt text; may be empty.
	Instructions string

	// StartTime and EndTime are stamped by the orchestrator on phase
	// entry and exit.
	StartTime *time.Time
	EndTime   *time.Time
}

// Context is the canonical per-session interview state.
type Context struct {
	CandidateInterviewID string
	MockInterviewID      string
	UserID               string
	SessionID            string

	StartedAt time.Time

	planners []PlannerField
	cursor   int

	// Denormalized from the planner under the cursor for quick access.
	CurrentQuestionID     string
	CurrentQuestionText   string
	CurrentToolNames      []ToolName
	CurrentWorkflowStepID string
}

// NewContext validates and assembles a session context. Planners are sorted
// by sequence; all violations are reported together, wrapped in [ErrInvalid].
func NewContext(candidateInterviewID, mockInterviewID, userID, sessionID string, planners []PlannerField) (*Context, error) {
	var errs []error
	if candidateInterviewID == "" {
		errs = append(errs, errors.New("candidate interview id is empty"))
	}
	if mockInterviewID == "" {
		errs = append(errs, errors.New("mock interview id is empty"))
	}
	if userID == "" {
		errs = append(errs, errors.New("user id is empty"))
	}
	if sessionID == "" {
		errs = append(errs, errors.New("session id is empty"))
	}
	if len(planners) == 0 {
		errs = append(errs, errors.New("plan has no phases"))
	}

	sorted := slices.Clone(planners)
	slices.SortStableFunc(sorted, func(a, b PlannerField) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	seen := make(map[int]bool, len(sorted))
	for i := range sorted {
		p := &sorted[i]
		if p.Sequence < 0 {
			errs = append(errs, fmt.Errorf("phase %d: negative sequence %d", i, p.Sequence))
		}
		if seen[p.Sequence] {
			errs = append(errs, fmt.Errorf("phase %d: duplicate sequence %d", i, p.Sequence))
		}
		seen[p.Sequence] = true
		if p.DurationMinutes <= 0 {
			errs = append(errs, fmt.Errorf("phase %d: duration %d minutes, must be positive", i, p.DurationMinutes))
		}
		for _, tool := range p.ToolNames {
			if !tool.IsValid() {
				errs = append(errs, fmt.Errorf("phase %d: unknown tool %q", i, tool))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	ctx := &Context{
		CandidateInterviewID: candidateInterviewID,
		MockInterviewID:      mockInterviewID,
		UserID:               userID,
		SessionID:            sessionID,
		StartedAt:            time.Now(),
		planners:             sorted,
	}
	ctx.refresh()
	return ctx, nil
}

// CurrentPlanner returns the phase under the cursor, or false when the
// context is terminal.
func (c *Context) CurrentPlanner() (*PlannerField, bool) {
	if c.cursor >= len(c.planners) {
		return nil, false
	}
	return &c.planners[c.cursor], true
}

// NextPlanner returns the phase after the cursor, or false when the current
// phase is the last one (or the context is terminal).
func (c *Context) NextPlanner() (*PlannerField, bool) {
	if c.cursor+1 >= len(c.planners) {
		return nil, false
	}
	return &c.planners[c.cursor+1], true
}

// Advance moves the cursor forward by one phase and refreshes the
// denormalized fields. It returns false when the context was already
// terminal. Advancing past the last phase is allowed exactly once and leaves
// the context terminal.
func (c *Context) Advance() bool {
	if c.cursor >= len(c.planners) {
		return false
	}
	c.cursor++
	c.refresh()
	return true
}

// CurrentSequence returns the sequence of the phase under the cursor, or the
// phase count when terminal.
func (c *Context) CurrentSequence() int {
	if p, ok := c.CurrentPlanner(); ok {
		return p.Sequence
	}
	return len(c.planners)
}

// PhaseCount returns the number of phases in the plan.
func (c *Context) PhaseCount() int { return len(c.planners) }

// IsTerminal reports whether the cursor has moved past the last phase.
func (c *Context) IsTerminal() bool { return c.cursor >= len(c.planners) }

// IsLastPhase reports whether the cursor addresses the final phase.
func (c *Context) IsLastPhase() bool {
	return len(c.planners) > 0 && c.cursor == len(c.planners)-1
}

// PopulateQuestionTexts hydrates each phase's question text from a
// catalogue lookup keyed by question id. Phases whose question id is absent
// from the map are left untouched.
func (c *Context) PopulateQuestionTexts(texts map[string]string) {
	for i := range c.planners {
		if text, ok := texts[c.planners[i].QuestionID]; ok {
			c.planners[i].QuestionText = text
		}
	}
	c.refresh()
}

// PopulateToolNames hydrates each phase's tool set from a catalogue lookup
// keyed by question id. Values are comma-delimited storage strings; unknown
// tokens are skipped with a warning by [ParseToolNames].
func (c *Context) PopulateToolNames(raw map[string]string) {
	for i := range c.planners {
		if names, ok := raw[c.planners[i].QuestionID]; ok {
			c.planners[i].ToolNames = ParseToolNames(names)
		}
	}
	c.refresh()
}

// refresh recomputes the denormalized current-phase fields.
func (c *Context) refresh() {
	p, ok := c.CurrentPlanner()
	if !ok {
		c.CurrentQuestionID = ""
		c.CurrentQuestionText = ""
		c.CurrentToolNames = nil
		c.CurrentWorkflowStepID = ""
		return
	}
	c.CurrentQuestionID = p.QuestionID
	c.CurrentQuestionText = p.QuestionText
	c.CurrentToolNames = p.ToolNames
	c.CurrentWorkflowStepID = p.ID
}

// Summary is the serializable view of a [Context] for status endpoints.
type Summary struct {
	CandidateInterviewID string     `json:"candidateInterviewId"`
	MockInterviewID      string     `json:"mockInterviewId"`
	SessionID            string     `json:"sessionId"`
	StartedAt            time.Time  `json:"startedAt"`
	PhaseCount           int        `json:"phaseCount"`
	CurrentSequence      int        `json:"currentSequence"`
	Terminal             bool       `json:"terminal"`
	CurrentQuestionID    string     `json:"currentQuestionId,omitempty"`
	CurrentQuestionText  string     `json:"currentQuestionText,omitempty"`
	CurrentToolNames     []ToolName `json:"currentToolNames,omitempty"`
}

// Summary returns a point-in-time serializable view of the context.
func (c *Context) Summary() Summary {
	return Summary{
		CandidateInterviewID: c.CandidateInterviewID,
		MockInterviewID:      c.MockInterviewID,
		SessionID:            c.SessionID,
		StartedAt:            c.StartedAt,
		PhaseCount:           len(c.planners),
		CurrentSequence:      c.CurrentSequence(),
		Terminal:             c.IsTerminal(),
		CurrentQuestionID:    c.CurrentQuestionID,
		CurrentQuestionText:  c.CurrentQuestionText,
		CurrentToolNames:     c.CurrentToolNames,
	}
}
