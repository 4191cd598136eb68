package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/internal/excalidraw"
	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// designPair is the transformed rendering a design prompt is built from.
// Changed-detection compares pairs, not raw scenes: moving a box without
// changing the structure must not re-prompt the interviewer.
type designPair struct {
	description string
	mermaid     string
}

// DesignProcessor ingests design-editor snapshots from the frame stream.
//
// Scenes terminate here: each one is converted to a description and Mermaid
// rendering, persisted as a JSON envelope when the rendering changed, and a
// debounced user-role prompt is scheduled for the LLM. All other frames pass
// through untouched.
type DesignProcessor struct {
	store     store.SolutionStore
	prompts   *prompt.Pack
	debouncer *Debouncer
	log       *slog.Logger

	queue chan pipeline.Frame

	mu           sync.Mutex
	cache        map[string]string     // question id → last raw scene JSON
	lastPair     map[string]designPair // question id → last scheduled rendering
	submissions  map[string]int        // question id → accepted snapshot count
	lastSnapshot string                // newest raw scene, any question
}

var _ pipeline.Stage = (*DesignProcessor)(nil)

// NewDesignProcessor returns a design pipeline with the given quiet window
// (zero selects [DefaultQuietWindow]).
func NewDesignProcessor(st store.SolutionStore, prompts *prompt.Pack, quiet time.Duration, log *slog.Logger) *DesignProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &DesignProcessor{
		store:       st,
		prompts:     prompts,
		debouncer:   NewDebouncer(quiet),
		log:         log,
		queue:       make(chan pipeline.Frame, promptQueueBuf),
		cache:       make(map[string]string),
		lastPair:    make(map[string]designPair),
		submissions: make(map[string]int),
	}
}

func (p *DesignProcessor) Name() string { return "design_artifacts" }

// Stop discards the pending prompt, if any.
func (p *DesignProcessor) Stop() {
	if p.debouncer.Cancel() {
		p.log.Debug("artifacts: pending design prompt cancelled")
	}
}

// Snapshot returns the raw scene JSON most recently received this session,
// regardless of question. The orchestrator flushes it into the candidate
// interview record at session end. Empty when the canvas was never used.
func (p *DesignProcessor) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSnapshot
}

func (p *DesignProcessor) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-p.queue:
			if !pipeline.Forward(ctx, out, f) {
				return nil
			}
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if design, isDesign := f.(*pipeline.DesignFrame); isDesign {
				p.ingest(ctx, design.Content)
				continue
			}
			if !pipeline.Forward(ctx, out, f) {
				return nil
			}
		}
	}
}

// ingest runs the shared artifact pattern on one scene, with the design
// twist: the diff is on the transformed rendering, including the rendering
// of a pending-but-unsent prompt.
func (p *DesignProcessor) ingest(ctx context.Context, dc types.DesignContent) {
	qid := dc.QuestionID
	raw := dc.Content

	p.mu.Lock()
	p.lastSnapshot = raw
	if prev, seen := p.cache[qid]; seen && prev == raw {
		p.mu.Unlock()
		p.log.Debug("artifacts: unchanged design snapshot", "question_id", qid)
		return
	}
	p.mu.Unlock()

	diag, err := excalidraw.Parse(raw)
	if err != nil {
		// Protocol violation: log and drop, never fail the stream.
		p.log.Warn("artifacts: design scene rejected", "question_id", qid, "error", err)
		return
	}
	next := designPair{description: diag.Description(), mermaid: diag.Mermaid()}

	p.mu.Lock()
	if last, seen := p.lastPair[qid]; seen && last == next {
		p.cache[qid] = raw
		p.mu.Unlock()
		p.log.Debug("artifacts: design rendering unchanged", "question_id", qid)
		return
	}
	p.mu.Unlock()

	initial := false
	latest, err := p.store.LatestSolution(ctx, qid, dc.CandidateInterviewID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		initial = true
	case err != nil:
		p.log.Warn("artifacts: latest design lookup failed",
			"question_id", qid, "error", err)
	default:
		var env types.DesignEnvelope
		if jsonErr := json.Unmarshal([]byte(latest.Answer), &env); jsonErr == nil &&
			env.Description == next.description && env.Mermaid == next.mermaid {
			p.mu.Lock()
			p.cache[qid] = raw
			p.lastPair[qid] = next
			p.mu.Unlock()
			p.log.Debug("artifacts: design matches persisted latest", "question_id", qid)
			return
		}
	}

	// An empty canvas on a question with no persisted design is editor
	// noise, not a submission. Clearing a persisted design is a submission.
	if initial && diag.Empty() {
		p.mu.Lock()
		p.cache[qid] = raw
		p.lastPair[qid] = next
		p.mu.Unlock()
		p.log.Debug("artifacts: empty initial design skipped", "question_id", qid)
		return
	}

	p.mu.Lock()
	p.cache[qid] = raw
	p.lastPair[qid] = next
	p.submissions[qid]++
	count := p.submissions[qid]
	p.mu.Unlock()

	envelope, err := json.Marshal(types.DesignEnvelope{
		OriginalDesign: raw,
		Description:    next.description,
		Mermaid:        next.mermaid,
		Timestamp:      time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Error("artifacts: design envelope encode failed", "question_id", qid, "error", err)
	} else if err := p.store.UpsertSolution(ctx, types.QuestionSolution{
		QuestionID:           qid,
		CandidateInterviewID: dc.CandidateInterviewID,
		Type:                 DesignType,
		Answer:               string(envelope),
		UpdatedAt:            time.Now(),
	}); err != nil {
		p.log.Error("artifacts: design upsert failed",
			"question_id", qid,
			"candidate_interview_id", dc.CandidateInterviewID,
			"error", err)
	}

	text, err := p.prompts.DesignPrompt(initial, prompt.DesignPromptData{
		SubmissionCount: count,
		Description:     next.description,
		Mermaid:         next.mermaid,
	})
	if err != nil {
		p.log.Error("artifacts: design prompt render failed", "question_id", qid, "error", err)
		return
	}

	p.debouncer.Schedule(func() {
		p.emit(&pipeline.AppendFrame{
			Role:     types.RoleUser,
			Content:  text,
			Generate: true,
			Source:   "design_debounce",
		})
		p.log.Info("artifacts: design prompt fired",
			"question_id", qid, "submission", count)
	})
	p.log.Debug("artifacts: design prompt scheduled",
		"question_id", qid, "submission", count, "initial", initial)
}

func (p *DesignProcessor) emit(f pipeline.Frame) {
	select {
	case p.queue <- f:
	default:
		p.log.Warn("artifacts: prompt queue full, dropping design prompt")
	}
}
