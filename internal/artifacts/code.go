package artifacts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// promptQueueBuf bounds fired prompts waiting for the stage loop to forward
// them. A session produces at most one pending prompt per pipeline, so the
// queue only ever backs up when the pipeline itself is stalled.
const promptQueueBuf = 8

// CodeProcessor ingests code-editor snapshots from the frame stream.
//
// Snapshots terminate here: changed content is persisted immediately and a
// debounced user-role prompt is scheduled for the LLM. All other frames pass
// through untouched.
type CodeProcessor struct {
	store     store.SolutionStore
	prompts   *prompt.Pack
	debouncer *Debouncer
	log       *slog.Logger

	queue chan pipeline.Frame

	mu           sync.Mutex
	cache        map[string]string // question id → last seen content
	submissions  map[string]int    // question id → accepted snapshot count
	lastSnapshot string            // newest editor content, any question
}

var _ pipeline.Stage = (*CodeProcessor)(nil)

// NewCodeProcessor returns a code pipeline with the given quiet window
// (zero selects [DefaultQuietWindow]).
func NewCodeProcessor(st store.SolutionStore, prompts *prompt.Pack, quiet time.Duration, log *slog.Logger) *CodeProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &CodeProcessor{
		store:       st,
		prompts:     prompts,
		debouncer:   NewDebouncer(quiet),
		log:         log,
		queue:       make(chan pipeline.Frame, promptQueueBuf),
		cache:       make(map[string]string),
		submissions: make(map[string]int),
	}
}

func (p *CodeProcessor) Name() string { return "code_artifacts" }

// Stop discards the pending prompt, if any. The orchestrator calls it at
// finalization so a prompt scheduled before sealing never fires into a
// closing conversation.
func (p *CodeProcessor) Stop() {
	if p.debouncer.Cancel() {
		p.log.Debug("artifacts: pending code prompt cancelled")
	}
}

// Snapshot returns the editor content most recently received this session,
// regardless of question. The orchestrator flushes it into the candidate
// interview record at session end. Empty when the editor was never used.
func (p *CodeProcessor) Snapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSnapshot
}

func (p *CodeProcessor) Process(ctx context.Context, in <-chan pipeline.Frame, out chan<- pipeline.Frame) error {
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
			if code, isCode := f.(*pipeline.CodeFrame); isCode {
				p.ingest(ctx, code.Content)
				continue
			}
			if !pipeline.Forward(ctx, out, f) {
				return nil
			}
		}
	}
}

// ingest runs the shared artifact pattern on one snapshot: quick-reject,
// diff against the persisted latest, upsert, schedule the debounced prompt.
// Persistence failures are logged and never cancel the prompt.
func (p *CodeProcessor) ingest(ctx context.Context, cc types.CodeContent) {
	qid := cc.QuestionID
	content := cc.Content

	p.mu.Lock()
	p.lastSnapshot = content
	if prev, seen := p.cache[qid]; seen && prev == content {
		p.mu.Unlock()
		p.log.Debug("artifacts: unchanged code snapshot", "question_id", qid)
		return
	}
	p.mu.Unlock()

	lang := NormalizeLanguage(cc.Language, p.log)

	initial := false
	latest, err := p.store.LatestSolution(ctx, qid, cc.CandidateInterviewID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		initial = true
	case err != nil:
		// A failed read must not lose the snapshot; carry on as an update.
		p.log.Warn("artifacts: latest code lookup failed",
			"question_id", qid, "error", err)
	case latest.Answer == content && latest.Type == lang:
		p.mu.Lock()
		p.cache[qid] = content
		p.mu.Unlock()
		p.log.Debug("artifacts: code snapshot matches persisted latest", "question_id", qid)
		return
	}

	p.mu.Lock()
	p.cache[qid] = content
	p.submissions[qid]++
	count := p.submissions[qid]
	p.mu.Unlock()

	if err := p.store.UpsertSolution(ctx, types.QuestionSolution{
		QuestionID:           qid,
		CandidateInterviewID: cc.CandidateInterviewID,
		Type:                 lang,
		Answer:               content,
		UpdatedAt:            time.Now(),
	}); err != nil {
		p.log.Error("artifacts: code upsert failed",
			"question_id", qid,
			"candidate_interview_id", cc.CandidateInterviewID,
			"error", err)
	}

	text, err := p.prompts.CodePrompt(initial, prompt.CodePromptData{
		SubmissionCount: count,
		Language:        lang,
		LanguageTag:     FenceTag(lang),
		Content:         content,
		Indicators:      completenessIndicators(content),
	})
	if err != nil {
		p.log.Error("artifacts: code prompt render failed", "question_id", qid, "error", err)
		return
	}

	p.debouncer.Schedule(func() {
		p.emit(&pipeline.AppendFrame{
			Role:     types.RoleUser,
			Content:  text,
			Generate: true,
			Source:   "code_debounce",
		})
		p.log.Info("artifacts: code prompt fired",
			"question_id", qid, "submission", count, "language", lang)
	})
	p.log.Debug("artifacts: code prompt scheduled",
		"question_id", qid, "submission", count, "initial", initial, "language", lang)
}

// emit hands a fired prompt to the stage loop. The queue, not the stage's
// out channel, is the only thing the timer goroutine touches, so a prompt
// firing during teardown lands in a garbage-collected buffer instead of a
// closed channel.
func (p *CodeProcessor) emit(f pipeline.Frame) {
	select {
	case p.queue <- f:
	default:
		p.log.Warn("artifacts: prompt queue full, dropping code prompt")
	}
}

// definitionMarkers indicate at least one declaration or executable statement
// across the supported languages.
var definitionMarkers = []string{"func ", "def ", "function ", "class ", "=>", "SELECT ", "select "}

// completenessIndicators derives short signals about a snapshot for the
// interviewer prompt. Heuristics only; the model weighs them against the
// code itself.
func completenessIndicators(content string) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return []string{"editor is empty"}
	}

	var out []string
	if len(trimmed) < 40 {
		out = append(out, "very short snippet")
	}
	upper := strings.ToUpper(content)
	if strings.Contains(upper, "TODO") || strings.Contains(upper, "FIXME") {
		out = append(out, "unresolved TODO markers")
	}
	if !hasDefinition(content) {
		out = append(out, "no function or class definitions yet")
	}
	if strings.Count(content, "{") != strings.Count(content, "}") {
		out = append(out, "unbalanced braces")
	}
	if strings.Count(content, "(") != strings.Count(content, ")") {
		out = append(out, "unbalanced parentheses")
	}
	return out
}

func hasDefinition(content string) bool {
	for _, m := range definitionMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}
