// Package bot runs one live interview session end to end.
//
// A Bot owns everything scoped to the session's lifetime: the interview
// context and its phase timer, the frame pipeline from transport audio to
// synthesized speech, the per-session SSE bus, and the lifecycle hooks on
// the transport connection. Construction resolves the durable candidate
// interview row and its phase plan; [Bot.Run] then drives the session until
// the plan runs out or the client disconnects.
//
// Phase transitions serialize on an internal lock. Timer expiry and teardown
// both acquire it, so the cursor only ever moves forward and at most one
// banner injection is in flight at a time. Completing the plan finalizes the
// interview (closure utterance, sealed gate, completion workflow); a
// disconnect tears the session down without completing it.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/internal/artifacts"
	"github.com/cadenza-ai/cadenza/internal/completion"
	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/interview"
	"github.com/cadenza-ai/cadenza/internal/knowledge"
	"github.com/cadenza-ai/cadenza/internal/lexicon"
	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/internal/sse"
	"github.com/cadenza-ai/cadenza/pkg/notify"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	"github.com/cadenza-ai/cadenza/pkg/provider/stt"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ErrCompleted is returned by [New] when the resolved candidate interview is
// already COMPLETED. The HTTP layer maps it to a conflict response.
var ErrCompleted = errors.New("bot: interview already completed")

const (
	// signalBuf absorbs timer signal bursts (expiry emits two back to back)
	// while the orchestrator is busy with a transition.
	signalBuf = 16

	// sttSampleRate is the PCM format handed to the speech-to-text stream:
	// 16 kHz mono, the transport's provider-side output.
	sttSampleRate = 16000

	// callbackTimeout bounds the work done on transport callback and
	// teardown paths, which run without a session context.
	callbackTimeout = 10 * time.Second
)

// Config carries the dependencies for one session. Knowledge is optional;
// every other field is required.
type Config struct {
	// SessionID is the ephemeral id of this live connection.
	SessionID string

	// MockInterviewID and UserID resolve the candidate interview row.
	MockInterviewID string
	UserID          string

	// Conn is the session's transport connection. The bot registers the
	// lifecycle callbacks; signaling stays with the caller.
	Conn transport.Connection

	Store    store.Store
	Notifier notify.Notifier

	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Prompts supplies every template the session speaks from.
	Prompts *prompt.Pack

	// Knowledge retrieves phase context from the question's knowledge bank.
	// Nil or disabled skips retrieval.
	Knowledge *knowledge.Assembler

	// Bus is the process-wide transcript event bus.
	Bus *events.Bus

	// CompletionBreaker, when non-nil, guards the completion status flip.
	// Shared across sessions so repeated database failures open it once.
	CompletionBreaker *resilience.CircuitBreaker

	// Voice selects the TTS voice. Zero value uses the provider default.
	Voice types.VoiceProfile

	// QuietWindow is the artifact debounce window. Zero selects the
	// artifacts package default.
	QuietWindow time.Duration

	Log *slog.Logger
}

func (cfg *Config) validate() error {
	var errs []error
	if cfg.SessionID == "" {
		errs = append(errs, errors.New("session id is empty"))
	}
	if cfg.MockInterviewID == "" {
		errs = append(errs, errors.New("mock interview id is empty"))
	}
	if cfg.UserID == "" {
		errs = append(errs, errors.New("user id is empty"))
	}
	if cfg.Conn == nil {
		errs = append(errs, errors.New("transport connection is nil"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is nil"))
	}
	if cfg.Notifier == nil {
		errs = append(errs, errors.New("notifier is nil"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("llm provider is nil"))
	}
	if cfg.STT == nil {
		errs = append(errs, errors.New("stt provider is nil"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("tts provider is nil"))
	}
	if cfg.Prompts == nil {
		errs = append(errs, errors.New("prompt pack is nil"))
	}
	if cfg.Bus == nil {
		errs = append(errs, errors.New("transcript bus is nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("bot: invalid config: %w", err)
	}
	return nil
}

// Bot orchestrates one interview session.
type Bot struct {
	cfg  Config
	log  *slog.Logger
	conn transport.Connection

	ictx    *interview.Context
	timer   *interview.Timer
	signals chan interview.Signal

	pipe       *pipeline.Pipeline
	gate       *pipeline.Gate
	cswitch    *pipeline.ContextSwitch
	sttStage   *pipeline.STT
	llmStage   *pipeline.LLM
	codeProc   *artifacts.CodeProcessor
	designProc *artifacts.DesignProcessor

	completion *completion.Workflow
	sse        *sse.Bus

	// mu is the transition lock: it guards the interview context cursor,
	// the planner timestamps, and the one-shot flags below.
	mu         sync.Mutex
	wrapUpSent bool
	finalized  bool

	stopOnce sync.Once
	done     chan struct{}

	timerOpts []interview.TimerOption
}

// Option tunes a [Bot] beyond its required configuration.
type Option func(*Bot)

// WithTimerOptions forwards options to the phase timer. Tests compress the
// tick so multi-minute phases expire in milliseconds.
func WithTimerOptions(opts ...interview.TimerOption) Option {
	return func(b *Bot) {
		b.timerOpts = append(b.timerOpts, opts...)
	}
}

// New resolves the candidate interview behind (mock interview, user), builds
// the session pipeline, and wires the transport lifecycle callbacks. The
// returned bot is inert until [Bot.Run].
//
// Returns [store.ErrNotFound] (wrapped) when no candidate interview exists
// and [ErrCompleted] when the interview has already finished.
func New(ctx context.Context, cfg Config, opts ...Option) (*Bot, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session_id", cfg.SessionID)

	ci, err := cfg.Store.CandidateInterviewByMockAndUser(ctx, cfg.MockInterviewID, cfg.UserID)
	if err != nil {
		return nil, fmt.Errorf("bot: resolve candidate interview: %w", err)
	}
	if ci.Status == types.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrCompleted, ci.ID)
	}
	log = log.With("candidate_interview_id", ci.ID)

	records, err := cfg.Store.PlanByCandidateInterview(ctx, ci.ID)
	if err != nil {
		return nil, fmt.Errorf("bot: load phase plan: %w", err)
	}

	ictx, err := interview.NewContext(ci.ID, cfg.MockInterviewID, cfg.UserID, cfg.SessionID, plannersFromRecords(records))
	if err != nil {
		return nil, err
	}

	if ids := questionIDs(records); len(ids) > 0 {
		texts, err := cfg.Store.QuestionTexts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("bot: hydrate question texts: %w", err)
		}
		ictx.PopulateQuestionTexts(texts)
	}

	if err := cfg.Store.UpdateStatus(ctx, ci.ID, types.StatusInProgress); err != nil {
		return nil, fmt.Errorf("bot: mark interview in progress: %w", err)
	}

	b := &Bot{
		cfg:  cfg,
		log:  log,
		conn: cfg.Conn,
		ictx: ictx,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.signals = make(chan interview.Signal, signalBuf)
	b.timer = interview.NewTimer(b.signals, append(b.timerOpts, interview.WithTimerLogger(log))...)
	b.completion = completion.New(cfg.Store, cfg.Notifier, cfg.CompletionBreaker, log)
	b.sse = sse.NewBus(log)
	b.buildPipeline()

	// Register before signaling starts so neither event can be missed.
	b.conn.OnClientConnected(b.handleConnected)
	b.conn.OnClientDisconnected(b.handleDisconnected)

	return b, nil
}

// buildPipeline assembles the stage chain. Audio enters at the transport
// source and leaves at the sink; side-band frames ride the same channels so
// every stage observes one total order.
func (b *Bot) buildPipeline() {
	first, _ := b.ictx.CurrentPlanner()

	system := strings.TrimSpace(first.Instructions)
	if system == "" {
		system = b.cfg.Prompts.DefaultSystem()
	}

	sttCfg := stt.StreamConfig{
		SampleRate: sttSampleRate,
		Channels:   1,
		Keywords:   lexicon.TermsFor(first.QuestionText, phaseLanguages(first)),
	}

	source := pipeline.NewTransportSource(b.conn, b.log)
	b.sttStage = pipeline.NewSTT(b.cfg.STT, sttCfg, b.log)
	b.cswitch = pipeline.NewContextSwitch(b.log)
	b.gate = pipeline.NewGate(b.log)
	b.codeProc = artifacts.NewCodeProcessor(b.cfg.Store, b.cfg.Prompts, b.cfg.QuietWindow, b.log)
	b.designProc = artifacts.NewDesignProcessor(b.cfg.Store, b.cfg.Prompts, b.cfg.QuietWindow, b.log)
	candidateTap := pipeline.NewCandidateTap(b.cfg.Bus, b.ictx.SessionID, b.ictx.CandidateInterviewID, b.log)
	b.llmStage = pipeline.NewLLM(b.cfg.LLM, system, b.log)
	sink := pipeline.NewTransportSink(b.conn, b.llmStage, b.log)
	aggregator := pipeline.NewAggregator(sink, b.log)
	closure := pipeline.NewClosure(b.log)
	ttsStage := pipeline.NewTTS(b.cfg.TTS, b.cfg.Voice, b.log)
	assistantTap := pipeline.NewAssistantTap(b.cfg.Bus, b.ictx.SessionID, b.ictx.CandidateInterviewID, b.log)

	b.swapCorrector(first)

	b.pipe = pipeline.New([]pipeline.Stage{
		source,
		b.sttStage,
		b.cswitch,
		b.gate,
		b.codeProc,
		b.designProc,
		candidateTap,
		aggregator,
		closure,
		b.llmStage,
		ttsStage,
		sink,
		assistantTap,
	}, pipeline.WithLogger(b.log))
}

// Run drives the session: it enters phase 0, starts the timer signal loop,
// and blocks on the pipeline until the session ends. The error is nil for a
// clean drain (teardown or completed plan).
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(b.done)
	defer b.sse.Close()
	// Stopped before cancel releases the signal loop, so a live countdown
	// can never block on an abandoned signal channel.
	defer b.timer.Stop()

	go b.signalLoop(ctx)

	if err := b.pipe.Push(ctx, &pipeline.StartFrame{SessionID: b.ictx.SessionID}); err != nil {
		return fmt.Errorf("bot: open frame stream: %w", err)
	}

	b.mu.Lock()
	b.startPhase(ctx, true)
	b.mu.Unlock()

	b.log.Info("bot: session running", "phases", b.ictx.PhaseCount())

	if err := b.pipe.Run(ctx); err != nil {
		return fmt.Errorf("bot: pipeline: %w", err)
	}
	return nil
}

// signalLoop reacts to timer signals until the session context ends.
func (b *Bot) signalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-b.signals:
			switch sig.Kind {
			case interview.SignalNudge:
				b.nudge(sig)
			case interview.SignalExpired:
				b.advance(ctx)
			case interview.SignalStarted, interview.SignalStatusTick:
				// Status polling covers these; nothing to drive.
			}
		}
	}
}

// nudge injects a time reminder. The in-phase nudge asks the model to speak;
// the expiry nudge only updates the conversation, since the banner or the
// closure that follows generates the next utterance.
func (b *Bot) nudge(sig interview.Signal) {
	if sig.Final {
		if err := b.cswitch.InjectNudge(b.cfg.Prompts.FinalNudge(), true); err != nil {
			b.log.Warn("bot: final nudge dropped", "error", err)
		}
		return
	}
	text, err := b.cfg.Prompts.Nudge(prompt.NudgeData{ElapsedPct: sig.Status.ProgressPct})
	if err != nil {
		b.log.Error("bot: nudge template", "error", err)
		return
	}
	if err := b.cswitch.InjectNudge(text, false); err != nil {
		b.log.Warn("bot: nudge dropped", "error", err)
	}
}

// advance moves to the next phase on timer expiry, or finalizes the
// interview when the expired phase was the last one.
func (b *Bot) advance(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return
	}

	now := time.Now()
	if p, ok := b.ictx.CurrentPlanner(); ok {
		p.EndTime = &now
	}

	if !b.ictx.Advance() || b.ictx.IsTerminal() {
		b.finalizeLocked(ctx)
		return
	}
	b.startPhase(ctx, false)
}

// startPhase enters the phase under the cursor: stamps its start, injects
// its instructions, retargets the transcript corrector, restarts the timer,
// and announces the task over SSE. Callers hold the transition lock.
//
// Phase 0 is special: its instructions already seed the LLM system prompt,
// so only retrieved knowledge is injected on top.
func (b *Bot) startPhase(ctx context.Context, first bool) {
	p, ok := b.ictx.CurrentPlanner()
	if !ok {
		return
	}
	now := time.Now()
	p.StartTime = &now

	material := b.retrieveKnowledge(ctx, p)
	if first {
		if material != "" {
			if err := b.cswitch.InjectInstructions(material, false); err != nil {
				b.log.Warn("bot: knowledge injection dropped", "sequence", p.Sequence, "error", err)
			}
		}
	} else {
		banner, err := b.cfg.Prompts.PhaseBanner(prompt.BannerData{
			Sequence:        p.Sequence,
			DurationMinutes: p.DurationMinutes,
			QuestionID:      p.QuestionID,
			Instructions:    p.Instructions,
			Knowledge:       material,
		})
		if err != nil {
			b.log.Error("bot: phase banner template", "sequence", p.Sequence, "error", err)
			banner = p.Instructions
		}
		if banner != "" {
			if err := b.cswitch.InjectInstructions(banner, true); err != nil {
				b.log.Warn("bot: banner injection dropped", "sequence", p.Sequence, "error", err)
			}
		}
	}

	b.swapCorrector(p)
	b.timer.Start(p)

	b.sse.Publish(sse.EventInterview, interview.NewTaskEvent(p, b.ictx.CurrentSequence(), b.ictx.PhaseCount()))
	if b.ictx.IsLastPhase() {
		b.wrapUpLocked()
	}

	b.log.Info("bot: phase started",
		"sequence", p.Sequence, "question_id", p.QuestionID, "duration_min", p.DurationMinutes)
}

// retrieveKnowledge fetches bank material for the phase. Retrieval failures
// degrade to an empty banner; the phase proceeds without it.
func (b *Bot) retrieveKnowledge(ctx context.Context, p *interview.PlannerField) string {
	if b.cfg.Knowledge == nil || !b.cfg.Knowledge.Enabled() {
		return ""
	}
	if p.KnowledgeBankID == "" || p.QuestionText == "" {
		return ""
	}
	material, err := b.cfg.Knowledge.Retrieve(ctx, p.KnowledgeBankID, p.QuestionText)
	if err != nil {
		b.log.Warn("bot: knowledge retrieval failed", "bank_id", p.KnowledgeBankID, "error", err)
		return ""
	}
	return material.Banner()
}

// swapCorrector retargets transcript correction at the phase's vocabulary.
// Phases without distinctive terms disable correction.
func (b *Bot) swapCorrector(p *interview.PlannerField) {
	terms := lexicon.TermsFor(p.QuestionText, phaseLanguages(p))
	if len(terms) == 0 {
		b.sttStage.SetCorrector(nil)
		return
	}
	b.sttStage.SetCorrector(lexicon.New(terms))
}

// wrapUpLocked emits the one-shot SYSTEM wrap-up announcement. Callers hold
// the transition lock.
func (b *Bot) wrapUpLocked() {
	if b.wrapUpSent {
		return
	}
	b.wrapUpSent = true
	b.sse.Publish(sse.EventSystem, interview.WrapUpEvent())
}

// finalizeLocked completes the interview: pending artifact prompts are
// cancelled, the closure utterance is requested, the gate seals, and the
// completion workflow records the result. Callers hold the transition lock.
func (b *Bot) finalizeLocked(ctx context.Context) {
	if b.finalized {
		return
	}
	b.finalized = true

	b.timer.Stop()
	b.codeProc.Stop()
	b.designProc.Stop()

	if err := b.cswitch.InjectClosure(b.cfg.Prompts.Closure()); err != nil {
		b.log.Warn("bot: closure injection dropped", "error", err)
	}
	b.gate.Seal()

	res, err := b.completion.Run(ctx, b.ictx.CandidateInterviewID)
	switch {
	case err != nil:
		b.log.Error("bot: completion workflow", "error", err)
	case res.AlreadyCompleted:
		b.log.Info("bot: interview was already completed")
	case !res.Succeeded():
		b.log.Error("bot: completion incomplete",
			"notification_sent", res.NotificationSent,
			"database_updated", res.DatabaseUpdated,
			"error", res.Err())
	default:
		b.log.Info("bot: interview completed", "message_id", res.MessageID)
	}

	b.flushSnapshots(ctx)
	b.wrapUpLocked()
}

// flushSnapshots persists the latest editor contents onto the interview row.
// Nothing to flush is the common case for talk-only interviews.
func (b *Bot) flushSnapshots(ctx context.Context) {
	code := b.codeProc.Snapshot()
	design := b.designProc.Snapshot()
	if code == "" && design == "" {
		return
	}
	if err := b.cfg.Store.UpdateEditorSnapshots(ctx, b.ictx.CandidateInterviewID, code, design); err != nil {
		b.log.Error("bot: persist editor snapshots", "error", err)
	}
}

// handleConnected runs when the transport reports the client joined: the
// session start is published and the LLM is primed with a greeting turn so
// the interviewer speaks first.
func (b *Bot) handleConnected() {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	b.log.Info("bot: client connected")
	b.cfg.Bus.Publish(ctx, events.TopicSessionStarted, b.payload())

	greeting := &pipeline.AppendFrame{
		Role:     types.RoleUser,
		Content:  b.cfg.Prompts.Greeting(),
		Generate: true,
		Source:   "greeting",
	}
	if err := b.pipe.Push(ctx, greeting); err != nil {
		b.log.Warn("bot: greeting dropped", "error", err)
	}
}

// handleDisconnected runs when the peer goes away. The interview is not
// completed: the candidate may reconnect with a fresh session later.
func (b *Bot) handleDisconnected() {
	b.teardown("client disconnected")
}

// Stop ends the session without completing the interview. Idempotent, safe
// to call concurrently with a finishing run.
func (b *Bot) Stop() {
	b.teardown("stop requested")
}

func (b *Bot) teardown(reason string) {
	b.stopOnce.Do(func() {
		b.log.Info("bot: session ending", "reason", reason)

		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()

		b.mu.Lock()
		b.timer.Stop()
		b.codeProc.Stop()
		b.designProc.Stop()
		b.mu.Unlock()

		b.flushSnapshots(ctx)
		b.cfg.Bus.Publish(ctx, events.TopicSessionEnded, b.payload())

		// Best effort: the stream may already be closed.
		_ = b.pipe.Push(ctx, &pipeline.EndFrame{Reason: reason})
		b.pipe.Shutdown()
		_ = b.conn.Close()
	})
}

func (b *Bot) payload() events.Payload {
	return events.Payload{
		SessionID:            b.ictx.SessionID,
		CandidateInterviewID: b.ictx.CandidateInterviewID,
		Timestamp:            time.Now(),
	}
}

// SubmitCode feeds one code editor snapshot into the session. It rides the
// pipeline as a data frame: debounced, persisted, and eventually prompting
// the interviewer.
func (b *Bot) SubmitCode(ctx context.Context, cc types.CodeContent) error {
	if cc.CandidateInterviewID == "" {
		cc.CandidateInterviewID = b.ictx.CandidateInterviewID
	}
	if err := b.pipe.Push(ctx, &pipeline.CodeFrame{Content: cc}); err != nil {
		return fmt.Errorf("bot: submit code: %w", err)
	}
	return nil
}

// SubmitDesign feeds one design editor snapshot into the session.
func (b *Bot) SubmitDesign(ctx context.Context, dc types.DesignContent) error {
	if dc.CandidateInterviewID == "" {
		dc.CandidateInterviewID = b.ictx.CandidateInterviewID
	}
	if err := b.pipe.Push(ctx, &pipeline.DesignFrame{Content: dc}); err != nil {
		return fmt.Errorf("bot: submit design: %w", err)
	}
	return nil
}

// Status is the serializable session snapshot served by the status endpoint.
type Status struct {
	Interview interview.Summary `json:"interview"`
	Timer     interview.Status  `json:"timer"`
	Sealed    bool              `json:"sealed"`
	Finalized bool              `json:"finalized"`
}

// Status reports the session's current phase, countdown, and lifecycle
// flags.
func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Interview: b.ictx.Summary(),
		Timer:     b.timer.Status(),
		Sealed:    b.gate.Sealed(),
		Finalized: b.finalized,
	}
}

// SessionID returns the ephemeral session identifier.
func (b *Bot) SessionID() string { return b.ictx.SessionID }

// CandidateInterviewID returns the durable interview identifier.
func (b *Bot) CandidateInterviewID() string { return b.ictx.CandidateInterviewID }

// Events returns the session's SSE bus for the HTTP bridge to subscribe to.
func (b *Bot) Events() *sse.Bus { return b.sse }

// Connection returns the session's transport connection for signaling.
func (b *Bot) Connection() transport.Connection { return b.conn }

// Done closes when [Bot.Run] has returned and the pipeline is drained.
func (b *Bot) Done() <-chan struct{} { return b.done }

// plannersFromRecords converts stored plan rows into planner fields. Each
// phase gets a fresh workflow step id for this session; tool names parse
// from their comma-delimited storage form.
func plannersFromRecords(records []store.PlannerRecord) []interview.PlannerField {
	planners := make([]interview.PlannerField, 0, len(records))
	for _, r := range records {
		planners = append(planners, interview.PlannerField{
			ID:              uuid.NewString(),
			Sequence:        r.Sequence,
			DurationMinutes: r.DurationMinutes,
			QuestionID:      r.QuestionID,
			KnowledgeBankID: r.KnowledgeBankID,
			ToolNames:       interview.ParseToolNames(r.ToolNames),
			ToolProperties:  r.ToolProperties,
			Instructions:    r.InterviewInstructions,
		})
	}
	return planners
}

// questionIDs collects the distinct non-empty question ids of a plan, in
// plan order.
func questionIDs(records []store.PlannerRecord) []string {
	var (
		ids  []string
		seen = make(map[string]bool, len(records))
	)
	for _, r := range records {
		if r.QuestionID == "" || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		ids = append(ids, r.QuestionID)
	}
	return ids
}

// phaseLanguages returns the language vocabulary for a phase: coding phases
// correct against the full language set, everything else against none.
func phaseLanguages(p *interview.PlannerField) []string {
	if p.HasTool(interview.ToolCodeEditor) {
		return artifacts.SupportedLanguages()
	}
	return nil
}
