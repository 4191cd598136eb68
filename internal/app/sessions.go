package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadenza-ai/cadenza/internal/bot"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/events"
	"github.com/cadenza-ai/cadenza/internal/knowledge"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/notify"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	"github.com/cadenza-ai/cadenza/pkg/provider/stt"
	"github.com/cadenza-ai/cadenza/pkg/provider/tts"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// ErrSessionNotFound is returned by registry lookups for unknown session ids.
var ErrSessionNotFound = errors.New("app: session not found")

// ErrInterviewActive is returned by [Registry.StartSession] when the resolved
// candidate interview already has a live session. The HTTP layer maps it to a
// conflict response.
var ErrInterviewActive = errors.New("app: candidate interview already has a live session")

// Session is one live interview: the orchestrator, its transport connection,
// and the goroutine running them.
type Session struct {
	id        string
	mockID    string
	userID    string
	startedAt time.Time

	bot    *bot.Bot
	conn   transport.Connection
	cancel context.CancelFunc

	// runDone closes after the orchestrator goroutine exits and the session
	// left the registry; runErr is written before it closes.
	runDone chan struct{}
	runErr  error
}

// ID is the ephemeral session id, distinct from the candidate interview id.
func (s *Session) ID() string { return s.id }

// MockInterviewID is the interview template this session runs.
func (s *Session) MockInterviewID() string { return s.mockID }

// UserID is the authenticated owner of the session.
func (s *Session) UserID() string { return s.userID }

// StartedAt is when the session entered the registry.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// CandidateInterviewID is the persisted interview row this session drives.
func (s *Session) CandidateInterviewID() string { return s.bot.CandidateInterviewID() }

// Bot exposes the orchestrator for status, signaling events, and artifact
// submissions.
func (s *Session) Bot() *bot.Bot { return s.bot }

// Conn exposes the transport connection for SDP/ICE signaling.
func (s *Session) Conn() transport.Connection { return s.conn }

// Registry tracks the live sessions of this process, keyed by session id.
// A candidate interview has at most one live session at a time.
//
// All exported methods are safe for concurrent use.
type Registry struct {
	log *slog.Logger

	// Collaborators shared by every session's orchestrator.
	cfg       *config.Config
	store     store.Store
	notifier  notify.Notifier
	llm       llm.Provider
	stt       stt.Provider
	tts       tts.Provider
	prompts   *prompt.Pack
	knowledge *knowledge.Assembler
	bus       *events.Bus
	newConn   ConnFactory

	// completionBreaker guards the completion status flip for every session.
	completionBreaker *resilience.CircuitBreaker

	mu          sync.Mutex
	byID        map[string]*Session
	byInterview map[string]*Session
}

// newRegistry snapshots the container's collaborators into a registry.
func newRegistry(a *App) *Registry {
	return &Registry{
		log:       a.log,
		cfg:       a.cfg,
		store:     a.store,
		notifier:  a.notifier,
		llm:       a.llm,
		stt:       a.stt,
		tts:       a.tts,
		prompts:   a.prompts,
		knowledge: a.knowledge,
		bus:       a.bus,
		newConn:   a.newConn,
		completionBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "completion-store",
			Logger: a.log,
		}),
		byID:        make(map[string]*Session),
		byInterview: make(map[string]*Session),
	}
}

// StartSession creates the transport connection and the orchestrator for the
// given interview template and user, registers the session, and starts it.
//
// The orchestrator resolves and claims the candidate interview row during
// construction; when that row already has a live session here the new one is
// torn down and [ErrInterviewActive] is returned. Construction failures
// (unknown interview, already completed) pass through from [bot.New].
func (r *Registry) StartSession(ctx context.Context, mockInterviewID, userID string) (*Session, error) {
	sessionID := uuid.NewString()

	conn, err := r.newConn(sessionID)
	if err != nil {
		return nil, fmt.Errorf("app: create transport: %w", err)
	}

	b, err := bot.New(ctx, bot.Config{
		SessionID:         sessionID,
		MockInterviewID:   mockInterviewID,
		UserID:            userID,
		Conn:              conn,
		Store:             r.store,
		Notifier:          r.notifier,
		LLM:               r.llm,
		STT:               r.stt,
		TTS:               r.tts,
		Prompts:           r.prompts,
		Knowledge:         r.knowledge,
		Bus:               r.bus,
		CompletionBreaker: r.completionBreaker,
		Voice:             types.VoiceProfile{ID: r.cfg.ElevenLabsVoiceID},
		QuietWindow:       r.cfg.DebounceQuietWindow,
		Log:               r.log.With("session_id", sessionID),
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// The session outlives the request that started it; its context is
	// process-scoped and falls with the registry.
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        sessionID,
		mockID:    mockInterviewID,
		userID:    userID,
		startedAt: time.Now().UTC(),
		bot:       b,
		conn:      conn,
		cancel:    cancel,
		runDone:   make(chan struct{}),
	}

	interviewID := b.CandidateInterviewID()
	r.mu.Lock()
	if live, ok := r.byInterview[interviewID]; ok {
		r.mu.Unlock()
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s (session %s)", ErrInterviewActive, interviewID, live.ID())
	}
	r.byID[sessionID] = s
	r.byInterview[interviewID] = s
	r.mu.Unlock()

	go func() {
		s.runErr = b.Run(runCtx)
		r.remove(s)
		close(s.runDone)
	}()

	r.log.Info("app: session started",
		"session_id", sessionID,
		"candidate_interview_id", interviewID,
		"user_id", userID)
	return s, nil
}

// Session looks up a live session by id.
func (r *Registry) Session(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// RemoveSession tears a session down in reverse construction order: the
// orchestrator stops first (closing its pipeline and the transport), then the
// run context is cancelled, then the call waits for the run goroutine to
// drain. Waiting is bounded by ctx.
func (r *Registry) RemoveSession(ctx context.Context, sessionID string) error {
	s, err := r.Session(sessionID)
	if err != nil {
		return err
	}

	s.bot.Stop()
	s.cancel()

	select {
	case <-s.runDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: remove session %s: %w", sessionID, ctx.Err())
	}
}

// Shutdown stops every live session and waits for all of them to drain,
// bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.bot.Stop()
		s.cancel()
	}
	for _, s := range live {
		select {
		case <-s.runDone:
		case <-ctx.Done():
			return fmt.Errorf("app: session drain: %w", ctx.Err())
		}
	}
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// remove drops s from the registry once its run goroutine exits. Idempotent
// against an explicit RemoveSession racing the automatic removal.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if cur, ok := r.byID[s.id]; ok && cur == s {
		delete(r.byID, s.id)
		delete(r.byInterview, s.bot.CandidateInterviewID())
	}
	r.mu.Unlock()

	if s.runErr != nil {
		r.log.Warn("app: session ended with error", "session_id", s.id, "error", s.runErr)
		return
	}
	r.log.Info("app: session ended", "session_id", s.id)
}
