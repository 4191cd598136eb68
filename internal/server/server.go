// Package server exposes the interview platform over HTTP.
//
// The surface is a small JSON API under /v1 plus the operational endpoints
// (/healthz, /readyz, /metrics). A browser drives one interview session
// through it: create the session (returning the SDP offer), answer and
// trickle ICE through the signaling routes, push editor snapshots as client
// events, follow the live event stream over SSE, and tear the session down.
//
// Every /v1 request carries an HMAC bearer token; the authenticated user must
// own the session it touches. Errors leave this package as JSON bodies — the
// rest of the repo never shapes HTTP responses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ssev2 "github.com/r3labs/sse/v2"

	"github.com/cadenza-ai/cadenza/internal/app"
	"github.com/cadenza-ai/cadenza/internal/bot"
	"github.com/cadenza-ai/cadenza/internal/health"
	"github.com/cadenza-ai/cadenza/internal/observe"
	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/transport"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// removeTimeout bounds the teardown of a session that failed after
// registration, detached from the request context that created it.
const removeTimeout = 10 * time.Second

// Config carries the server's collaborators and settings.
type Config struct {
	// Sessions is the live-session registry all /v1 routes operate on.
	Sessions *app.Registry

	// Health serves /healthz and /readyz.
	Health *health.Handler

	// HMACSecret verifies bearer tokens. Required.
	HMACSecret string

	// AllowedOrigins is the CORS allow-list; "*" allows any origin.
	AllowedOrigins []string

	// Metrics receives HTTP and SSE instruments. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log defaults to [slog.Default].
	Log *slog.Logger
}

// Server is the HTTP host. Construct with [New], mount via [Server.Handler],
// and call [Server.Close] once the listener has stopped.
type Server struct {
	sessions *app.Registry
	health   *health.Handler
	secret   string
	origins  []string
	metrics  *observe.Metrics
	log      *slog.Logger

	events *ssev2.Server

	mu    sync.Mutex
	pumps map[string]struct{}
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	events := ssev2.New()
	events.AutoReplay = false

	return &Server{
		sessions: cfg.Sessions,
		health:   cfg.Health,
		secret:   cfg.HMACSecret,
		origins:  cfg.AllowedOrigins,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		events:   events,
		pumps:    make(map[string]struct{}),
	}
}

// Handler returns the fully assembled HTTP handler:
//
//	POST   /v1/sessions                           start a session, returns the SDP offer
//	DELETE /v1/sessions/{sessionID}               tear a session down
//	GET    /v1/sessions/{sessionID}/status        phase, countdown, lifecycle flags
//	POST   /v1/sessions/{sessionID}/client-events editor snapshots (code / design)
//	GET    /v1/sessions/{sessionID}/events        live event stream (SSE)
//	POST   /v1/sessions/{sessionID}/webrtc/answer browser's SDP answer
//	POST   /v1/sessions/{sessionID}/webrtc/candidates trickled ICE candidate
//	GET    /healthz, /readyz, /metrics            operational endpoints
//
// The /v1 routes require a bearer token; CORS and request tracing wrap
// everything.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /v1/sessions", s.authenticated(s.handleCreateSession))
	mux.Handle("DELETE /v1/sessions/{sessionID}", s.authenticated(s.handleDeleteSession))
	mux.Handle("GET /v1/sessions/{sessionID}/status", s.authenticated(s.handleStatus))
	mux.Handle("POST /v1/sessions/{sessionID}/client-events", s.authenticated(s.handleClientEvent))
	mux.Handle("GET /v1/sessions/{sessionID}/events", s.authenticated(s.handleEvents))
	mux.Handle("POST /v1/sessions/{sessionID}/webrtc/answer", s.authenticated(s.handleAnswer))
	mux.Handle("POST /v1/sessions/{sessionID}/webrtc/candidates", s.authenticated(s.handleCandidate))

	return observe.Middleware(s.metrics)(s.cors(mux))
}

// Close terminates every open event stream. Call after the listener has
// stopped accepting requests.
func (s *Server) Close() {
	s.events.Close()
}

// createSessionRequest is the JSON body for session creation.
type createSessionRequest struct {
	MockInterviewID string `json:"mock_interview_id"`
}

// createSessionResponse returns the new session and the SDP offer the
// browser answers.
type createSessionResponse struct {
	SessionID string `json:"session_id"`
	SDPOffer  string `json:"sdp_offer"`
}

// handleCreateSession handles POST /v1/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MockInterviewID == "" {
		writeError(w, http.StatusBadRequest, "mock_interview_id is required")
		return
	}

	sess, err := s.sessions.StartSession(r.Context(), req.MockInterviewID, userID(r.Context()))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	offer, err := sess.Conn().Offer(r.Context())
	if err != nil {
		s.log.Error("server: create offer", "session_id", sess.ID(), "error", err)
		// The session is unreachable without an offer; tear it back down
		// on its own deadline so a cancelled request cannot leak it.
		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if rerr := s.sessions.RemoveSession(ctx, sess.ID()); rerr != nil {
			s.log.Warn("server: remove session after failed offer",
				"session_id", sess.ID(), "error", rerr)
		}
		writeError(w, http.StatusInternalServerError, "failed to create transport offer")
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID(),
		SDPOffer:  offer,
	})
}

// handleDeleteSession handles DELETE /v1/sessions/{sessionID}. Removal is
// idempotent: deleting a session that just ended on its own still succeeds.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	if err := s.sessions.RemoveSession(r.Context(), sess.ID()); err != nil &&
		!errors.Is(err, app.ErrSessionNotFound) {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse wraps the orchestrator's snapshot with session identity.
type statusResponse struct {
	SessionID            string     `json:"session_id"`
	CandidateInterviewID string     `json:"candidate_interview_id"`
	StartedAt            time.Time  `json:"started_at"`
	Status               bot.Status `json:"status"`
}

// handleStatus handles GET /v1/sessions/{sessionID}/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:            sess.ID(),
		CandidateInterviewID: sess.CandidateInterviewID(),
		StartedAt:            sess.StartedAt(),
		Status:               sess.Bot().Status(),
	})
}

// clientEvent is the envelope browsers post editor snapshots in. Type
// selects the payload shape decoded from Data.
type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client event types.
const (
	eventCodeContent   = "CodeContent"
	eventDesignContent = "DesignContent"
)

// handleClientEvent handles POST /v1/sessions/{sessionID}/client-events.
func (s *Server) handleClientEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	var ev clientEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	switch ev.Type {
	case eventCodeContent:
		var cc types.CodeContent
		if err = json.Unmarshal(ev.Data, &cc); err == nil {
			err = sess.Bot().SubmitCode(r.Context(), cc)
		}
	case eventDesignContent:
		var dc types.DesignContent
		if err = json.Unmarshal(ev.Data, &dc); err == nil {
			err = sess.Bot().SubmitDesign(r.Context(), dc)
		}
	default:
		s.log.Warn("server: unknown client event type",
			"session_id", sess.ID(), "type", ev.Type)
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		writeError(w, http.StatusBadRequest, "invalid event payload")
	default:
		s.writeFailure(w, r, err)
	}
}

// answerRequest carries the browser's SDP answer.
type answerRequest struct {
	SDPAnswer string `json:"sdp_answer"`
}

// handleAnswer handles POST /v1/sessions/{sessionID}/webrtc/answer.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SDPAnswer == "" {
		writeError(w, http.StatusBadRequest, "sdp_answer is required")
		return
	}

	if err := sess.Conn().AcceptAnswer(r.Context(), req.SDPAnswer); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			writeError(w, http.StatusConflict, "connection closed")
			return
		}
		writeError(w, http.StatusBadRequest, "rejected sdp answer: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// candidateRequest carries one trickled ICE candidate.
type candidateRequest struct {
	Candidate string `json:"candidate"`
}

// handleCandidate handles POST /v1/sessions/{sessionID}/webrtc/candidates.
func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	var req candidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Candidate == "" {
		writeError(w, http.StatusBadRequest, "candidate is required")
		return
	}

	if err := sess.Conn().AddICECandidate(req.Candidate); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			writeError(w, http.StatusConflict, "connection closed")
			return
		}
		writeError(w, http.StatusBadRequest, "rejected ice candidate: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedSession resolves the {sessionID} path value and enforces ownership.
// On failure the response has already been written.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*app.Session, bool) {
	sess, err := s.sessions.Session(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if sess.UserID() != userID(r.Context()) {
		writeError(w, http.StatusForbidden, "session belongs to another user")
		return nil, false
	}
	return sess, true
}

// writeFailure maps a collaborator error onto an HTTP status. Internal
// failures log the cause and hide it from the response body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInterviewActive), errors.Is(err, bot.ErrCompleted),
		errors.Is(err, pipeline.ErrNotRunning), errors.Is(err, transport.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("server: encode response", "error", err)
	}
}
