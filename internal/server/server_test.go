package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/app"
	"github.com/cadenza-ai/cadenza/internal/config"
	"github.com/cadenza-ai/cadenza/internal/server"
	notifymock "github.com/cadenza-ai/cadenza/pkg/notify/mock"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	llmmock "github.com/cadenza-ai/cadenza/pkg/provider/llm/mock"
	sttmock "github.com/cadenza-ai/cadenza/pkg/provider/stt/mock"
	ttsmock "github.com/cadenza-ai/cadenza/pkg/provider/tts/mock"
	"github.com/cadenza-ai/cadenza/pkg/store"
	storemock "github.com/cadenza-ai/cadenza/pkg/store/mock"
	"github.com/cadenza-ai/cadenza/pkg/transport"
	transportmock "github.com/cadenza-ai/cadenza/pkg/transport/mock"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const (
	testSecret = "test-secret"
	waitFor    = 5 * time.Second
)

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// srvHarness runs the full HTTP surface over a container of test doubles.
type srvHarness struct {
	app      *app.App
	store    *storemock.Store
	notifier *notifymock.Notifier
	session  *sttmock.Session
	srv      *server.Server
	ts       *httptest.Server

	mu    sync.Mutex
	conns []*transportmock.Conn

	streamOnce sync.Once
	stopOnce   sync.Once
}

func newHarness(t *testing.T) *srvHarness {
	return newHarnessWithOrigins(t, []string{"*"})
}

func newHarnessWithOrigins(t *testing.T, origins []string) *srvHarness {
	t.Helper()

	h := &srvHarness{
		store: &storemock.Store{
			CandidateInterviewResult: &types.CandidateInterview{
				ID:              "ci-1",
				MockInterviewID: "mock-1",
				UserID:          "user-1",
				Status:          types.StatusPending,
			},
			PlanResult: []store.PlannerRecord{
				{Sequence: 0, DurationMinutes: 60, ToolNames: "BASE"},
			},
		},
		notifier: &notifymock.Notifier{},
		session: &sttmock.Session{
			PartialsCh: make(chan types.Transcript, 16),
			FinalsCh:   make(chan types.Transcript, 16),
		},
	}

	cfg := &config.Config{
		ElevenLabsVoiceID:   "voice-1",
		DebounceQuietWindow: 20 * time.Millisecond,
	}
	a, err := app.New(context.Background(), cfg,
		app.WithStore(h.store),
		app.WithNotifier(h.notifier),
		app.WithLLM(&llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Understood."},
			{FinishReason: "stop"},
		}}),
		app.WithSTT(&sttmock.Provider{Session: h.session}),
		app.WithTTS(&ttsmock.Provider{EchoText: true}),
		app.WithConnectionFactory(h.newConn),
	)
	if err != nil {
		t.Fatalf("app.New() failed: %v", err)
	}
	h.app = a

	h.srv = server.New(server.Config{
		Sessions:       a.Sessions(),
		Health:         a.Health(),
		HMACSecret:     testSecret,
		AllowedOrigins: origins,
	})
	h.ts = httptest.NewServer(h.srv.Handler())

	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *srvHarness) newConn(string) (transport.Connection, error) {
	c := transportmock.New()
	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	return c, nil
}

func (h *srvHarness) connAt(t *testing.T, i int) *transportmock.Conn {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.conns) {
		t.Fatalf("connection %d was never created, have %d", i, len(h.conns))
	}
	return h.conns[i]
}

func (h *srvHarness) closeStream() {
	h.streamOnce.Do(func() {
		close(h.session.FinalsCh)
		close(h.session.PartialsCh)
	})
}

// stop drains sessions before closing the test server so no SSE response is
// still being written when httptest shuts down.
func (h *srvHarness) stop(t *testing.T) {
	t.Helper()
	h.stopOnce.Do(func() {
		h.closeStream()
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		if err := h.app.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() returned %v", err)
		}
		h.srv.Close()
		h.ts.Close()
	})
}

// do issues one JSON request against the test server.
func (h *srvHarness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type createdSession struct {
	SessionID string `json:"session_id"`
	SDPOffer  string `json:"sdp_offer"`
}

func (h *srvHarness) createSession(t *testing.T, token string) createdSession {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/sessions", token,
		map[string]string{"mock_interview_id": "mock-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var out createdSession
	decodeBody(t, resp, &out)
	return out
}

func ownerToken() string { return server.Token(testSecret, "user-1") }

func TestServer_RequiresBearerToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cases := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"wrong secret", server.Token("other-secret", "user-1")},
		{"not a token", "user-1"},
		{"garbled signature", "user-1.zzzz"},
	}
	for _, tc := range cases {
		resp := h.do(t, http.MethodPost, "/v1/sessions", tc.token,
			map[string]string{"mock_interview_id": "mock-1"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", tc.name, resp.StatusCode, http.StatusUnauthorized)
		}
	}
	if got := h.app.Sessions().Count(); got != 0 {
		t.Errorf("sessions started despite rejected auth: %d", got)
	}
}

func TestServer_CreateSessionReturnsOffer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	if created.SessionID == "" {
		t.Error("session_id is empty")
	}
	if created.SDPOffer == "" {
		t.Error("sdp_offer is empty")
	}
	if got := h.app.Sessions().Count(); got != 1 {
		t.Errorf("live sessions = %d, want 1", got)
	}
}

func TestServer_CreateSessionValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/v1/sessions", ownerToken(), map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty mock_interview_id: status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestServer_CreateSessionConflictsWhileLive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.createSession(t, ownerToken())

	resp := h.do(t, http.MethodPost, "/v1/sessions", ownerToken(),
		map[string]string{"mock_interview_id": "mock-1"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second create status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestServer_StatusReportsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	resp := h.do(t, http.MethodGet, "/v1/sessions/"+created.SessionID+"/status", ownerToken(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got struct {
		SessionID            string `json:"session_id"`
		CandidateInterviewID string `json:"candidate_interview_id"`
		Status               struct {
			Finalized bool `json:"finalized"`
		} `json:"status"`
	}
	decodeBody(t, resp, &got)

	if got.SessionID != created.SessionID {
		t.Errorf("session_id = %q, want %q", got.SessionID, created.SessionID)
	}
	if got.CandidateInterviewID != "ci-1" {
		t.Errorf("candidate_interview_id = %q, want %q", got.CandidateInterviewID, "ci-1")
	}
	if got.Status.Finalized {
		t.Error("fresh session reports finalized")
	}
}

func TestServer_RejectsForeignSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	intruder := server.Token(testSecret, "user-2")
	resp := h.do(t, http.MethodGet, "/v1/sessions/"+created.SessionID+"/status", intruder, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestServer_UnknownSessionIs404(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/v1/sessions/nope/status", ownerToken(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestServer_ClientEventDispatchesCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	resp := h.do(t, http.MethodPost, "/v1/sessions/"+created.SessionID+"/client-events", ownerToken(),
		map[string]any{
			"type": "CodeContent",
			"data": types.CodeContent{
				QuestionID: "q-1",
				Language:   "go",
				Content:    "func main() {}",
			},
		})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	waitUntil(t, func() bool { return h.store.CallCount("UpsertSolution") >= 1 },
		"code snapshot persisted")
}

func TestServer_ClientEventRejectsUnknownType(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	resp := h.do(t, http.MethodPost, "/v1/sessions/"+created.SessionID+"/client-events", ownerToken(),
		map[string]any{"type": "MouseWiggle", "data": map[string]string{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestServer_WebRTCSignaling(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())
	base := "/v1/sessions/" + created.SessionID

	resp := h.do(t, http.MethodPost, base+"/webrtc/answer", ownerToken(),
		map[string]string{"sdp_answer": "v=0\r\nanswer"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("answer status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = h.do(t, http.MethodPost, base+"/webrtc/candidates", ownerToken(),
		map[string]string{"candidate": "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("candidates status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	conn := h.connAt(t, 0)
	if answers := conn.Answers(); len(answers) != 1 || answers[0] != "v=0\r\nanswer" {
		t.Errorf("answers = %q, want the posted sdp", answers)
	}
	if cands := conn.Candidates(); len(cands) != 1 {
		t.Errorf("candidates recorded = %d, want 1", len(cands))
	}

	resp = h.do(t, http.MethodPost, base+"/webrtc/answer", ownerToken(),
		map[string]string{"sdp_answer": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty answer status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestServer_DeleteSessionTearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	created := h.createSession(t, ownerToken())

	// End the mock speech stream first so the pipeline can drain.
	h.closeStream()

	resp := h.do(t, http.MethodDelete, "/v1/sessions/"+created.SessionID, ownerToken(), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp = h.do(t, http.MethodGet, "/v1/sessions/"+created.SessionID+"/status", ownerToken(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if got := h.connAt(t, 0).CloseCount(); got == 0 {
		t.Error("transport connection was not closed")
	}
}

func TestServer_HealthEndpointsAreOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := h.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()
	h := newHarnessWithOrigins(t, []string{"https://app.example.com"})

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/v1/sessions", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q, want the requesting origin", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("Allow-Methods header missing")
	}
}

func TestServer_CORSBlocksUnknownOrigin(t *testing.T) {
	t.Parallel()
	h := newHarnessWithOrigins(t, []string{"https://app.example.com"})

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/v1/sessions", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := h.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for a disallowed origin", got)
	}
}
