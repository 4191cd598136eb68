package server

import (
	"context"
	"encoding/json"
	"net/http"

	ssev2 "github.com/r3labs/sse/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cadenza-ai/cadenza/internal/app"
	"github.com/cadenza-ai/cadenza/internal/sse"
)

// handleEvents handles GET /v1/sessions/{sessionID}/events. It bridges the
// session's in-process event bus onto an SSE response: the first subscriber
// starts a pump goroutine, later subscribers share the stream. The response
// stays open until the client disconnects or the session ends.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	s.ensurePump(sess)

	// The stream carries the session id; r3labs selects it by query.
	q := r.URL.Query()
	q.Set("stream", sess.ID())
	r.URL.RawQuery = q.Encode()
	s.events.ServeHTTP(w, r)
}

// ensurePump starts the bus-to-SSE pump for sess exactly once.
func (s *Server) ensurePump(sess *app.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.pumps[sess.ID()]; running {
		return
	}
	s.pumps[sess.ID()] = struct{}{}

	s.events.CreateStream(sess.ID())
	ch := sess.Bot().Events().Subscribe(sse.DefaultListenerBuffer)
	go s.pump(sess.ID(), ch)
}

// pump republishes bus events as SSE frames until the session's bus closes,
// then removes the stream so connected clients are released.
func (s *Server) pump(sessionID string, ch <-chan sse.Event) {
	for ev := range ch {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("server: marshal event",
				"session_id", sessionID, "event_type", string(ev.Type), "error", err)
			continue
		}
		s.events.Publish(sessionID, &ssev2.Event{
			Event: []byte(ev.Type),
			Data:  data,
		})
		s.metrics.SSEEvents.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event", string(ev.Type))))
	}

	s.events.RemoveStream(sessionID)
	s.mu.Lock()
	delete(s.pumps, sessionID)
	s.mu.Unlock()
	s.log.Debug("server: event stream closed", "session_id", sessionID)
}
