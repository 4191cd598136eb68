// Package events implements the in-process transcript event bus.
//
// The pipeline's transcript taps publish conversation lines and session
// lifecycle markers; subscribers (the store persister, future analytics)
// handle them. Publication delivers to all subscribers concurrently and
// waits for every handler to finish before returning, so a publisher that
// emits events sequentially gives every subscriber the same order. Handler
// errors and panics are isolated and logged — one broken subscriber never
// poisons the others or the session.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadenza-ai/cadenza/pkg/types"
)

// Topic names one event stream on the bus.
type Topic string

const (
	// TopicTranscriptCreated carries one finished conversation line.
	TopicTranscriptCreated Topic = "transcript_created"

	// TopicSessionStarted marks transport connection.
	TopicSessionStarted Topic = "session_started"

	// TopicSessionEnded marks session teardown, clean or not.
	TopicSessionEnded Topic = "session_ended"
)

// Payload is the data delivered with a publication. Transcript is set only
// on [TopicTranscriptCreated].
type Payload struct {
	SessionID            string
	CandidateInterviewID string
	Transcript           *types.TranscriptEvent
	Timestamp            time.Time
}

// Handler consumes publications for the topics it subscribed to.
//
// Handle runs on the publisher's critical path: Publish waits for it. Slow
// work belongs behind the handler's own timeout or queue.
type Handler interface {
	Name() string
	Handle(ctx context.Context, topic Topic, p Payload) error
}

// HandlerFunc adapts a function into a named [Handler].
func HandlerFunc(name string, fn func(ctx context.Context, topic Topic, p Payload) error) Handler {
	return &funcHandler{name: name, fn: fn}
}

type funcHandler struct {
	name string
	fn   func(ctx context.Context, topic Topic, p Payload) error
}

func (h *funcHandler) Name() string { return h.name }
func (h *funcHandler) Handle(ctx context.Context, topic Topic, p Payload) error {
	return h.fn(ctx, topic, p)
}

// Bus is a topic-keyed publish/subscribe dispatcher. Safe for concurrent use.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[Topic][]Handler
}

// NewBus returns an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[Topic][]Handler),
	}
}

// Subscribe registers h for the given topics.
func (b *Bus) Subscribe(h Handler, topics ...Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], h)
	}
}

// Publish delivers p to every subscriber of topic, concurrently, and blocks
// until all handlers return. Handler errors are logged, panics are recovered
// and logged; neither affects other handlers.
func (b *Bus) Publish(ctx context.Context, topic Topic, p Payload) {
	b.mu.RLock()
	handlers := b.subs[topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("events: subscriber panicked",
						"topic", string(topic), "subscriber", h.Name(), "panic", r)
				}
			}()
			if err := h.Handle(ctx, topic, p); err != nil {
				b.log.Error("events: subscriber failed",
					"topic", string(topic), "subscriber", h.Name(), "error", err)
			}
		}()
	}
	wg.Wait()
}

// SubscriberCount returns the number of handlers subscribed to topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
