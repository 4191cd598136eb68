// Package sse implements the per-session event bus that feeds the front end's
// event stream.
//
// The orchestrator publishes [interview.TaskEvent] payloads wrapped in an
// [Event] envelope; HTTP-side listeners subscribe with a buffered queue each.
// Publishing never blocks: an event is enqueued into a snapshot of the
// listener set, and a listener whose queue is full is evicted — a consumer
// that stopped draining gets disconnected rather than stalling the session.
// Per-listener publish order is preserved; there is no ordering guarantee
// across listeners.
package sse

import (
	"log/slog"
	"sync"

	"github.com/cadenza-ai/cadenza/internal/interview"
)

// EventType is the envelope discriminator on the event stream.
type EventType string

const (
	// EventInterview marks phase lifecycle events (started, changed).
	EventInterview EventType = "INTERVIEW"

	// EventSystem marks session-level events (the wrap-up announcement).
	EventSystem EventType = "SYSTEM"
)

// Event is the wire envelope delivered to listeners.
type Event struct {
	Type EventType           `json:"event_type"`
	Data interview.TaskEvent `json:"data"`
}

// DefaultListenerBuffer is the queue depth handed to Subscribe by the HTTP
// bridge. Sized for bursts around phase transitions.
const DefaultListenerBuffer = 16

// Bus fans events out to the session's listeners. Safe for concurrent use.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	recv   map[<-chan Event]chan Event
	closed bool
}

// NewBus returns an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:  log,
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Subscribe registers a listener with the given queue depth and returns its
// channel. The channel is closed when the listener is unsubscribed, evicted,
// or the bus shuts down. Subscribing to a closed bus returns an already
// closed channel.
func (b *Bus) Subscribe(buf int) <-chan Event {
	ch := make(chan Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes a listener and closes its channel. Unknown or already
// removed channels are a no-op.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(ch)
}

func (b *Bus) dropLocked(ch <-chan Event) {
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
	close(send)
}

// Publish wraps data in an [Event] and enqueues it to every listener present
// when the call started. A listener whose queue is full is evicted. Returns
// the number of listeners that received the event.
//
// Delivery runs under the read lock: enqueues are non-blocking selects, and
// channel closes only ever happen under the write lock, so a send can never
// race a close even with concurrent publishers.
func (b *Bus) Publish(t EventType, data interview.TaskEvent) int {
	ev := Event{Type: t, Data: data}

	delivered := 0
	var evict []chan Event

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			evict = append(evict, ch)
		}
	}
	b.mu.RUnlock()

	if len(evict) > 0 {
		b.mu.Lock()
		for _, ch := range evict {
			if _, ok := b.subs[ch]; ok {
				b.dropLocked(ch)
				b.log.Warn("sse: evicted stalled listener",
					"event_type", string(t), "queue", cap(ch))
			}
		}
		b.mu.Unlock()
	}
	return delivered
}

// Close evicts every listener and marks the bus terminated. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Event]struct{})
	b.recv = make(map[<-chan Event]chan Event)
}

// ListenerCount returns the number of active listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
