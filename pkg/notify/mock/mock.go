// Package mock provides an in-memory test double for [notify.Notifier].
package mock

import (
	"context"
	"sync"

	"github.com/cadenza-ai/cadenza/pkg/notify"
)

// Notifier is a configurable test double for [notify.Notifier]. It records
// every notification for assertion in tests. Safe for concurrent use.
type Notifier struct {
	mu sync.Mutex

	// calls records the candidate interview ID of every NotifyCompletion call.
	calls []string

	// MessageID is returned by [Notifier.NotifyCompletion]. Defaults to
	// "mock-message-id" when empty and Err is nil.
	MessageID string

	// Err is returned by [Notifier.NotifyCompletion] when non-nil.
	Err error
}

// NotifyCompletion implements [notify.Notifier].
func (m *Notifier) NotifyCompletion(_ context.Context, candidateInterviewID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, candidateInterviewID)
	if m.Err != nil {
		return "", m.Err
	}
	if m.MessageID == "" {
		return "mock-message-id", nil
	}
	return m.MessageID, nil
}

// Calls returns a copy of the candidate interview IDs notified so far.
func (m *Notifier) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many notifications were attempted.
func (m *Notifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls without altering response configuration.
func (m *Notifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Ensure Notifier satisfies the interface at compile time.
var _ notify.Notifier = (*Notifier)(nil)
