// Package completion finalizes candidate interviews.
//
// An interview counts as completed only when the platform queue was notified
// AND the database row says COMPLETED. The notification goes first; a failed
// notification leaves the row IN_PROGRESS so the whole run stays retryable.
// The [Result] is the system's only partial-success object: callers inspect
// its flags instead of collapsing the outcome into a single error.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadenza-ai/cadenza/internal/resilience"
	"github.com/cadenza-ai/cadenza/pkg/notify"
	"github.com/cadenza-ai/cadenza/pkg/store"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

// stepTimeout bounds each external call so finalization cannot wedge a
// session teardown.
const stepTimeout = 10 * time.Second

// Result reports the outcome of one workflow run.
type Result struct {
	// AlreadyCompleted is true when the interview was COMPLETED before this
	// run started; nothing was sent or written.
	AlreadyCompleted bool

	// NotificationSent is true when the completion queue accepted the message.
	NotificationSent bool

	// DatabaseUpdated is true when the interview row was flipped to COMPLETED.
	DatabaseUpdated bool

	// MessageID is the broker-assigned ID of the notification, when sent.
	MessageID string

	// Errors collects the failures encountered, in step order.
	Errors []error
}

// Succeeded reports whether the interview is durably completed: either it
// already was, or both the notification and the status update landed.
func (r Result) Succeeded() bool {
	return r.AlreadyCompleted || (r.NotificationSent && r.DatabaseUpdated)
}

// Err joins the collected failures. Nil on full success.
func (r Result) Err() error { return errors.Join(r.Errors...) }

// Workflow drives interview finalization.
//
// Safe for concurrent use across interviews. Callers serialize runs for the
// same interview; the session orchestrator holds its transition lock across
// finalization, and re-entry after a completed run short-circuits on the
// persisted status.
type Workflow struct {
	store    store.InterviewStore
	notifier notify.Notifier
	breaker  *resilience.CircuitBreaker
	log      *slog.Logger
}

// New returns a Workflow using st for interview rows and n for the
// completion queue. breaker, when non-nil, guards the status flip; it is
// shared across sessions so a database outage opens it once and later
// finalizations fail fast instead of burning the step timeout each.
func New(st store.InterviewStore, n notify.Notifier, breaker *resilience.CircuitBreaker, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{store: st, notifier: n, breaker: breaker, log: log}
}

// Run finalizes the candidate interview:
//
//  1. load the row — a missing interview fails the run;
//  2. short-circuit when it is already COMPLETED;
//  3. notify the completion queue;
//  4. flip the row to COMPLETED.
//
// The notification precedes the status flip. When the notification fails the
// row is left untouched and the run can be retried end to end; when the flip
// fails after a sent notification the mismatch is logged as critical and
// reported through the partial [Result].
func (w *Workflow) Run(ctx context.Context, candidateInterviewID string) (Result, error) {
	var res Result

	loadCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	ci, err := w.store.CandidateInterview(loadCtx, candidateInterviewID)
	cancel()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("completion: load interview: %w", err))
		return res, res.Err()
	}

	if ci.Status == types.StatusCompleted {
		res.AlreadyCompleted = true
		w.log.Info("completion: interview already completed",
			"candidate_interview_id", candidateInterviewID)
		return res, nil
	}

	notifyCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	msgID, err := w.notifier.NotifyCompletion(notifyCtx, candidateInterviewID)
	cancel()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("completion: notify: %w", err))
		w.log.Error("completion: notification failed, interview left in progress",
			"candidate_interview_id", candidateInterviewID,
			"error", err)
		return res, res.Err()
	}
	res.NotificationSent = true
	res.MessageID = msgID

	if err = w.updateStatus(ctx, candidateInterviewID); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("completion: update status: %w", err))
		w.log.Error("completion: notification sent but status update failed",
			"candidate_interview_id", candidateInterviewID,
			"message_id", msgID,
			"error", err,
			"critical", true)
		return res, res.Err()
	}
	res.DatabaseUpdated = true

	w.log.Info("completion: interview completed",
		"candidate_interview_id", candidateInterviewID,
		"message_id", msgID)
	return res, nil
}

// updateStatus flips the row to COMPLETED, through the shared breaker when
// one was configured.
func (w *Workflow) updateStatus(ctx context.Context, candidateInterviewID string) error {
	flip := func() error {
		updateCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		defer cancel()
		return w.store.UpdateStatus(updateCtx, candidateInterviewID, types.StatusCompleted)
	}
	if w.breaker == nil {
		return flip()
	}
	return w.breaker.Execute(flip)
}
