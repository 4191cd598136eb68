package completion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cadenza-ai/cadenza/internal/completion"
	"github.com/cadenza-ai/cadenza/internal/resilience"
	notifymock "github.com/cadenza-ai/cadenza/pkg/notify/mock"
	"github.com/cadenza-ai/cadenza/pkg/store"
	storemock "github.com/cadenza-ai/cadenza/pkg/store/mock"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

func inProgressInterview(id string) *types.CandidateInterview {
	return &types.CandidateInterview{
		ID:              id,
		MockInterviewID: "mock-1",
		UserID:          "user-1",
		Status:          types.StatusInProgress,
	}
}

// notifierFunc adapts a function for asserting call ordering.
type notifierFunc func(ctx context.Context, candidateInterviewID string) (string, error)

func (f notifierFunc) NotifyCompletion(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{CandidateInterviewResult: inProgressInterview("ci-1")}
	nt := &notifymock.Notifier{MessageID: "msg-42"}
	wf := completion.New(st, nt, nil, nil)

	res, err := wf.Run(context.Background(), "ci-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.NotificationSent || !res.DatabaseUpdated {
		t.Errorf("flags = (sent=%v, updated=%v), want both true",
			res.NotificationSent, res.DatabaseUpdated)
	}
	if res.AlreadyCompleted {
		t.Error("AlreadyCompleted = true on a first run")
	}
	if res.MessageID != "msg-42" {
		t.Errorf("MessageID = %q, want msg-42", res.MessageID)
	}
	if !res.Succeeded() {
		t.Error("Succeeded() = false after a clean run")
	}
	if got := st.CandidateInterviewResult.Status; got != types.StatusCompleted {
		t.Errorf("interview status = %s, want COMPLETED", got)
	}
}

func TestRun_AlreadyCompleted(t *testing.T) {
	t.Parallel()

	ci := inProgressInterview("ci-1")
	ci.Status = types.StatusCompleted
	st := &storemock.Store{CandidateInterviewResult: ci}
	nt := &notifymock.Notifier{}
	wf := completion.New(st, nt, nil, nil)

	res, err := wf.Run(context.Background(), "ci-1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.AlreadyCompleted {
		t.Error("AlreadyCompleted = false for a COMPLETED interview")
	}
	if !res.Succeeded() {
		t.Error("Succeeded() = false for an already completed interview")
	}
	if nt.CallCount() != 0 {
		t.Errorf("notifications sent = %d, want 0", nt.CallCount())
	}
	if st.CallCount("UpdateStatus") != 0 {
		t.Errorf("UpdateStatus calls = %d, want 0", st.CallCount("UpdateStatus"))
	}
}

// Two sequential runs produce one notification and one status update; the
// second run short-circuits on the persisted status.
func TestRun_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{CandidateInterviewResult: inProgressInterview("ci-1")}
	nt := &notifymock.Notifier{}
	wf := completion.New(st, nt, nil, nil)

	first, err := wf.Run(context.Background(), "ci-1")
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := wf.Run(context.Background(), "ci-1")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if first.AlreadyCompleted || !second.AlreadyCompleted {
		t.Errorf("AlreadyCompleted = (%v, %v), want (false, true)",
			first.AlreadyCompleted, second.AlreadyCompleted)
	}
	if nt.CallCount() != 1 {
		t.Errorf("notifications sent = %d, want 1", nt.CallCount())
	}
	if st.CallCount("UpdateStatus") != 1 {
		t.Errorf("UpdateStatus calls = %d, want 1", st.CallCount("UpdateStatus"))
	}
}

func TestRun_InterviewNotFound(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{} // no CandidateInterviewResult configured
	nt := &notifymock.Notifier{}
	wf := completion.New(st, nt, nil, nil)

	res, err := wf.Run(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Run() error = %v, want wrapping store.ErrNotFound", err)
	}
	if res.Succeeded() {
		t.Error("Succeeded() = true for a missing interview")
	}
	if nt.CallCount() != 0 {
		t.Errorf("notifications sent = %d, want 0", nt.CallCount())
	}
}

// A failed notification leaves the row untouched so the run can be retried.
func TestRun_NotificationFailureIsRetryable(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{CandidateInterviewResult: inProgressInterview("ci-1")}
	nt := &notifymock.Notifier{Err: errors.New("queue unavailable")}
	wf := completion.New(st, nt, nil, nil)

	res, err := wf.Run(context.Background(), "ci-1")
	if err == nil {
		t.Fatal("Run() error = nil, want notification failure")
	}
	if res.NotificationSent || res.DatabaseUpdated {
		t.Errorf("flags = (sent=%v, updated=%v), want both false",
			res.NotificationSent, res.DatabaseUpdated)
	}
	if st.CallCount("UpdateStatus") != 0 {
		t.Errorf("UpdateStatus calls = %d, want 0 after a failed notification",
			st.CallCount("UpdateStatus"))
	}
	if got := st.CandidateInterviewResult.Status; got != types.StatusInProgress {
		t.Errorf("interview status = %s, want IN_PROGRESS", got)
	}

	// The queue recovers; the retry completes normally.
	nt.Err = nil
	res, err = wf.Run(context.Background(), "ci-1")
	if err != nil {
		t.Fatalf("retry Run() error = %v", err)
	}
	if !res.Succeeded() {
		t.Error("Succeeded() = false on retry after queue recovery")
	}
}

func TestRun_DatabaseFailureAfterNotification(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{
		CandidateInterviewResult: inProgressInterview("ci-1"),
		UpdateStatusErr:          errors.New("connection reset"),
	}
	nt := &notifymock.Notifier{MessageID: "msg-7"}
	wf := completion.New(st, nt, nil, nil)

	res, err := wf.Run(context.Background(), "ci-1")
	if err == nil {
		t.Fatal("Run() error = nil, want status update failure")
	}
	if !res.NotificationSent {
		t.Error("NotificationSent = false, want true")
	}
	if res.DatabaseUpdated {
		t.Error("DatabaseUpdated = true, want false")
	}
	if res.MessageID != "msg-7" {
		t.Errorf("MessageID = %q, want msg-7", res.MessageID)
	}
	if res.Succeeded() {
		t.Error("Succeeded() = true for a partial run")
	}
}

// The notification must be attempted before the status flip.
func TestRun_NotificationPrecedesUpdate(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{CandidateInterviewResult: inProgressInterview("ci-1")}
	nt := notifierFunc(func(_ context.Context, _ string) (string, error) {
		if n := st.CallCount("UpdateStatus"); n != 0 {
			t.Errorf("UpdateStatus called %d times before the notification", n)
		}
		return "msg-1", nil
	})
	wf := completion.New(st, nt, nil, nil)

	if _, err := wf.Run(context.Background(), "ci-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.CallCount("UpdateStatus") != 1 {
		t.Errorf("UpdateStatus calls = %d, want 1", st.CallCount("UpdateStatus"))
	}
}

// With a shared breaker, repeated database failures stop reaching the store:
// later finalizations fail fast on the open breaker instead of retrying.
func TestRun_OpenBreakerSkipsStatusFlip(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{
		CandidateInterviewResult: inProgressInterview("ci-1"),
		UpdateStatusErr:          errors.New("connection refused"),
	}
	nt := &notifymock.Notifier{}
	br := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "completion-store",
		MaxFailures: 2,
	})
	wf := completion.New(st, nt, br, nil)

	for i := 0; i < 2; i++ {
		if _, err := wf.Run(context.Background(), "ci-1"); err == nil {
			t.Fatalf("Run() %d error = nil, want update failure", i+1)
		}
	}

	res, err := wf.Run(context.Background(), "ci-1")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Run() error = %v, want wrapping resilience.ErrCircuitOpen", err)
	}
	if !res.NotificationSent || res.DatabaseUpdated {
		t.Errorf("flags = (sent=%v, updated=%v), want (true, false)",
			res.NotificationSent, res.DatabaseUpdated)
	}
	if got := st.CallCount("UpdateStatus"); got != 2 {
		t.Errorf("UpdateStatus calls = %d, want 2 (open breaker skips the store)", got)
	}
}
