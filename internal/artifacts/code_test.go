package artifacts_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/artifacts"
	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/internal/prompt"
	storemock "github.com/cadenza-ai/cadenza/pkg/store/mock"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

const stageQuiet = 50 * time.Millisecond

// startStage runs s in the background until the test ends.
func startStage(t *testing.T, s pipeline.Stage) (chan<- pipeline.Frame, <-chan pipeline.Frame) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan pipeline.Frame, 8)
	out := make(chan pipeline.Frame, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Process(ctx, in, out)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return in, out
}

func nextFrame(t *testing.T, out <-chan pipeline.Frame) pipeline.Frame {
	t.Helper()
	select {
	case f := <-out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, out <-chan pipeline.Frame) {
	t.Helper()
	select {
	case f := <-out:
		t.Fatalf("unexpected frame %s", f.Kind())
	case <-time.After(4 * stageQuiet):
	}
}

func codeFrame(content, language string) *pipeline.CodeFrame {
	return &pipeline.CodeFrame{Content: types.CodeContent{
		QuestionID:           "q1",
		CandidateInterviewID: "ci-1",
		Language:             language,
		Content:              content,
		Timestamp:            time.Now().UnixMilli(),
	}}
}

func TestCodeProcessor_InitialSubmission(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("func add(a, b int) int { return a + b }", "go")

	f := nextFrame(t, out)
	app, ok := f.(*pipeline.AppendFrame)
	if !ok {
		t.Fatalf("frame = %T, want *AppendFrame", f)
	}
	if app.Role != types.RoleUser || !app.Generate {
		t.Errorf("append = (role=%s, generate=%v), want (user, true)", app.Role, app.Generate)
	}
	if app.Source != "code_debounce" {
		t.Errorf("Source = %q, want code_debounce", app.Source)
	}
	if !strings.Contains(app.Content, "for the first time") {
		t.Errorf("content %q does not use the initial template", app.Content)
	}
	if !strings.Contains(app.Content, "language GO") {
		t.Errorf("content %q missing normalized language", app.Content)
	}
	if !strings.Contains(app.Content, "```go\nfunc add") {
		t.Errorf("content %q missing fenced source", app.Content)
	}

	if got := st.CallCount("UpsertSolution"); got != 1 {
		t.Errorf("UpsertSolution calls = %d, want 1", got)
	}
	sol, err := st.LatestSolution(context.Background(), "q1", "ci-1")
	if err != nil {
		t.Fatalf("LatestSolution() error = %v", err)
	}
	if sol.Type != "GO" {
		t.Errorf("persisted type = %q, want GO", sol.Type)
	}
}

// A burst of snapshots persists each change but prompts once, with the last
// content.
func TestCodeProcessor_DebounceCoalesces(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("draft one", "python")
	in <- codeFrame("draft two", "python")

	f := nextFrame(t, out)
	app := f.(*pipeline.AppendFrame)
	if !strings.Contains(app.Content, "draft two") {
		t.Errorf("prompt content %q, want the last snapshot", app.Content)
	}
	if !strings.Contains(app.Content, "updated their code (submission 2") {
		t.Errorf("prompt content %q does not use the update template", app.Content)
	}
	expectNoFrame(t, out)

	if got := st.CallCount("UpsertSolution"); got != 2 {
		t.Errorf("UpsertSolution calls = %d, want 2 (every change persists)", got)
	}
}

func TestCodeProcessor_UnchangedSnapshotIgnored(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("same content", "java")
	in <- codeFrame("same content", "java")

	f := nextFrame(t, out)
	if _, ok := f.(*pipeline.AppendFrame); !ok {
		t.Fatalf("frame = %T, want *AppendFrame", f)
	}
	expectNoFrame(t, out)

	if got := st.CallCount("UpsertSolution"); got != 1 {
		t.Errorf("UpsertSolution calls = %d, want 1", got)
	}
}

// Content matching the persisted latest refreshes the cache without a new
// revision or prompt.
func TestCodeProcessor_PersistedMatchSkipsPrompt(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{LatestSolutionResult: &types.QuestionSolution{
		QuestionID:           "q1",
		CandidateInterviewID: "ci-1",
		Type:                 "GO",
		Answer:               "persisted already",
	}}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("persisted already", "go")

	expectNoFrame(t, out)
	if got := st.CallCount("UpsertSolution"); got != 0 {
		t.Errorf("UpsertSolution calls = %d, want 0", got)
	}
}

// Persistence failures are logged, not fatal: the prompt still fires.
func TestCodeProcessor_UpsertFailureStillPrompts(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{UpsertSolutionErr: errors.New("disk full")}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("resilient content", "go")

	f := nextFrame(t, out)
	if _, ok := f.(*pipeline.AppendFrame); !ok {
		t.Fatalf("frame = %T, want *AppendFrame despite upsert failure", f)
	}
}

func TestCodeProcessor_UnknownLanguageDefaults(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	in <- codeFrame("print 42", "brainfuck")
	nextFrame(t, out)

	sol, err := st.LatestSolution(context.Background(), "q1", "ci-1")
	if err != nil {
		t.Fatalf("LatestSolution() error = %v", err)
	}
	if sol.Type != "JAVASCRIPT" {
		t.Errorf("persisted type = %q, want JAVASCRIPT fallback", sol.Type)
	}
}

func TestCodeProcessor_PassesOtherFramesThrough(t *testing.T) {
	t.Parallel()

	p := artifacts.NewCodeProcessor(&storemock.Store{}, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	text := &pipeline.TextFrame{TurnID: 1, Text: "hello"}
	in <- text

	if f := nextFrame(t, out); f != text {
		t.Errorf("frame = %#v, want the text frame passed through", f)
	}
}

func TestCodeProcessor_StopCancelsPendingPrompt(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), time.Minute, nil)
	in, out := startStage(t, p)

	in <- codeFrame("about to be cancelled", "go")
	// Give the stage loop time to ingest and schedule.
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	expectNoFrame(t, out)
	if got := st.CallCount("UpsertSolution"); got != 1 {
		t.Errorf("UpsertSolution calls = %d, want 1 (persisted even when cancelled)", got)
	}
}

// Snapshot reports the newest editor payload even when ingest rejected it as
// unchanged, so the session-end flush mirrors what the candidate last saw.
func TestCodeProcessor_SnapshotTracksLastPayload(t *testing.T) {
	t.Parallel()

	st := &storemock.Store{}
	p := artifacts.NewCodeProcessor(st, prompt.MustLoad(), stageQuiet, nil)
	in, out := startStage(t, p)

	if got := p.Snapshot(); got != "" {
		t.Errorf("Snapshot() before any frame = %q, want empty", got)
	}

	in <- codeFrame("version one", "go")
	nextFrame(t, out)
	if got := p.Snapshot(); got != "version one" {
		t.Errorf("Snapshot() = %q, want %q", got, "version one")
	}

	// A duplicate never persists or prompts, yet it is still the latest
	// payload received. The pass-through sentinel orders the assertion
	// after the ingest.
	in <- codeFrame("version one", "go")
	sentinel := &pipeline.TextFrame{TurnID: 1, Text: "marker"}
	in <- sentinel
	if f := nextFrame(t, out); f != sentinel {
		t.Fatalf("frame = %#v, want the sentinel text frame", f)
	}
	if got := p.Snapshot(); got != "version one" {
		t.Errorf("Snapshot() after duplicate = %q, want %q", got, "version one")
	}
}
