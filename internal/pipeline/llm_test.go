package pipeline_test

import (
	"errors"
	"testing"

	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm"
	"github.com/cadenza-ai/cadenza/pkg/provider/llm/mock"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

func TestLLM_StreamsSentences(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there. How"},
		{Text: " are you?"},
		{FinishReason: "stop"},
	}}
	stage := pipeline.NewLLM(p, "You are an interviewer.", nil)
	in, out := startStage(t, stage)

	in <- &pipeline.AppendFrame{Role: types.RoleUser, Content: "hi", Generate: true, Source: "candidate_speech"}

	got := collectFrames(t, out, 4)
	start, ok := got[0].(*pipeline.ResponseStartFrame)
	if !ok || start.TurnID != 1 {
		t.Fatalf("frame[0] = %#v, want response start of turn 1", got[0])
	}
	wantSentences := []string{"Hello there.", "How are you?"}
	for i, want := range wantSentences {
		tf, ok := got[i+1].(*pipeline.TextFrame)
		if !ok {
			t.Fatalf("frame[%d] = %s, want text", i+1, got[i+1].Kind())
		}
		if tf.Text != want || tf.TurnID != 1 {
			t.Errorf("sentence[%d] = %q (turn %d), want %q (turn 1)", i, tf.Text, tf.TurnID, want)
		}
	}
	end, ok := got[3].(*pipeline.ResponseEndFrame)
	if !ok {
		t.Fatalf("frame[3] = %s, want response end", got[3].Kind())
	}
	if want := "Hello there. How are you?"; end.Text != want {
		t.Errorf("end text = %q, want %q", end.Text, want)
	}

	if got, want := stage.CurrentTurn(), int64(1); got != want {
		t.Errorf("CurrentTurn() = %d, want %d", got, want)
	}
	if len(p.StreamCalls) != 1 {
		t.Fatalf("provider got %d stream calls, want 1", len(p.StreamCalls))
	}
	req := p.StreamCalls[0].Req
	if req.SystemPrompt != "You are an interviewer." {
		t.Errorf("system prompt = %q, want the seeded prompt", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("request messages = %+v, want the single user turn", req.Messages)
	}
}

func TestLLM_AppendWithoutGenerateIsSilent(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Noted."}, {FinishReason: "stop"}}}
	stage := pipeline.NewLLM(p, "", nil)
	in, out := startStage(t, stage)

	in <- &pipeline.AppendFrame{Role: types.RoleSystem, Content: "time check", Source: "nudge"}
	expectNoFrame(t, out)

	in <- &pipeline.AppendFrame{Role: types.RoleUser, Content: "question", Generate: true, Source: "candidate_speech"}
	collectFrames(t, out, 3) // start, one text, end

	req := p.StreamCalls[0].Req
	if len(req.Messages) != 2 {
		t.Fatalf("request carries %d messages, want 2 (silent append included)", len(req.Messages))
	}
	if req.Messages[0].Content != "time check" || req.Messages[0].Role != types.RoleSystem {
		t.Errorf("messages[0] = %+v, want the earlier silent system append", req.Messages[0])
	}
}

func TestLLM_NonAppendFramesPassThrough(t *testing.T) {
	t.Parallel()

	stage := pipeline.NewLLM(&mock.Provider{}, "", nil)
	in, out := startStage(t, stage)

	want := &pipeline.TranscriptionFrame{Transcript: types.Transcript{Text: "raw"}}
	in <- want
	if got := nextFrame(t, out); got != want {
		t.Errorf("got %s, want the transcription forwarded unchanged", got.Kind())
	}
}

func TestLLM_StreamFailureEndsTurnEmpty(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamErr: errors.New("provider down")}
	stage := pipeline.NewLLM(p, "", nil)
	in, out := startStage(t, stage)

	in <- &pipeline.AppendFrame{Role: types.RoleUser, Content: "hi", Generate: true}

	got := collectFrames(t, out, 2)
	if _, ok := got[0].(*pipeline.ResponseStartFrame); !ok {
		t.Fatalf("frame[0] = %s, want response start", got[0].Kind())
	}
	end, ok := got[1].(*pipeline.ResponseEndFrame)
	if !ok {
		t.Fatalf("frame[1] = %s, want response end", got[1].Kind())
	}
	if end.Text != "" {
		t.Errorf("end text = %q, want empty for a failed turn", end.Text)
	}

	// The stage survives the failure.
	in <- &pipeline.StartFrame{SessionID: "still alive"}
	if _, ok := nextFrame(t, out).(*pipeline.StartFrame); !ok {
		t.Error("stage did not keep processing after a provider failure")
	}
}

func TestLLM_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		StreamChunks:      []llm.Chunk{{Text: "ok"}, {FinishReason: "stop"}},
		TokenCount:        10_000, // always over budget, trims to the floor
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 8_000, MaxOutputTokens: 1_000},
	}
	stage := pipeline.NewLLM(p, "", nil)
	in, out := startStage(t, stage)

	for i := 0; i < 6; i++ {
		in <- &pipeline.AppendFrame{Role: types.RoleSystem, Content: "ctx", Source: "test"}
	}
	in <- &pipeline.AppendFrame{Role: types.RoleUser, Content: "latest", Generate: true}
	collectFrames(t, out, 3) // start, text, end

	req := p.StreamCalls[0].Req
	if len(req.Messages) != 4 {
		t.Fatalf("request carries %d messages, want the 4-message floor", len(req.Messages))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Content != "latest" {
		t.Errorf("newest message = %q, want %q; trimming must drop from the front", last.Content, "latest")
	}
}
