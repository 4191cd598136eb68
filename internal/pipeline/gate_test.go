package pipeline_test

import (
	"testing"

	"github.com/cadenza-ai/cadenza/internal/pipeline"
	"github.com/cadenza-ai/cadenza/pkg/types"
)

func TestGate_OpenPassesEverything(t *testing.T) {
	t.Parallel()

	g := pipeline.NewGate(nil)
	in, out := startStage(t, g)

	frames := []pipeline.Frame{
		&pipeline.StartFrame{SessionID: "s"},
		&pipeline.TranscriptionFrame{Transcript: types.Transcript{Text: "hi"}},
		&pipeline.AppendFrame{Role: types.RoleSystem, Content: "banner"},
		&pipeline.ClosureFrame{Message: "wrap up"},
	}
	for _, f := range frames {
		in <- f
	}

	got := collectFrames(t, out, len(frames))
	for i, f := range frames {
		if got[i] != f {
			t.Errorf("frame[%d] = %s, want %s", i, got[i].Kind(), f.Kind())
		}
	}
	if g.Sealed() {
		t.Error("Sealed() = true, want false before Seal")
	}
}

func TestGate_SealedDropsDataOnly(t *testing.T) {
	t.Parallel()

	g := pipeline.NewGate(nil)
	in, out := startStage(t, g)

	g.Seal()
	g.Seal() // idempotent
	if !g.Sealed() {
		t.Fatal("Sealed() = false, want true after Seal")
	}

	in <- &pipeline.TranscriptionFrame{Transcript: types.Transcript{Text: "late speech"}}
	in <- &pipeline.AppendFrame{Role: types.RoleUser, Content: "late turn"}
	in <- &pipeline.OutputAudioFrame{TurnID: 9}
	in <- &pipeline.ClosureFrame{Message: "goodbye"}
	in <- &pipeline.AppendFrame{Role: types.RoleSystem, Content: "system note"}
	in <- &pipeline.EndFrame{Reason: "done"}

	got := collectFrames(t, out, 3)
	if _, ok := got[0].(*pipeline.ClosureFrame); !ok {
		t.Errorf("frame[0] = %s, want closure", got[0].Kind())
	}
	ap, ok := got[1].(*pipeline.AppendFrame)
	if !ok || ap.Role != types.RoleSystem {
		t.Errorf("frame[1] = %#v, want system append", got[1])
	}
	if _, ok := got[2].(*pipeline.EndFrame); !ok {
		t.Errorf("frame[2] = %s, want end", got[2].Kind())
	}
	expectNoFrame(t, out)
}
