package interview_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cadenza-ai/cadenza/internal/interview"
)

// signalRecorder drains a timer's channel into an ordered slice so tests can
// assert on the full emission history.
type signalRecorder struct {
	ch      chan interview.Signal
	expired chan struct{}

	mu      sync.Mutex
	signals []interview.Signal
}

func newSignalRecorder(t *testing.T) *signalRecorder {
	t.Helper()
	r := &signalRecorder{
		ch:      make(chan interview.Signal, 64),
		expired: make(chan struct{}),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var expiredOnce bool
		for s := range r.ch {
			r.mu.Lock()
			r.signals = append(r.signals, s)
			r.mu.Unlock()
			if s.Kind == interview.SignalExpired && !expiredOnce {
				expiredOnce = true
				close(r.expired)
			}
		}
	}()
	t.Cleanup(func() {
		close(r.ch)
		<-done
	})
	return r
}

func (r *signalRecorder) waitExpired(t *testing.T) []interview.Signal {
	t.Helper()
	select {
	case <-r.expired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for timer expiry")
	}
	return r.snapshot()
}

func (r *signalRecorder) snapshot() []interview.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interview.Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

func TestTimer_FullPhaseSignalOrder(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch, interview.WithTick(time.Millisecond))
	t.Cleanup(timer.Stop)

	timer.Start(&interview.PlannerField{Sequence: 0, DurationMinutes: 1})
	signals := rec.waitExpired(t)

	if len(signals) == 0 || signals[0].Kind != interview.SignalStarted {
		t.Fatalf("first signal = %+v, want timer_started", signals[0])
	}
	if last := signals[len(signals)-1]; last.Kind != interview.SignalExpired {
		t.Fatalf("last signal = %+v, want timer_expired", last)
	}

	var plainNudges, finalNudges, statusTicks int
	for _, s := range signals {
		switch s.Kind {
		case interview.SignalNudge:
			if s.Final {
				finalNudges++
			} else {
				plainNudges++
			}
		case interview.SignalStatusTick:
			statusTicks++
		}
	}
	if plainNudges != 1 {
		t.Errorf("in-phase nudges = %d, want exactly 1", plainNudges)
	}
	if finalNudges != 1 {
		t.Errorf("final nudges = %d, want exactly 1", finalNudges)
	}
	// A 60-second phase yields status ticks at 10..50.
	if statusTicks != 5 {
		t.Errorf("status ticks = %d, want 5", statusTicks)
	}

	// The in-phase nudge fires at >= 80% progress and precedes the final one.
	for i, s := range signals {
		if s.Kind == interview.SignalNudge && !s.Final {
			if s.Status.ProgressPct < 80 {
				t.Errorf("nudge fired at %d%%, want >= 80%%", s.Status.ProgressPct)
			}
			for _, earlier := range signals[:i] {
				if earlier.Kind == interview.SignalExpired {
					t.Error("nudge observed after expiry")
				}
			}
		}
	}
}

func TestTimer_StartCancelsPriorCountdown(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch, interview.WithTick(time.Millisecond))
	t.Cleanup(timer.Stop)

	timer.Start(&interview.PlannerField{Sequence: 0, DurationMinutes: 60})
	time.Sleep(5 * time.Millisecond)
	timer.Start(&interview.PlannerField{Sequence: 1, DurationMinutes: 1})

	signals := rec.waitExpired(t)

	secondStart := -1
	for i, s := range signals {
		if s.Kind == interview.SignalStarted && s.Status.Sequence == 1 {
			secondStart = i
			break
		}
	}
	if secondStart == -1 {
		t.Fatal("no timer_started signal for the second phase")
	}
	for _, s := range signals[secondStart:] {
		if s.Status.Sequence != 1 {
			t.Errorf("signal %+v from cancelled countdown after restart", s)
		}
	}
}

func TestTimer_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch, interview.WithTick(time.Millisecond))

	// Stop with no countdown is a no-op.
	timer.Stop()
	timer.Stop()

	timer.Start(&interview.PlannerField{Sequence: 0, DurationMinutes: 60})
	time.Sleep(3 * time.Millisecond)
	timer.Stop()
	timer.Stop()

	if got := timer.Status(); got.Running {
		t.Errorf("Status() after Stop = %+v, want not running", got)
	}
}

func TestTimer_PauseFreezesElapsed(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch, interview.WithTick(time.Millisecond))
	t.Cleanup(timer.Stop)

	timer.Start(&interview.PlannerField{Sequence: 0, DurationMinutes: 60})
	time.Sleep(10 * time.Millisecond)

	timer.Pause()
	frozen := timer.Status()
	if !frozen.Paused {
		t.Fatalf("Status().Paused = false after Pause()")
	}
	time.Sleep(15 * time.Millisecond)
	if got := timer.Status().ElapsedSeconds; got != frozen.ElapsedSeconds {
		t.Errorf("elapsed advanced while paused: %d -> %d", frozen.ElapsedSeconds, got)
	}

	timer.Resume()
	time.Sleep(10 * time.Millisecond)
	if got := timer.Status().ElapsedSeconds; got <= frozen.ElapsedSeconds {
		t.Errorf("elapsed did not advance after Resume(): still %d", got)
	}
}

func TestTimer_StatusSnapshot(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch, interview.WithTick(time.Millisecond))
	t.Cleanup(timer.Stop)

	if got := timer.Status(); got.Running {
		t.Errorf("Status() before Start = %+v, want zero", got)
	}

	timer.Start(&interview.PlannerField{Sequence: 3, DurationMinutes: 60})
	time.Sleep(5 * time.Millisecond)

	got := timer.Status()
	if !got.Running {
		t.Error("Status().Running = false while counting down")
	}
	if got.Sequence != 3 {
		t.Errorf("Status().Sequence = %d, want 3", got.Sequence)
	}
	if got.ElapsedSeconds+got.RemainingSeconds != 3600 {
		t.Errorf("elapsed %d + remaining %d != 3600", got.ElapsedSeconds, got.RemainingSeconds)
	}
}

func TestTimer_NudgeThresholdOption(t *testing.T) {
	t.Parallel()

	rec := newSignalRecorder(t)
	timer := interview.NewTimer(rec.ch,
		interview.WithTick(time.Millisecond),
		interview.WithNudgeThreshold(50),
	)
	t.Cleanup(timer.Stop)

	timer.Start(&interview.PlannerField{Sequence: 0, DurationMinutes: 1})
	signals := rec.waitExpired(t)

	for _, s := range signals {
		if s.Kind == interview.SignalNudge && !s.Final {
			if s.Status.ProgressPct < 50 || s.Status.ProgressPct >= 80 {
				t.Errorf("nudge fired at %d%%, want in [50, 80)", s.Status.ProgressPct)
			}
			return
		}
	}
	t.Error("no in-phase nudge observed")
}
