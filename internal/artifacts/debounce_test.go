package artifacts

import (
	"sync"
	"testing"
	"time"
)

const testQuiet = 25 * time.Millisecond

// fireRecorder collects debounce callbacks in firing order.
type fireRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *fireRecorder) mark(name string) func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fired = append(r.fired, name)
	}
}

func (r *fireRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func TestDebouncer_FiresAfterQuietWindow(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(testQuiet)
	fired := make(chan struct{})
	d.Schedule(func() { close(fired) })

	if !d.Pending() {
		t.Error("Pending() = false right after Schedule")
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	if d.Pending() {
		t.Error("Pending() = true after firing")
	}
}

func TestDebouncer_LastWriterWins(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(testQuiet)
	var rec fireRecorder

	d.Schedule(rec.mark("first"))
	d.Schedule(rec.mark("second"))
	d.Schedule(rec.mark("third"))

	time.Sleep(4 * testQuiet)
	got := rec.snapshot()
	if len(got) != 1 || got[0] != "third" {
		t.Errorf("fired = %v, want [third]", got)
	}
}

func TestDebouncer_CancelDiscardsPending(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(testQuiet)
	var rec fireRecorder

	d.Schedule(rec.mark("doomed"))
	if !d.Cancel() {
		t.Error("Cancel() = false with a pending callback")
	}
	if d.Cancel() {
		t.Error("second Cancel() = true with nothing pending")
	}

	time.Sleep(4 * testQuiet)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("fired = %v, want none after Cancel", got)
	}
}

func TestDebouncer_RearmsAfterFiring(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(testQuiet)
	var rec fireRecorder

	d.Schedule(rec.mark("first"))
	time.Sleep(4 * testQuiet)
	d.Schedule(rec.mark("second"))
	time.Sleep(4 * testQuiet)

	got := rec.snapshot()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("fired = %v, want [first second]", got)
	}
}

func TestDebouncer_DefaultQuietWindow(t *testing.T) {
	t.Parallel()

	if got := NewDebouncer(0).Quiet(); got != DefaultQuietWindow {
		t.Errorf("Quiet() = %v, want %v", got, DefaultQuietWindow)
	}
	if got := NewDebouncer(-time.Second).Quiet(); got != DefaultQuietWindow {
		t.Errorf("Quiet() = %v for a negative window, want %v", got, DefaultQuietWindow)
	}
}
