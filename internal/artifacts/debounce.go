// Package artifacts implements the debounced code and design ingestion
// pipelines.
//
// Editor snapshots arrive far faster than an interviewer should react to
// them. Each processor deduplicates a snapshot against its in-memory cache
// and the persisted latest, upserts changed content immediately, and
// schedules one LLM prompt behind a quiet window. New arrivals re-arm the
// window and supersede the pending prompt, so after a burst of keystrokes
// the model is shown only the final state — persisted history keeps every
// accepted snapshot regardless.
package artifacts

import (
	"sync"
	"time"
)

// DefaultQuietWindow is the debounce window used when none is configured.
const DefaultQuietWindow = 30 * time.Second

// Debouncer runs at most one pending callback. Schedule supersedes the
// previous pending callback; a superseded or cancelled callback whose timer
// already fired notices its stale generation and returns without running.
//
// Safe for concurrent use.
type Debouncer struct {
	quiet time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    bool
}

// NewDebouncer returns a Debouncer with the given quiet window, falling back
// to [DefaultQuietWindow] when quiet is not positive.
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	return &Debouncer{quiet: quiet}
}

// Schedule arms the quiet window with fn, discarding any pending callback.
// fn runs on the timer goroutine once the window elapses without another
// Schedule or Cancel.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	gen := d.generation
	d.pending = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		if d.claim(gen) {
			fn()
		}
	})
}

// claim transitions generation gen from pending to fired. It reports false
// when gen has been superseded or cancelled since it was scheduled.
func (d *Debouncer) claim(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.generation || !d.pending {
		return false
	}
	d.pending = false
	return true
}

// Cancel discards the pending callback and reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	was := d.pending
	d.pending = false
	d.generation++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return was
}

// Pending reports whether a callback is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Quiet returns the configured window length.
func (d *Debouncer) Quiet() time.Duration { return d.quiet }
