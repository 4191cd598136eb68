package interview

import (
	"log/slog"
	"sync"
	"time"
)

// SignalKind names the events a [Timer] emits on its signal channel.
type SignalKind string

const (
	SignalStarted    SignalKind = "timer_started"
	SignalStatusTick SignalKind = "status_tick"
	SignalNudge      SignalKind = "time_nudge"
	SignalExpired    SignalKind = "timer_expired"
)

// Signal is one timer event. For [SignalNudge], Final marks the expiry nudge
// as opposed to the in-phase progress nudge.
type Signal struct {
	Kind   SignalKind
	Final  bool
	Status Status
}

// Status is a point-in-time snapshot of the countdown.
type Status struct {
	Running          bool `json:"running"`
	Paused           bool `json:"paused"`
	ElapsedSeconds   int  `json:"elapsedSeconds"`
	RemainingSeconds int  `json:"remainingSeconds"`
	ProgressPct      int  `json:"progressPct"`
	Sequence         int  `json:"sequence"`
}

// TimerOption configures a [Timer].
type TimerOption func(*Timer)

// WithTick sets the duration of one logical second. Production uses the
// default of time.Second; tests compress it to keep countdowns fast.
func WithTick(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// WithNudgeThreshold sets the progress percentage at which the one-shot
// in-phase nudge fires.
func WithNudgeThreshold(pct int) TimerOption {
	return func(t *Timer) {
		if pct > 0 && pct <= 100 {
			t.nudgePct = pct
		}
	}
}

// WithTimerLogger sets the logger used for timer lifecycle messages.
func WithTimerLogger(log *slog.Logger) TimerOption {
	return func(t *Timer) {
		if log != nil {
			t.log = log
		}
	}
}

// Timer drives the per-phase countdown. It emits [Signal] values on the
// channel handed to [NewTimer] and never advances phases itself; transitions
// belong to the orchestrator observing [SignalExpired].
//
// At most one countdown is active at a time: [Timer.Start] cancels any
// countdown already running. All methods are safe for concurrent use.
type Timer struct {
	signals  chan<- Signal
	tick     time.Duration
	nudgePct int
	log      *slog.Logger

	mu  sync.Mutex
	run *countdown
}

// countdown is the state of one Start..Stop cycle. Each cycle owns its done
// channel so a stale loop can never signal for its successor.
type countdown struct {
	sequence     int
	totalSeconds int
	elapsed      int
	paused       bool
	nudged       bool

	done     chan struct{}
	stopOnce sync.Once
	finished sync.WaitGroup
}

// statusTickEvery is the whole-second interval between periodic status
// signals while the countdown is running.
const statusTickEvery = 10

// NewTimer builds a timer that reports on signals. The channel is injected at
// construction so the timer never needs a reference back to its consumer.
func NewTimer(signals chan<- Signal, opts ...TimerOption) *Timer {
	t := &Timer{
		signals:  signals,
		tick:     time.Second,
		nudgePct: 80,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins counting down the planner's duration. Any countdown already
// running is cancelled first; the nudge flag and elapsed time reset.
func (t *Timer) Start(p *PlannerField) {
	t.Stop()

	c := &countdown{
		sequence:     p.Sequence,
		totalSeconds: p.DurationMinutes * 60,
		done:         make(chan struct{}),
	}

	t.mu.Lock()
	t.run = c
	t.mu.Unlock()

	c.finished.Add(1)
	go t.loop(c)
}

// Stop cancels the active countdown and waits for its loop to exit. It is
// idempotent and a no-op when nothing is running.
func (t *Timer) Stop() {
	t.mu.Lock()
	c := t.run
	t.run = nil
	t.mu.Unlock()

	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.done) })
	c.finished.Wait()
}

// Pause freezes elapsed-time accumulation. No-op when nothing is running.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil {
		t.run.paused = true
	}
}

// Resume unfreezes elapsed-time accumulation. No-op when nothing is running.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != nil {
		t.run.paused = false
	}
}

// Status returns a snapshot of the countdown. When nothing is running it
// returns a zero status with Running=false.
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return Status{}
	}
	return t.statusLocked(t.run)
}

func (t *Timer) statusLocked(c *countdown) Status {
	remaining := c.totalSeconds - c.elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Running:          true,
		Paused:           c.paused,
		ElapsedSeconds:   c.elapsed,
		RemainingSeconds: remaining,
		ProgressPct:      min(100, 100*c.elapsed/c.totalSeconds),
		Sequence:         c.sequence,
	}
}

// loop is the countdown task. Elapsed time accumulates in whole logical
// seconds while unpaused. A panic stops the timer but never the session.
func (t *Timer) loop(c *countdown) {
	defer c.finished.Done()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("interview: timer loop panicked, countdown abandoned",
				"sequence", c.sequence, "panic", r)
			t.clear(c)
		}
	}()

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	t.mu.Lock()
	started := Signal{Kind: SignalStarted, Status: t.statusLocked(c)}
	t.mu.Unlock()
	if !t.emit(c, started) {
		return
	}

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			var pending []Signal

			t.mu.Lock()
			if c.paused {
				t.mu.Unlock()
				continue
			}
			c.elapsed++
			status := t.statusLocked(c)
			expired := c.elapsed >= c.totalSeconds

			switch {
			case expired:
				// Expiry repeats the nudge with the final flag and
				// then announces the expiry itself.
				pending = append(pending,
					Signal{Kind: SignalNudge, Final: true, Status: status},
					Signal{Kind: SignalExpired, Status: status},
				)
			default:
				if c.elapsed%statusTickEvery == 0 {
					pending = append(pending, Signal{Kind: SignalStatusTick, Status: status})
				}
				if !c.nudged && status.ProgressPct >= t.nudgePct {
					c.nudged = true
					pending = append(pending, Signal{Kind: SignalNudge, Status: status})
				}
			}
			t.mu.Unlock()

			for _, s := range pending {
				if !t.emit(c, s) {
					return
				}
			}
			if expired {
				t.clear(c)
				return
			}
		}
	}
}

// emit delivers a signal unless the countdown was cancelled meanwhile.
func (t *Timer) emit(c *countdown, s Signal) bool {
	select {
	case t.signals <- s:
		return true
	case <-c.done:
		return false
	}
}

// clear detaches the countdown from the timer if it is still the active one.
func (t *Timer) clear(c *countdown) {
	t.mu.Lock()
	if t.run == c {
		t.run = nil
	}
	t.mu.Unlock()
}
