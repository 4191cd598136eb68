// Package resilience guards calls to external backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops a run of failures from turning into a stampede of doomed calls.
// [FallbackGroup] layers per-entry breakers over an ordered list of providers
// so a struggling primary is bypassed in favour of the next healthy entry,
// and [GuardedNotifier] applies a single breaker to the completion queue.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. Enough successes
	// close the breaker; a single failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. The zero value is usable;
// every field falls back to its documented default.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive failures the closed breaker
	// tolerates before opening. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe budget per half-open window and the
	// number of consecutive probe successes needed to close. Default: 3.
	HalfOpenMax int

	// Logger receives state-transition logs. Defaults to [slog.Default].
	Logger *slog.Logger
}

// CircuitBreaker tracks consecutive failures of one backend and fails fast
// while that backend is considered down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *slog.Logger

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures observed while closed
	probes   int       // probe successes in the current half-open window
	inflight int       // probes admitted in the current half-open window
	openedAt time.Time // when the breaker last opened
}

// NewCircuitBreaker builds a breaker from cfg, filling in defaults for
// zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          cfg.Logger,
	}
}

// Execute runs fn unless the breaker rejects the call. Open breakers return
// [ErrCircuitOpen] without invoking fn; half-open breakers admit fn as a
// probe while the probe budget lasts. fn's error is returned as-is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.inflight = 0
		cb.log.Info("resilience: breaker half-open", "name", cb.name)
		fallthrough
	case StateHalfOpen:
		if cb.inflight >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.inflight++
		return true, nil
	default:
		return false, nil
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if !probe {
			cb.failures = 0
			return
		}
		cb.probes++
		if cb.state == StateHalfOpen && cb.probes >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.log.Info("resilience: breaker closed", "name", cb.name)
		}
		return
	}

	if probe {
		// One failed probe is enough evidence the backend is still down.
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.log.Warn("resilience: breaker re-opened", "name", cb.name, "error", err)
		return
	}

	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.log.Warn("resilience: breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// State reports the breaker's current state. An open breaker whose reset
// timeout has elapsed reports [StateHalfOpen]; the stored state flips on the
// next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.inflight = 0
	cb.log.Info("resilience: breaker reset", "name", cb.name)
}
