package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] either
// failed or had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name and
	// Logger are overwritten per entry.
	CircuitBreaker CircuitBreakerConfig

	// Logger receives skip and failover logs. Defaults to [slog.Default].
	Logger *slog.Logger
}

// entry pairs one provider with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of interchangeable providers, each
// behind its own [CircuitBreaker]. Calls go to the first entry whose breaker
// admits them; failures move on to the next entry.
//
// Entries must all be registered before the group is shared across
// goroutines; [FallbackGroup.Execute] may then be called concurrently.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	log     *slog.Logger
	entries []entry[T]
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a provider. Fallbacks are tried in registration order,
// after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.Logger = fg.log
	fg.entries = append(fg.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against entries in order until one succeeds. Entries with
// open breakers are skipped. When every entry fails, the returned error wraps
// [ErrAllFailed] around the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because methods cannot introduce a
// second type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("resilience: provider skipped, breaker open", "provider", e.name)
			continue
		}
		fg.log.Warn("resilience: provider failed, trying next",
			"provider", e.name, "error", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
