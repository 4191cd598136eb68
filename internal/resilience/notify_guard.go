package resilience

import (
	"context"
	"log/slog"

	"github.com/cadenza-ai/cadenza/pkg/notify"
)

// GuardedNotifier wraps a [notify.Notifier] with a circuit breaker so a dead
// queue fails fast instead of stalling every completing session on broker
// timeouts. A rejected send behaves like any failed send: the interview stays
// IN_PROGRESS and completion can be retried once the breaker recovers.
type GuardedNotifier struct {
	inner   notify.Notifier
	breaker *CircuitBreaker
}

var _ notify.Notifier = (*GuardedNotifier)(nil)

// NewGuardedNotifier wraps inner. name labels the breaker in logs.
func NewGuardedNotifier(inner notify.Notifier, name string, cfg CircuitBreakerConfig, log *slog.Logger) *GuardedNotifier {
	cfg.Name = name
	cfg.Logger = log
	return &GuardedNotifier{
		inner:   inner,
		breaker: NewCircuitBreaker(cfg),
	}
}

// NotifyCompletion delegates through the breaker. While the breaker is open
// it returns [ErrCircuitOpen] without touching the queue.
func (g *GuardedNotifier) NotifyCompletion(ctx context.Context, candidateInterviewID string) (string, error) {
	var messageID string
	err := g.breaker.Execute(func() error {
		var sendErr error
		messageID, sendErr = g.inner.NotifyCompletion(ctx, candidateInterviewID)
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// BreakerState exposes the breaker state for readiness probes.
func (g *GuardedNotifier) BreakerState() State {
	return g.breaker.State()
}
