package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the downstream notifier is considered unhealthy.
var ErrCircuitOpen = errors.New("notification circuit open")

// BreakerNotifier stops calling a failing notifier for a cool-down period
// after consecutive failures.
type BreakerNotifier struct {
	next    Notifier
	breaker *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// NewBreakerNotifier wraps next with a circuit breaker.
func NewBreakerNotifier(next Notifier, settings BreakerSettings, logger *slog.Logger) *BreakerNotifier {
	if settings.Name == "" {
		settings.Name = "notifier"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("notifier circuit state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	})
	return &BreakerNotifier{next: next, breaker: cb}
}

// Send forwards to the wrapped notifier unless the circuit is open.
func (n *BreakerNotifier) Send(ctx context.Context, message Message) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.next.Send(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the current breaker state.
func (n *BreakerNotifier) State() gobreaker.State {
	return n.breaker.State()
}
