package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls CircuitBreaker's transition thresholds, per §4.1:
// CLOSED -> OPEN after FailureThreshold consecutive failures, OPEN ->
// HALF_OPEN after Timeout has elapsed, HALF_OPEN -> CLOSED after
// SuccessThreshold consecutive successes, HALF_OPEN -> OPEN on any failure.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
}

// DefaultBreakerConfig matches the spec's stated defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// CircuitBreaker wraps sony/gobreaker so the rest of the engine never
// imports it directly and only ever observes ErrCircuitOpen.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker from cfg.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call invokes op through the breaker. When the breaker is OPEN (or a
// HALF_OPEN trial slot is unavailable), it returns ErrCircuitOpen without
// invoking op.
func (b *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state as a plain string for status
// reporting.
func (b *CircuitBreaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "CLOSED"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	case gobreaker.StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CallWithRetry composes a RetryRunner inside one logical breaker call, per
// §4.1 Composition: retries happen inside a single call to the breaker, so
// exhausting retries counts as exactly one failure signal to the breaker.
func (b *CircuitBreaker) CallWithRetry(ctx context.Context, runner *RetryRunner, op func(ctx context.Context) error) error {
	return b.Call(ctx, func(ctx context.Context) error {
		return runner.Run(ctx, op)
	})
}
