// Package resilience implements the retry-with-backoff and circuit-breaker
// primitives that wrap every external-source call in the engine.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the wrapping
// circuit breaker is OPEN. It is a distinct error class so callers can branch
// on circuit state without depending on the breaker implementation.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// RetryConfig controls RetryRunner's backoff schedule.
type RetryConfig struct {
	MaxAttempts int           // >= 1
	Initial     time.Duration // > 0
	Base        float64       // > 1
	MaxDelay    time.Duration // >= Initial
	Jitter      bool
}

// DefaultRetryConfig returns a conservative general-purpose schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Initial:     500 * time.Millisecond,
		Base:        2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Classifier decides whether an error should be retried. Callers that want
// every error retried can pass nil, which retries unconditionally.
type Classifier func(error) bool

// RetryRunner executes an operation up to MaxAttempts times, delaying
// between attempts per `min(initial * base^k, maxDelay)`, optionally
// jittered by a uniform factor in [0.5, 1.0].
type RetryRunner struct {
	cfg        RetryConfig
	classifier Classifier
	rng        *rand.Rand
}

// NewRetryRunner builds a runner from cfg. A nil classifier retries on any
// non-nil error.
func NewRetryRunner(cfg RetryConfig, classifier Classifier) *RetryRunner {
	return &RetryRunner{
		cfg:        cfg,
		classifier: classifier,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// delayFor computes the backoff delay before attempt k (0-indexed).
func (r *RetryRunner) delayFor(k int) time.Duration {
	d := float64(r.cfg.Initial) * math.Pow(r.cfg.Base, float64(k))
	if d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	if r.cfg.Jitter {
		factor := 0.5 + r.rng.Float64()*0.5
		d *= factor
	}
	return time.Duration(d)
}

// Run invokes op up to MaxAttempts times, sleeping between attempts per the
// configured schedule. It returns the last error if every attempt fails, or
// ctx.Err() if the context is cancelled while waiting.
func (r *RetryRunner) Run(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for k := 0; k < r.cfg.MaxAttempts; k++ {
		if k > 0 {
			delay := r.delayFor(k - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if r.classifier != nil && !r.classifier(err) {
			return err
		}
	}
	return lastErr
}
