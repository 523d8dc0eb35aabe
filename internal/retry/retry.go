package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned by Wait once the policy allows no further attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds how often and how slowly a transient failure is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy doubles from one second up to 32 seconds, five attempts at most.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    32 * time.Second,
	}
}

// NewBackOff returns a fresh backoff sequence for one upload session.
// Delays double from BaseDelay with 50% jitter and are capped at MaxDelay.
func (p Policy) NewBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = 0
	exp.Reset()

	// WithMaxRetries treats zero as unlimited.
	if p.MaxAttempts <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts))
}

// Wait sleeps for the next delay of b. It returns ErrExhausted when b has
// stopped, or the context error if ctx ends first.
func Wait(ctx context.Context, b backoff.BackOff) error {
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return ErrExhausted
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
