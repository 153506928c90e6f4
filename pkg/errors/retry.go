package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy retries an operation with capped exponential backoff while
// Retriable accepts the error
type RetryPolicy struct {
	MaxAttempts       int // total attempts including the first; <= 1 disables retries
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64 // fraction of the backoff randomized, 0 to 1
	Retriable         func(error) bool
}

// DefaultRetryPolicy makes three attempts, 100ms then 200ms apart, for
// retriable and transient errors
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            0.1,
		Retriable:         IsRetriable,
	}
}

// NoRetryPolicy runs an operation exactly once
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Do runs op until it succeeds, fails with a non-retriable error, runs out
// of attempts or ctx ends. It returns the number of attempts made and the
// last error.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	attempts := 0
	for {
		attempts++
		err := op(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempts >= p.MaxAttempts || (p.Retriable != nil && !p.Retriable(err)) {
			return attempts, err
		}

		timer := time.NewTimer(p.Backoff(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, err
		case <-timer.C:
		}
	}
}

// Backoff returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt && (p.MaxBackoff <= 0 || d < float64(p.MaxBackoff)); i++ {
		d *= mult
	}
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
