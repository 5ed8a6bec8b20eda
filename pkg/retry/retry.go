// Package retry provides bounded exponential backoff with jitter
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether an error is transient and should be retried
type IsTransientFunc func(error) bool

// OnRetryFunc is invoked before each sleep, with the attempt number that just
// failed and the error it produced
type OnRetryFunc func(attempt int, err error)

// Do executes fn with retries according to the policy
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	return DoNotify(ctx, policy, isTransient, nil, fn)
}

// DoNotify executes fn with retries, calling onRetry before each backoff
// sleep. Non-transient errors and context cancellation end the loop early.
func DoNotify(ctx context.Context, policy Policy, isTransient IsTransientFunc, onRetry OnRetryFunc, fn func() error) error {
	backoff := policy.InitialBackoff

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= policy.MaxAttempts {
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		// Sleep backoff plus up to 50% jitter
		jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}

		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}
