package ctrl

import (
	"context"
	"time"

	"github.com/calque-ai/eventscout/pkg/scout"
)

// RetryPolicy configures Retry.
type RetryPolicy struct {
	// Attempts is the total number of calls, including the first. Values below 1 mean 1.
	Attempts int

	// Delay is the fixed pause between attempts.
	Delay time.Duration

	// Retryable decides whether an error deserves another attempt. Default: IsTransient.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries once after 800ms, for transient errors only.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  2,
		Delay:     800 * time.Millisecond,
		Retryable: IsTransient,
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{Attempts: 1}
}

// Retry calls fn until it succeeds, returns a non-retryable error, the attempts run out or
// ctx is done. The last error is returned unchanged so callers can still inspect it.
//
// Example:
//
//	err := ctrl.Retry(ctx, ctrl.DefaultRetryPolicy(), "embed query", func(ctx context.Context) error {
//	    vec, err = client.Embed(ctx, texts, embedding.Query)
//	    return err
//	})
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	attempts := max(policy.Attempts, 1)
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || attempt == attempts || !retryable(err) {
			return err
		}

		scout.LogWarn(ctx, "transient failure, retrying",
			"op", op,
			"attempt", attempt,
			"delay", policy.Delay,
			"error", err,
		)

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// RetryValue is Retry for functions that return a value.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, policy, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
