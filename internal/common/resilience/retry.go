package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry with jittered exponential backoff.
// The zero Retryable predicate retries every error.
type Policy struct {
	MaxAttempts    int // total attempts including the first call
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
}

// Do runs fn under the policy. Non-retryable errors short-circuit, and the
// context cancels waits between attempts.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialBackoff
	bo.MaxInterval = p.MaxBackoff
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // attempts are the bound, not elapsed time
	bo.Reset()

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		if attempts >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}
