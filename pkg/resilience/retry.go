// Package resilience keeps flaky upstreams from hurting call setup: a
// fixed-backoff retry for the short REST fetches and a breaker that stops
// dialing a provider that keeps failing.
package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures with a fixed backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds, retries are exhausted, or the context
// ends. The last error is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			break
		}
		select {
		case <-time.After(r.Backoff):
		case <-ctx.Done():
			return err
		}
	}
	return err
}
