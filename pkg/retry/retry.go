// Package retry provides a bounded, predicate-gated retry helper.
//
// It is deliberately narrow: the commit pipeline retries in exactly one
// place (commit-lock contention), so there is no blanket retry wrapper and
// no unbounded policy.
package retry

import (
	"context"
	"time"
)

// Do runs op up to attempts times, sleeping delay between tries. A retry
// happens only when retryable reports the error as transient; other errors
// return immediately. Context cancellation aborts the wait.
func Do(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts || !retryable(lastErr) {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
