// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"time"
)

const retryMaxAttempts = 3

// Vars so tests can shrink the waits.
var (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 10 * time.Second
)

// retryBackoff returns the wait before attempt n (1-based): exponential from
// retryBaseDelay, capped at retryMaxDelay.
func retryBackoff(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

// retryWithBackoff runs fn up to retryMaxAttempts times, sleeping between
// attempts with exponential backoff. Non-retryable errors short-circuit.
// When attempts are exhausted, the last error comes back wrapped in an
// APIError so callers see both the exhaustion and the final cause.
func retryWithBackoff[T any](ctx context.Context, provider string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == retryMaxAttempts {
			break
		}

		select {
		case <-time.After(retryBackoff(attempt)):
		case <-ctx.Done():
			return zero, &TimeoutError{Provider: provider, Cause: ctx.Err()}
		}
	}

	return zero, &APIError{
		Provider: provider,
		Message:  "request failed after retries",
		Cause:    lastErr,
	}
}
