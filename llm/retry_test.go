// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func shortenBackoff(t *testing.T) {
	t.Helper()
	oldBase, oldMax := retryBaseDelay, retryMaxDelay
	retryBaseDelay = time.Millisecond
	retryMaxDelay = 5 * time.Millisecond
	t.Cleanup(func() {
		retryBaseDelay = oldBase
		retryMaxDelay = oldMax
	})
}

func TestRetryStopsAfterThreeAttempts(t *testing.T) {
	shortenBackoff(t)

	attempts := 0
	_, err := retryWithBackoff(context.Background(), "acme", func() (string, error) {
		attempts++
		return "", &ConnectionError{Provider: "acme", Cause: errors.New("refused")}
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want exactly 3", attempts)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("exhausted retries should wrap in APIError, got %T", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("APIError should carry the last cause")
	}
}

func TestRetryNonRetryableShortCircuits(t *testing.T) {
	shortenBackoff(t)

	attempts := 0
	_, err := retryWithBackoff(context.Background(), "acme", func() (string, error) {
		attempts++
		return "", &FormatError{Provider: "acme", Message: "bad json"}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	var fmtErr *FormatError
	if !errors.As(err, &fmtErr) {
		t.Errorf("non-retryable error should pass through unwrapped, got %T", err)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	shortenBackoff(t)

	attempts := 0
	got, err := retryWithBackoff(context.Background(), "acme", func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", &ResponseError{Provider: "acme", StatusCode: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("got %q after %d attempts", got, attempts)
	}
}

func TestRetryHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := retryWithBackoff(ctx, "acme", func() (string, error) {
			attempts++
			return "", &ConnectionError{Provider: "acme", Cause: errors.New("refused")}
		})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var toErr *TimeoutError
		if !errors.As(err, &toErr) {
			t.Errorf("cancellation during backoff should yield TimeoutError, got %T", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	if d := retryBackoff(1); d != retryBaseDelay {
		t.Errorf("first backoff = %v, want %v", d, retryBaseDelay)
	}
	if d := retryBackoff(2); d != 2*retryBaseDelay {
		t.Errorf("second backoff = %v, want %v", d, 2*retryBaseDelay)
	}
	if d := retryBackoff(10); d != retryMaxDelay {
		t.Errorf("late backoff = %v, want cap %v", d, retryMaxDelay)
	}
}
