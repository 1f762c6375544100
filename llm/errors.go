// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// The error taxonomy shared by all adapters. Callers can react uniformly
// regardless of vendor: errors.As against one of these types is the supported
// way to branch on failure kind (e.g. to pick an HTTP status in a route
// layer).

// bodyPreviewLimit bounds how much of a vendor response body is carried
// inside an error message.
const bodyPreviewLimit = 200

// ConfigError indicates missing or invalid provider configuration (no API
// key, no resolvable model, unusable endpoint). It is detected lazily at call
// time, never at handler construction.
type ConfigError struct {
	Provider string
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Provider, e.Message)
}

// ConnectionError indicates a transport-level failure: DNS, refused
// connection, broken pipe. Retryable.
type ConnectionError struct {
	Provider string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Provider, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// TimeoutError indicates the request exceeded its budget. Retryable, and
// distinct from ConnectionError so callers can map it to 504 rather than 502.
type TimeoutError struct {
	Provider string
	Budget   time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	if e.Budget > 0 {
		return fmt.Sprintf("timeout (%s): request exceeded %s", e.Provider, e.Budget)
	}
	return fmt.Sprintf("timeout (%s)", e.Provider)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ResponseError indicates a non-2xx HTTP response. Carries the status code
// and a bounded preview of the body.
type ResponseError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("API response error (%s) status %d", e.Provider, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewResponseError builds a ResponseError, truncating the body preview.
func NewResponseError(provider string, status int, body string) *ResponseError {
	if len(body) > bodyPreviewLimit {
		body = body[:bodyPreviewLimit] + "..."
	}
	return &ResponseError{Provider: provider, StatusCode: status, Body: body}
}

// FormatError indicates a 2xx response whose body could not be decoded or
// had an unexpected shape. Never retried: a 200 with an unparseable body is
// treated as permanent.
type FormatError struct {
	Provider string
	Message  string
	Body     string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("malformed response (%s): %s", e.Provider, e.Message)
	if e.Body != "" {
		preview := e.Body
		if len(preview) > bodyPreviewLimit {
			preview = preview[:bodyPreviewLimit] + "..."
		}
		msg += " body: " + preview
	}
	return msg
}

// APIError is the generic catch-all wrapping any other failure, including a
// retry sequence that exhausted its attempts. It always carries the
// originating error.
type APIError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (%s): %s", e.Provider, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Cause }

// retryableStatus reports whether an HTTP status should be retried. One
// consistent policy for all adapters: request timeout, rate limiting and
// server errors retry; every other application-level status is terminal.
func retryableStatus(status int) bool {
	switch {
	case status == 408, status == 429:
		return true
	case status >= 500 && status < 600:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Transport
// failures and timeouts retry; HTTP errors retry only for retryableStatus
// codes; malformed-response and configuration errors never retry.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		return true
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return retryableStatus(respErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
