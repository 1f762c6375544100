// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"time"

	"glyphmind/backend/shared/logger"
)

// Handler is the capability contract every provider adapter satisfies. All
// blocking operations take a context; cancellation and deadlines propagate to
// the underlying transport.
type Handler interface {
	// Name returns the standardized provider name this handler was
	// constructed for.
	Name() string

	// RequiredConfigFields enumerates the configuration keys (without env
	// prefix) the handler needs to operate, e.g. "api_key", "model".
	RequiredConfigFields() []string

	// AvailableModels lists the model identifiers the provider currently
	// exposes. Adapters without a listing endpoint return a static set.
	AvailableModels(ctx context.Context) ([]string, error)

	// GenerateText performs single-turn completion and returns the text.
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)

	// Chat performs a multi-turn exchange and returns the full response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// StreamChat performs a chat exchange with incremental delivery. The
	// returned channel always terminates with a done chunk, even on error
	// or context cancellation.
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// TestConnection verifies reachability and authentication with a
	// minimal generation. It reports rather than fails: errors are folded
	// into the result.
	TestConnection(ctx context.Context, model string) TestResult
}

// FactoryContext carries everything a handler factory needs: the resolved
// config snapshot (always including "provider_name"), the live environment
// store with the provider's prefix for fresh-per-call lookups, and a logger.
type FactoryContext struct {
	Config    ResolvedConfig
	Source    ConfigSource
	EnvPrefix string
	Log       *logger.Logger
}

// HandlerFactory constructs a handler for one provider.
type HandlerFactory func(fc FactoryContext) (Handler, error)

const (
	// testConnectionBudget caps the whole connectivity probe.
	testConnectionBudget = 30 * time.Second

	testConnectionPrompt    = "Hello"
	testConnectionMaxTokens = 5
	testConnectionTemp      = 0.1
)

// probeConnection runs the shared connectivity check used by every adapter:
// one tiny generation under a hard budget. It never returns an error; any
// failure becomes an error-status result with the message preserved.
func probeConnection(ctx context.Context, h Handler, model string) TestResult {
	ctx, cancel := context.WithTimeout(ctx, testConnectionBudget)
	defer cancel()

	req := GenerateRequest{
		Prompt: testConnectionPrompt,
		Model:  model,
		Params: Params{
			Temperature: Float64(testConnectionTemp),
			MaxTokens:   Int(testConnectionMaxTokens),
		},
	}
	if _, err := h.GenerateText(ctx, req); err != nil {
		return TestResult{Status: TestStatusError, Message: err.Error()}
	}
	return TestResult{
		Status:  TestStatusSuccess,
		Message: fmt.Sprintf("%s connection verified", h.Name()),
	}
}
