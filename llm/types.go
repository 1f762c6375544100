// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

// Message is the canonical chat message shape accepted at the system edge.
// Adapters reshape it into whatever the vendor wire format requires; callers
// never pass vendor-specific structures through the contract.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Params carries call-site generation parameter overrides. Nil fields mean
// "not overridden": the effective value then comes from the live environment
// default, and failing that from the adapter's hard default.
type Params struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Float64 returns a pointer to v, for building Params literals.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for building Params literals.
func Int(v int) *int { return &v }

// GenerateRequest is a single-turn completion request.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	// Model overrides the provider's environment default. If both are empty
	// the operation fails with a *ConfigError before any network I/O.
	Model  string `json:"model,omitempty"`
	Params Params `json:"params,omitempty"`
}

// ChatRequest is a multi-turn chat request, used by both Chat and StreamChat.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model,omitempty"`
	Params   Params    `json:"params,omitempty"`
}

// Usage tracks token consumption reported by the vendor. Vendors that do not
// report usage leave all counts at zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the uniform non-streaming chat result.
type ChatResponse struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

// Delta is an incremental content fragment inside a streaming chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// StreamChoice wraps a Delta in the OpenAI-compatible envelope.
type StreamChoice struct {
	Delta Delta `json:"delta"`
}

// StreamError carries a mid-stream failure to the consumer. The stream still
// terminates with a done chunk after an error chunk.
type StreamError struct {
	Message string `json:"message"`
}

// StreamChunk is the uniform streaming chunk shape produced by StreamChat.
// Exactly one of the three forms is populated: content (Choices), error (Err)
// or the terminal marker (Status == "done"). The last chunk on the channel is
// always the terminal marker, on every exit path.
type StreamChunk struct {
	Choices []StreamChoice `json:"choices,omitempty"`
	Status  string         `json:"status,omitempty"`
	Err     *StreamError   `json:"error,omitempty"`
}

// IsDone reports whether the chunk is the terminal marker.
func (c StreamChunk) IsDone() bool { return c.Status == "done" }

// IsError reports whether the chunk carries a stream error.
func (c StreamChunk) IsError() bool { return c.Err != nil }

// ContentChunk builds a content chunk.
func ContentChunk(content string) StreamChunk {
	return StreamChunk{Choices: []StreamChoice{{Delta: Delta{Content: content}}}}
}

// RoleChunk builds the leading chunk announcing the assistant role.
func RoleChunk(role string) StreamChunk {
	return StreamChunk{Choices: []StreamChoice{{Delta: Delta{Role: role}}}}
}

// ErrorChunk builds an error chunk carrying message.
func ErrorChunk(message string) StreamChunk {
	return StreamChunk{Err: &StreamError{Message: message}}
}

// DoneChunk builds the terminal marker.
func DoneChunk() StreamChunk {
	return StreamChunk{Status: "done"}
}

// TestResult is the structured outcome of TestConnection. It is always a
// value, never an error: connection testing exists to report failures to an
// end user, so every failure mode is folded into the message.
type TestResult struct {
	Status  string `json:"status"` // "success" or "error"
	Message string `json:"message"`
}

// Test statuses.
const (
	TestStatusSuccess = "success"
	TestStatusError   = "error"
)
