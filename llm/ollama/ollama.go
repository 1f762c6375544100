// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package ollama is a client for a local Ollama daemon. It speaks the native
// API: /api/tags for model discovery, /api/generate for one-shot completion
// and /api/chat with NDJSON streaming.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is where a stock Ollama install listens.
const DefaultEndpoint = "http://localhost:11434"

const (
	connectTimeout      = 10 * time.Second
	streamTimeoutFactor = 5
)

// StatusError is a non-2xx daemon response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.Code, e.Body)
}

// DecodeError is a 2xx response whose body could not be parsed.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "ollama response decode failed: " + e.Message
}

// Config holds connection settings. Lookup, when set, is consulted on every
// request so endpoint and model edits take effect without reconstruction.
type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration

	// Lookup resolves a setting by name ("endpoint", "model") from a live
	// store. Non-empty results override the static fields above.
	Lookup func(name string) (string, bool)
}

// Client talks to one Ollama daemon.
type Client struct {
	cfg Config
}

// NewClient builds a client; zero-value fields fall back to defaults.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) setting(name, static, fallback string) string {
	if c.cfg.Lookup != nil {
		if v, ok := c.cfg.Lookup(name); ok && v != "" {
			return v
		}
	}
	if static != "" {
		return static
	}
	return fallback
}

// Endpoint returns the daemon base URL, resolved fresh.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.setting("endpoint", c.cfg.Endpoint, DefaultEndpoint), "/")
}

// Model returns the configured model name, resolved fresh. May be empty.
func (c *Client) Model() string {
	return c.setting("model", c.cfg.Model, "")
}

// httpClient bounds every request: a dial timeout on the transport plus an
// overall deadline, stretched for streams since they read for longer.
func (c *Client) httpClient(streaming bool) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	timeout := c.cfg.Timeout
	if streaming {
		timeout *= streamTimeoutFactor
	}
	return &http.Client{
		Transport: &http.Transport{DialContext: dialer.DialContext},
		Timeout:   timeout,
	}
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of all locally pulled models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint()+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: preview(raw)}
	}
	var tags tagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, &DecodeError{Message: err.Error()}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ChatMessage is one turn of an exchange.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatInput describes a chat call. Model overrides the configured default
// when non-empty.
type ChatInput struct {
	Model       string
	Messages    []ChatMessage
	Temperature *float64
	MaxTokens   *int
}

// ChatOutput is a completed (non-streaming) chat result.
type ChatOutput struct {
	Role             string
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type chatWireRequest struct {
	Model    string                 `json:"model"`
	Messages []ChatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatWireResponse struct {
	Model   string      `json:"model"`
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (c *Client) resolveModel(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if m := c.Model(); m != "" {
		return m, nil
	}
	return "", fmt.Errorf("no model configured")
}

func buildOptions(in ChatInput) map[string]interface{} {
	opts := map[string]interface{}{}
	if in.Temperature != nil {
		opts["temperature"] = *in.Temperature
	}
	if in.MaxTokens != nil {
		opts["num_predict"] = *in.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// Chat runs a full exchange and returns the assistant message.
func (c *Client) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	model, err := c.resolveModel(in.Model)
	if err != nil {
		return nil, err
	}

	body := chatWireRequest{
		Model:    model,
		Messages: in.Messages,
		Stream:   false,
		Options:  buildOptions(in),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint()+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: preview(raw)}
	}
	var parsed chatWireResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &DecodeError{Message: err.Error()}
	}

	role := parsed.Message.Role
	if role == "" {
		role = "assistant"
	}
	return &ChatOutput{
		Role:             role,
		Content:          parsed.Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
	}, nil
}

// Generate runs a one-shot completion against /api/generate.
func (c *Client) Generate(ctx context.Context, model, prompt string, temperature *float64, maxTokens *int) (string, error) {
	resolved, err := c.resolveModel(model)
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"model":  resolved,
		"prompt": prompt,
		"stream": false,
	}
	if opts := buildOptions(ChatInput{Temperature: temperature, MaxTokens: maxTokens}); opts != nil {
		body["options"] = opts
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint()+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(false).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Body: preview(raw)}
	}
	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &DecodeError{Message: err.Error()}
	}
	return parsed.Response, nil
}

// StreamEvent is one element of a chat stream. Done marks the final event;
// it is always delivered, even after an error.
type StreamEvent struct {
	Role    string
	Content string
	Done    bool
	Err     error
}

// ChatStream runs a streaming exchange. The daemon replies with one JSON
// object per line; the object carrying done:true terminates the stream. The
// returned channel always ends with a Done event.
func (c *Client) ChatStream(ctx context.Context, in ChatInput) (<-chan StreamEvent, error) {
	model, err := c.resolveModel(in.Model)
	if err != nil {
		return nil, err
	}

	body := chatWireRequest{
		Model:    model,
		Messages: in.Messages,
		Stream:   true,
		Options:  buildOptions(in),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint()+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(true).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: preview(raw)}
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer func() {
			select {
			case out <- StreamEvent{Done: true}:
			case <-ctx.Done():
			}
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		sentRole := false

		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk chatWireResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Done {
				return
			}
			ev := StreamEvent{Content: chunk.Message.Content}
			if !sentRole && chunk.Message.Role != "" {
				ev.Role = chunk.Message.Role
				sentRole = true
			}
			if ev.Role == "" && ev.Content == "" {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- StreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func preview(raw []byte) string {
	const limit = 200
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
