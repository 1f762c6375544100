// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package gemini is a REST client for the Google Generative Language API.
package gemini

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

const (
	// DefaultBaseURL is the public Generative Language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"

	connectTimeout      = 10 * time.Second
	streamTimeoutFactor = 5
)

// StatusError is a non-2xx API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini returned status %d: %s", e.Code, e.Body)
}

// DecodeError is a 2xx response whose body could not be parsed.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "gemini response decode failed: " + e.Message
}

// Config holds connection settings. Lookup, when set, is consulted on every
// request so key and model edits take effect immediately.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration

	Lookup func(name string) (string, bool)
}

// Client talks to the Generative Language API.
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

// APIKey returns the credential, resolved fresh. May be empty.
func (c *Client) APIKey() string {
	return c.setting("api_key", c.cfg.APIKey, "")
}

// Model returns the configured model, resolved fresh.
func (c *Client) Model() string {
	return c.setting("model", c.cfg.Model, DefaultModel)
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.setting("base_url", c.cfg.BaseURL, DefaultBaseURL), "/")
}

// httpClient bounds every request: a dial/TLS timeout on the transport plus
// an overall deadline, stretched for streams since they read for longer.
func (c *Client) httpClient(streaming bool) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	timeout := c.cfg.Timeout
	if streaming {
		timeout *= streamTimeoutFactor
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
		Timeout: timeout,
	}
}

// Part is one piece of generated or prompted content.
type Part struct {
	Text string `json:"text"`
}

// Content is a role-tagged sequence of parts. Gemini uses "user" and
// "model" roles on the wire.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type generateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Role  string `json:"role"`
			Parts []Part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Input describes one generation call.
type Input struct {
	Model       string
	Contents    []Content
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Output is a completed generation.
type Output struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// MapRole converts an OpenAI-style role to the Gemini wire role.
func MapRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "system":
		// Gemini has no system role in contents; fold into user.
		return "user"
	default:
		return "user"
	}
}

func (c *Client) resolveModel(override string) string {
	if override != "" {
		return override
	}
	return c.Model()
}

func (in Input) config() *generationConfig {
	if in.Temperature == nil && in.MaxTokens == nil && in.TopP == nil {
		return nil
	}
	return &generationConfig{
		Temperature:     in.Temperature,
		MaxOutputTokens: in.MaxTokens,
		TopP:            in.TopP,
	}
}

// Generate runs a non-streaming generateContent call.
func (c *Client) Generate(ctx context.Context, in Input) (*Output, error) {
	if c.APIKey() == "" {
		return nil, fmt.Errorf("missing API key")
	}
	model := c.resolveModel(in.Model)
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL(), model, c.APIKey())

	payload, err := json.Marshal(generateRequest{Contents: in.Contents, GenerationConfig: in.config()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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
	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &DecodeError{Message: err.Error()}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &DecodeError{Message: "response has no candidates"}
	}

	var text strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return &Output{
		Text:             text.String(),
		Model:            model,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// StreamEvent is one element of a generation stream.
type StreamEvent struct {
	Text string
	Done bool
	Err  error
}

// GenerateStream runs streamGenerateContent with SSE framing. The returned
// channel always ends with a Done event.
func (c *Client) GenerateStream(ctx context.Context, in Input) (<-chan StreamEvent, error) {
	if c.APIKey() == "" {
		return nil, fmt.Errorf("missing API key")
	}
	model := c.resolveModel(in.Model)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL(), model, c.APIKey())

	payload, err := json.Marshal(generateRequest{Contents: in.Contents, GenerationConfig: in.config()})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			for _, cand := range chunk.Candidates {
				for _, p := range cand.Content.Parts {
					if p.Text == "" {
						continue
					}
					select {
					case out <- StreamEvent{Text: p.Text}:
					case <-ctx.Done():
						return
					}
				}
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

// ListModels returns the models visible to the configured key.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.APIKey() == "" {
		return nil, fmt.Errorf("missing API key")
	}
	url := fmt.Sprintf("%s/models?key=%s", c.baseURL(), c.APIKey())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &DecodeError{Message: err.Error()}
	}
	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func preview(raw []byte) string {
	const limit = 200
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
