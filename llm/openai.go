// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"glyphmind/backend/shared/logger"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 120 * time.Second
	// Streams run longer than single completions but still need a ceiling
	// so an abandoned connection cannot hold resources indefinitely.
	streamTimeoutFactor = 5
	defaultTemperature  = 0.7
	defaultMaxTokens    = 2048
)

// openAIOptions describes how one vendor deviates from the baseline
// OpenAI-compatible wire protocol.
type openAIOptions struct {
	Name           string
	DefaultBaseURL string
	DefaultModel   string

	// ChatPath defaults to /chat/completions.
	ChatPath string

	// ModelsPath is the listing endpoint; empty means the vendor has no
	// listing API and StaticModels is returned instead.
	ModelsPath   string
	StaticModels []string
}

// openAIHandler speaks the OpenAI-compatible chat protocol over plain HTTP.
// Credentials and defaults are re-resolved from the environment store on
// every call, never cached.
type openAIHandler struct {
	opts     openAIOptions
	cfg      ResolvedConfig
	resolver *paramResolver
	log      *logger.Logger
}

var _ Handler = (*openAIHandler)(nil)

// newOpenAIHandler builds a handler over the given vendor profile. The
// source backs live parameter resolution under the provider's env prefix.
func newOpenAIHandler(opts openAIOptions, cfg ResolvedConfig, src ConfigSource, prefix string, log *logger.Logger) *openAIHandler {
	if opts.ChatPath == "" {
		opts.ChatPath = "/chat/completions"
	}
	if log == nil {
		log = logger.New(opts.Name)
	}
	return &openAIHandler{
		opts:     opts,
		cfg:      cfg,
		resolver: &paramResolver{src: src, prefix: prefix, log: log},
		log:      log,
	}
}

func (h *openAIHandler) Name() string { return h.opts.Name }

func (h *openAIHandler) RequiredConfigFields() []string {
	return []string{"api_key", "model"}
}

// apiKey resolves the credential fresh from the store, falling back to the
// construction-time snapshot.
func (h *openAIHandler) apiKey() string {
	if k := h.resolver.String("api_key", ""); k != "" {
		return k
	}
	return h.cfg.GetString("api_key")
}

func (h *openAIHandler) baseURL() string {
	if u := h.resolver.String("base_url", ""); u != "" {
		return strings.TrimRight(u, "/")
	}
	if u := h.cfg.GetString("base_url"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return h.opts.DefaultBaseURL
}

// resolveModel picks the model for a call: explicit request value, then the
// live env store, then the construction snapshot, then the vendor default.
func (h *openAIHandler) resolveModel(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if m := h.resolver.String("model", ""); m != "" {
		return m, nil
	}
	if m := h.cfg.GetString("model"); m != "" {
		return m, nil
	}
	if h.opts.DefaultModel != "" {
		return h.opts.DefaultModel, nil
	}
	return "", &ConfigError{Provider: h.opts.Name, Message: "no model configured"}
}

// httpClient builds a fresh client per call so transport settings track the
// live config.
func (h *openAIHandler) httpClient(streaming bool) *http.Client {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultConnectTimeout,
	}
	client := &http.Client{Transport: transport}
	timeout := time.Duration(h.resolver.Int("timeout_seconds", int(defaultRequestTimeout/time.Second))) * time.Second
	if streaming {
		timeout *= streamTimeoutFactor
	}
	client.Timeout = timeout
	return client
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		// Some compatible vendors put the text at the choice level.
		Text string `json:"text"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		Text string `json:"text"`
	} `json:"choices"`
}

type openAIModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// classifyTransportErr maps a failed round trip into the taxonomy.
func classifyTransportErr(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: provider, Cause: err}
	}
	return &ConnectionError{Provider: provider, Cause: err}
}

// doJSON posts a JSON body and decodes a JSON response, mapping every
// failure mode into the taxonomy. Used for the non-streaming endpoints.
func (h *openAIHandler) doJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &APIError{Provider: h.opts.Name, Message: "encoding request", Cause: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &APIError{Provider: h.opts.Name, Message: "building request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if key := h.apiKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := h.httpClient(false).Do(req)
	if err != nil {
		return classifyTransportErr(h.opts.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Provider: h.opts.Name, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return NewResponseError(h.opts.Name, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &FormatError{Provider: h.opts.Name, Message: "invalid JSON", Body: string(raw)}
	}
	return nil
}

// AvailableModels queries the vendor's listing endpoint. Routine
// unreachability degrades to the configured default model rather than
// failing, so unconfigured or offline providers still enumerate.
func (h *openAIHandler) AvailableModels(ctx context.Context) ([]string, error) {
	if h.opts.ModelsPath == "" {
		models := make([]string, len(h.opts.StaticModels))
		copy(models, h.opts.StaticModels)
		return models, nil
	}

	models, err := retryWithBackoff(ctx, h.opts.Name, func() ([]string, error) {
		var list openAIModelList
		if err := h.doJSON(ctx, http.MethodGet, h.baseURL()+h.opts.ModelsPath, nil, &list); err != nil {
			return nil, err
		}
		models := make([]string, 0, len(list.Data))
		for _, m := range list.Data {
			models = append(models, m.ID)
		}
		return models, nil
	})
	if err != nil {
		h.log.Warn("model listing failed, falling back to configured model", map[string]interface{}{
			"provider": h.opts.Name,
			"error":    err.Error(),
		})
		if m, merr := h.resolveModel(""); merr == nil {
			return []string{m}, nil
		}
		return []string{}, nil
	}
	return models, nil
}

func (h *openAIHandler) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := h.Chat(ctx, ChatRequest{
		Messages: []Message{{Role: "user", Content: req.Prompt}},
		Model:    req.Model,
		Params:   req.Params,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (h *openAIHandler) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model, err := h.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	if h.apiKey() == "" {
		return nil, &ConfigError{Provider: h.opts.Name, Message: "missing API key"}
	}
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.opts.Name, Message: "no messages in request"}
	}

	temp, maxTokens := effectiveParams(h.resolver, req.Params, defaultTemperature, defaultMaxTokens)
	body := openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temp,
		MaxTokens:   maxTokens,
		TopP:        req.Params.TopP,
	}

	return retryWithBackoff(ctx, h.opts.Name, func() (*ChatResponse, error) {
		var parsed openAIChatResponse
		if err := h.doJSON(ctx, http.MethodPost, h.baseURL()+h.opts.ChatPath, body, &parsed); err != nil {
			return nil, err
		}
		if len(parsed.Choices) == 0 {
			return nil, &FormatError{Provider: h.opts.Name, Message: "response has no choices"}
		}

		choice := parsed.Choices[0]
		content := choice.Message.Content
		if content == "" {
			content = choice.Text
		}
		role := choice.Message.Role
		if role == "" {
			role = "assistant"
		}
		respModel := parsed.Model
		if respModel == "" {
			respModel = model
		}
		return &ChatResponse{
			Role:     role,
			Content:  content,
			Model:    respModel,
			Provider: h.opts.Name,
			Usage:    parsed.Usage,
		}, nil
	})
}

// StreamChat opens an SSE stream against the chat endpoint. The returned
// channel always ends with a done chunk; malformed SSE lines are skipped.
func (h *openAIHandler) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	model, err := h.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	if h.apiKey() == "" {
		return nil, &ConfigError{Provider: h.opts.Name, Message: "missing API key"}
	}
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.opts.Name, Message: "no messages in request"}
	}

	temp, maxTokens := effectiveParams(h.resolver, req.Params, defaultTemperature, defaultMaxTokens)
	body := openAIChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: temp,
		MaxTokens:   maxTokens,
		TopP:        req.Params.TopP,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &APIError{Provider: h.opts.Name, Message: "encoding request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL()+h.opts.ChatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &APIError{Provider: h.opts.Name, Message: "building request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey())

	resp, err := h.httpClient(true).Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(h.opts.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, NewResponseError(h.opts.Name, resp.StatusCode, string(raw))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer func() {
			// Terminal marker, emitted on every exit path.
			select {
			case out <- DoneChunk():
			case <-ctx.Done():
			}
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		sentRole := false

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				// A single garbled event must not kill the stream.
				h.log.Debug("skipping malformed stream event", map[string]interface{}{
					"provider": h.opts.Name,
				})
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if !sentRole && choice.Delta.Role != "" {
				sentRole = true
				select {
				case out <- RoleChunk(choice.Delta.Role):
				case <-ctx.Done():
					return
				}
			}
			content := choice.Delta.Content
			if content == "" {
				content = choice.Text
			}
			if content == "" {
				continue
			}
			select {
			case out <- ContentChunk(content):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case out <- ErrorChunk(fmt.Sprintf("stream read failed: %v", err)):
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (h *openAIHandler) TestConnection(ctx context.Context, model string) TestResult {
	return probeConnection(ctx, h, model)
}
