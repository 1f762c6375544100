// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"strings"

	"glyphmind/backend/llm/bedrock"
	"glyphmind/backend/llm/gemini"
	"glyphmind/backend/llm/ollama"
	"glyphmind/backend/shared/logger"
)

// builtinFactories maps catalog handler class names to constructors. The
// class name is the stable binding between providers_meta entries and code.
func builtinFactories() map[string]HandlerFactory {
	return map[string]HandlerFactory{
		"OpenAICompatibleHandler": newOpenAICompatibleFactory(),
		"DeepSeekHandler":         newDeepSeekFactory(),
		"SiliconFlowHandler":      newSiliconFlowFactory(),
		"ZhipuHandler":            newZhipuFactory(),
		"VolcengineHandler":       newVolcengineFactory(),
		"GroqHandler":             newGroqFactory(),
		"TogetherHandler":         newTogetherFactory(),
		"PerplexityHandler":       newPerplexityFactory(),
		"MoonshotHandler":         newMoonshotFactory(),
		"AnyscaleHandler":         newAnyscaleFactory(),
		"CohereHandler":           newCohereFactory(),
		"OllamaHandler":           newOllamaFactory(false),
		"OllamaReportHandler":     newOllamaFactory(true),
		"GeminiHandler":           newGeminiFactory(),
		"BedrockHandler":          newBedrockFactory(),
	}
}

// send delivers a chunk unless the caller has gone away. A consumer that
// cancels the context and stops reading must not pin the bridge goroutine on
// a channel send.
func send(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func factoryLog(fc FactoryContext, name string) *logger.Logger {
	if fc.Log != nil {
		return fc.Log
	}
	return logger.New("llm-" + name)
}

// liveLookup builds the fresh-per-call setting resolver handed to the vendor
// subpackages, preserving the {PREFIX}{NAME} then {PREFIX}DEFAULT_{NAME}
// order.
func liveLookup(fc FactoryContext) func(string) (string, bool) {
	r := &paramResolver{src: fc.Source, prefix: fc.EnvPrefix, log: fc.Log}
	return func(name string) (string, bool) {
		return r.raw(name)
	}
}

// --- Ollama -----------------------------------------------------------------

type ollamaChatter interface {
	Chat(ctx context.Context, in ollama.ChatInput) (*ollama.ChatOutput, error)
	ChatStream(ctx context.Context, in ollama.ChatInput) (<-chan ollama.StreamEvent, error)
}

type ollamaHandler struct {
	name   string
	client *ollama.Client
	chat   ollamaChatter
	log    *logger.Logger
}

var _ Handler = (*ollamaHandler)(nil)

func newOllamaFactory(report bool) HandlerFactory {
	return func(fc FactoryContext) (Handler, error) {
		cfg := ollama.Config{
			Endpoint: fc.Config.GetString("endpoint"),
			Model:    fc.Config.GetString("model"),
			Lookup:   liveLookup(fc),
		}
		name := fc.Config.GetString("provider_name")
		if name == "" {
			name = "ollama"
		}
		client := ollama.NewClient(cfg)
		h := &ollamaHandler{name: name, client: client, chat: client, log: factoryLog(fc, name)}
		if report {
			h.chat = ollama.NewReportClient(cfg)
		}
		return h, nil
	}
}

// mapOllamaErr folds subpackage errors into the shared taxonomy.
func mapOllamaErr(provider string, err error) error {
	var statusErr *ollama.StatusError
	if errors.As(err, &statusErr) {
		return &ResponseError{Provider: provider, StatusCode: statusErr.Code, Body: statusErr.Body}
	}
	var decodeErr *ollama.DecodeError
	if errors.As(err, &decodeErr) {
		return &FormatError{Provider: provider, Message: decodeErr.Message}
	}
	if strings.Contains(err.Error(), "no model configured") {
		return &ConfigError{Provider: provider, Message: err.Error()}
	}
	return classifyTransportErr(provider, err)
}

func (h *ollamaHandler) Name() string { return h.name }

func (h *ollamaHandler) RequiredConfigFields() []string {
	return []string{"model"}
}

// AvailableModels lists the daemon's pulled models, degrading to the
// configured model when the daemon is unreachable.
func (h *ollamaHandler) AvailableModels(ctx context.Context) ([]string, error) {
	models, err := retryWithBackoff(ctx, h.name, func() ([]string, error) {
		models, err := h.client.ListModels(ctx)
		if err != nil {
			return nil, mapOllamaErr(h.name, err)
		}
		return models, nil
	})
	if err != nil {
		h.log.Warn("model listing failed, falling back to configured model", map[string]interface{}{
			"provider": h.name,
			"error":    err.Error(),
		})
		if m := h.client.Model(); m != "" {
			return []string{m}, nil
		}
		return []string{}, nil
	}
	return models, nil
}

func toOllamaInput(req ChatRequest) ollama.ChatInput {
	msgs := make([]ollama.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return ollama.ChatInput{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}
}

func (h *ollamaHandler) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
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

func (h *ollamaHandler) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	in := toOllamaInput(req)

	return retryWithBackoff(ctx, h.name, func() (*ChatResponse, error) {
		out, err := h.chat.Chat(ctx, in)
		if err != nil {
			return nil, mapOllamaErr(h.name, err)
		}
		return &ChatResponse{
			Role:     out.Role,
			Content:  out.Content,
			Model:    out.Model,
			Provider: h.name,
			Usage: Usage{
				PromptTokens:     out.PromptTokens,
				CompletionTokens: out.CompletionTokens,
				TotalTokens:      out.PromptTokens + out.CompletionTokens,
			},
		}, nil
	})
}

func (h *ollamaHandler) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	inner, err := h.chat.ChatStream(ctx, toOllamaInput(req))
	if err != nil {
		return nil, mapOllamaErr(h.name, err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for ev := range inner {
			if !send(ctx, out, fromOllamaEvent(ev)) {
				return
			}
		}
	}()
	return out, nil
}

func fromOllamaEvent(ev ollama.StreamEvent) StreamChunk {
	switch {
	case ev.Err != nil:
		return ErrorChunk(ev.Err.Error())
	case ev.Done:
		return DoneChunk()
	case ev.Role != "":
		chunk := RoleChunk(ev.Role)
		chunk.Choices[0].Delta.Content = ev.Content
		return chunk
	default:
		return ContentChunk(ev.Content)
	}
}

func (h *ollamaHandler) TestConnection(ctx context.Context, model string) TestResult {
	return probeConnection(ctx, h, model)
}

// --- Gemini -----------------------------------------------------------------

type geminiHandler struct {
	name   string
	client *gemini.Client
	log    *logger.Logger
}

var _ Handler = (*geminiHandler)(nil)

func newGeminiFactory() HandlerFactory {
	return func(fc FactoryContext) (Handler, error) {
		name := fc.Config.GetString("provider_name")
		if name == "" {
			name = "gemini"
		}
		return &geminiHandler{
			name: name,
			client: gemini.NewClient(gemini.Config{
				APIKey:  fc.Config.GetString("api_key"),
				Model:   fc.Config.GetString("model"),
				BaseURL: fc.Config.GetString("base_url"),
				Lookup:  liveLookup(fc),
			}),
			log: factoryLog(fc, name),
		}, nil
	}
}

func mapGeminiErr(provider string, err error) error {
	var statusErr *gemini.StatusError
	if errors.As(err, &statusErr) {
		return &ResponseError{Provider: provider, StatusCode: statusErr.Code, Body: statusErr.Body}
	}
	var decodeErr *gemini.DecodeError
	if errors.As(err, &decodeErr) {
		return &FormatError{Provider: provider, Message: decodeErr.Message}
	}
	if strings.Contains(err.Error(), "missing API key") {
		return &ConfigError{Provider: provider, Message: err.Error()}
	}
	return classifyTransportErr(provider, err)
}

func (h *geminiHandler) Name() string { return h.name }

func (h *geminiHandler) RequiredConfigFields() []string {
	return []string{"api_key", "model"}
}

func (h *geminiHandler) AvailableModels(ctx context.Context) ([]string, error) {
	models, err := retryWithBackoff(ctx, h.name, func() ([]string, error) {
		models, err := h.client.ListModels(ctx)
		if err != nil {
			return nil, mapGeminiErr(h.name, err)
		}
		return models, nil
	})
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		h.log.Warn("model listing failed, falling back to configured model", map[string]interface{}{
			"provider": h.name,
			"error":    err.Error(),
		})
		return []string{h.client.Model()}, nil
	}
	return models, nil
}

func toGeminiInput(req ChatRequest) gemini.Input {
	contents := make([]gemini.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, gemini.Content{
			Role:  gemini.MapRole(m.Role),
			Parts: []gemini.Part{{Text: m.Content}},
		})
	}
	return gemini.Input{
		Model:       req.Model,
		Contents:    contents,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
		TopP:        req.Params.TopP,
	}
}

func (h *geminiHandler) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
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

func (h *geminiHandler) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	in := toGeminiInput(req)

	return retryWithBackoff(ctx, h.name, func() (*ChatResponse, error) {
		out, err := h.client.Generate(ctx, in)
		if err != nil {
			return nil, mapGeminiErr(h.name, err)
		}
		return &ChatResponse{
			Role:     "assistant",
			Content:  out.Text,
			Model:    out.Model,
			Provider: h.name,
			Usage: Usage{
				PromptTokens:     out.PromptTokens,
				CompletionTokens: out.CompletionTokens,
				TotalTokens:      out.PromptTokens + out.CompletionTokens,
			},
		}, nil
	})
}

func (h *geminiHandler) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	inner, err := h.client.GenerateStream(ctx, toGeminiInput(req))
	if err != nil {
		return nil, mapGeminiErr(h.name, err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		sentRole := false
		for ev := range inner {
			switch {
			case ev.Err != nil:
				if !send(ctx, out, ErrorChunk(ev.Err.Error())) {
					return
				}
			case ev.Done:
				if !send(ctx, out, DoneChunk()) {
					return
				}
			default:
				if !sentRole {
					if !send(ctx, out, RoleChunk("assistant")) {
						return
					}
					sentRole = true
				}
				if !send(ctx, out, ContentChunk(ev.Text)) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (h *geminiHandler) TestConnection(ctx context.Context, model string) TestResult {
	return probeConnection(ctx, h, model)
}

// --- Bedrock ----------------------------------------------------------------

type bedrockHandler struct {
	name   string
	client *bedrock.Client
}

var _ Handler = (*bedrockHandler)(nil)

func newBedrockFactory() HandlerFactory {
	return func(fc FactoryContext) (Handler, error) {
		name := fc.Config.GetString("provider_name")
		if name == "" {
			name = "bedrock"
		}
		return &bedrockHandler{
			name: name,
			client: bedrock.NewClient(bedrock.Config{
				Region: fc.Config.GetString("region"),
				Model:  fc.Config.GetString("model"),
				Lookup: liveLookup(fc),
			}),
		}, nil
	}
}

func (h *bedrockHandler) Name() string { return h.name }

func (h *bedrockHandler) RequiredConfigFields() []string {
	return []string{"region", "model"}
}

// AvailableModels returns the invocable model families. Listing foundation
// models needs the control-plane API and broader IAM grants, so the set is
// static.
func (h *bedrockHandler) AvailableModels(ctx context.Context) ([]string, error) {
	return []string{
		"anthropic.claude-3-5-sonnet-20241022-v2:0",
		"anthropic.claude-3-5-haiku-20241022-v1:0",
		"amazon.titan-text-express-v1",
		"meta.llama3-70b-instruct-v1:0",
		"mistral.mistral-large-2402-v1:0",
	}, nil
}

// flattenMessages folds a multi-turn exchange into a single prompt plus an
// optional system instruction, since InvokeModel bodies are single-prompt
// for most families.
func flattenMessages(msgs []Message) (prompt, system string) {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		default:
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.Content)
		}
	}
	return b.String(), system
}

func (h *bedrockHandler) GenerateText(ctx context.Context, req GenerateRequest) (string, error) {
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

func (h *bedrockHandler) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	prompt, system := flattenMessages(req.Messages)
	in := bedrock.Input{
		Model:       req.Model,
		Prompt:      prompt,
		System:      system,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	}

	return retryWithBackoff(ctx, h.name, func() (*ChatResponse, error) {
		out, err := h.client.Invoke(ctx, in)
		if err != nil {
			return nil, h.mapErr(err)
		}
		return &ChatResponse{
			Role:     "assistant",
			Content:  out.Text,
			Model:    out.Model,
			Provider: h.name,
			Usage: Usage{
				PromptTokens:     out.PromptTokens,
				CompletionTokens: out.CompletionTokens,
				TotalTokens:      out.PromptTokens + out.CompletionTokens,
			},
		}, nil
	})
}

func (h *bedrockHandler) mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: h.name, Cause: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "loading AWS config"),
		strings.Contains(msg, "unsupported model family"):
		return &ConfigError{Provider: h.name, Message: msg}
	case strings.Contains(msg, "ThrottlingException"):
		return &ResponseError{Provider: h.name, StatusCode: 429, Body: msg}
	case strings.Contains(msg, "parsing response"):
		return &FormatError{Provider: h.name, Message: msg}
	}
	return &APIError{Provider: h.name, Message: "invocation failed", Cause: err}
}

func (h *bedrockHandler) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if len(req.Messages) == 0 {
		return nil, &ConfigError{Provider: h.name, Message: "no messages in request"}
	}
	prompt, system := flattenMessages(req.Messages)
	inner, err := h.client.InvokeStream(ctx, bedrock.Input{
		Model:       req.Model,
		Prompt:      prompt,
		System:      system,
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
	})
	if err != nil {
		return nil, h.mapErr(err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		sentRole := false
		for ev := range inner {
			switch {
			case ev.Err != nil:
				if !send(ctx, out, ErrorChunk(ev.Err.Error())) {
					return
				}
			case ev.Done:
				if !send(ctx, out, DoneChunk()) {
					return
				}
			default:
				if !sentRole {
					if !send(ctx, out, RoleChunk("assistant")) {
						return
					}
					sentRole = true
				}
				if !send(ctx, out, ContentChunk(ev.Text)) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (h *bedrockHandler) TestConnection(ctx context.Context, model string) TestResult {
	return probeConnection(ctx, h, model)
}
