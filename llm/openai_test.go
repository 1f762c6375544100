// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"glyphmind/backend/shared/logger"
)

func testOpenAIHandler(t *testing.T, baseURL string, src ConfigSource) *openAIHandler {
	t.Helper()
	if src == nil {
		src = mapSource{"ACME_API_KEY": "sk-test", "ACME_MODEL": "test-model"}
	}
	return newOpenAIHandler(openAIOptions{
		Name:           "acme",
		DefaultBaseURL: baseURL,
	}, resolveConfig(src, "ACME_"), src, "ACME_", logger.New("test"))
}

func TestOpenAIChatSuccess(t *testing.T) {
	var gotBody openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{
			"model": "test-model",
			"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8}
		}`)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	resp, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello there" || resp.Role != "assistant" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotBody.Model != "test-model" {
		t.Errorf("request model = %q", gotBody.Model)
	}
}

func TestOpenAIChoiceTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"text": "plain text answer"}]}`)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	resp, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "plain text answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Role != "assistant" {
		t.Errorf("role should default to assistant, got %q", resp.Role)
	}
}

func TestOpenAIMissingKeyIsConfigError(t *testing.T) {
	src := mapSource{"ACME_MODEL": "test-model"}
	h := testOpenAIHandler(t, "http://invalid.example", src)

	_, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("want ConfigError, got %T: %v", err, err)
	}
}

func TestOpenAIMissingModelIsConfigError(t *testing.T) {
	src := mapSource{"ACME_API_KEY": "sk-test"}
	h := testOpenAIHandler(t, "http://invalid.example", src)

	_, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("want ConfigError, got %T: %v", err, err)
	}
}

func TestOpenAIServerErrorRetriesThreeTimes(t *testing.T) {
	shortenBackoff(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error": "overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	_, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError after exhaustion, got %T", err)
	}
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != 503 {
		t.Errorf("cause should be the last 503, got %v", err)
	}
}

func TestOpenAIClientErrorDoesNotRetry(t *testing.T) {
	shortenBackoff(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	_, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != 401 {
		t.Errorf("want ResponseError 401, got %v", err)
	}
}

func TestOpenAIMalformedSuccessBodyNoRetry(t *testing.T) {
	shortenBackoff(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"choices": [`)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	_, err := h.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	if calls != 1 {
		t.Errorf("malformed 200 must not retry, calls = %d", calls)
	}
	var fmtErr *FormatError
	if !errors.As(err, &fmtErr) {
		t.Errorf("want FormatError, got %T: %v", err, err)
	}
}

func TestOpenAIStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		events := []string{
			`{"choices": [{"delta": {"role": "assistant"}}]}`,
			`{"choices": [{"delta": {"content": "Hel"}}]}`,
			`this line is garbage and must be skipped`,
			`{"choices": [{"delta": {"content": "lo"}}]}`,
			`[DONE]`,
		}
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	stream, err := h.StreamChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var content strings.Builder
	sawDone := false
	for chunk := range stream {
		if chunk.IsError() {
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
		if chunk.IsDone() {
			sawDone = true
			continue
		}
		for _, c := range chunk.Choices {
			content.WriteString(c.Delta.Content)
		}
	}
	if content.String() != "Hello" {
		t.Errorf("content = %q, want Hello", content.String())
	}
	if !sawDone {
		t.Error("stream must end with a done chunk")
	}
}

func TestOpenAIStreamAlwaysTerminates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Server drops the connection without sending [DONE].
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	stream, err := h.StreamChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	last := StreamChunk{}
	for chunk := range stream {
		last = chunk
	}
	if !last.IsDone() {
		t.Errorf("final chunk must be done, got %+v", last)
	}
}

func TestOpenAIStreamUpstreamErrorBeforeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	_, err := h.StreamChat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	var respErr *ResponseError
	if !errors.As(err, &respErr) || respErr.StatusCode != 429 {
		t.Errorf("want ResponseError 429, got %v", err)
	}
}

func TestOpenAIAvailableModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": [{"id": "model-a"}, {"id": "model-b"}]}`)
	}))
	defer srv.Close()

	src := mapSource{"ACME_API_KEY": "sk-test", "ACME_MODEL": "test-model"}
	h := newOpenAIHandler(openAIOptions{
		Name:           "acme",
		DefaultBaseURL: srv.URL,
		ModelsPath:     "/models",
	}, resolveConfig(src, "ACME_"), src, "ACME_", logger.New("test"))

	models, err := h.AvailableModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "model-a" {
		t.Errorf("models = %v", models)
	}
}

func TestOpenAIModelListingFallsBack(t *testing.T) {
	shortenBackoff(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := mapSource{"ACME_API_KEY": "sk-test", "ACME_MODEL": "configured-model"}
	h := newOpenAIHandler(openAIOptions{
		Name:           "acme",
		DefaultBaseURL: srv.URL,
		ModelsPath:     "/models",
	}, resolveConfig(src, "ACME_"), src, "ACME_", logger.New("test"))

	models, err := h.AvailableModels(context.Background())
	if err != nil {
		t.Fatalf("listing failure should degrade, not error: %v", err)
	}
	if len(models) != 1 || models[0] != "configured-model" {
		t.Errorf("models = %v, want [configured-model]", models)
	}
}

func TestOpenAIStaticModels(t *testing.T) {
	src := mapSource{"ACME_API_KEY": "sk-test"}
	h := newOpenAIHandler(openAIOptions{
		Name:         "acme",
		StaticModels: []string{"fixed-1", "fixed-2"},
	}, resolveConfig(src, "ACME_"), src, "ACME_", logger.New("test"))

	models, err := h.AvailableModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[1] != "fixed-2" {
		t.Errorf("models = %v", models)
	}
}

func TestOpenAITestConnection(t *testing.T) {
	var gotReq openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "pong"}}]}`)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	result := h.TestConnection(context.Background(), "")
	if result.Status != TestStatusSuccess {
		t.Errorf("result = %+v", result)
	}
	if gotReq.MaxTokens != testConnectionMaxTokens {
		t.Errorf("probe max_tokens = %d, want %d", gotReq.MaxTokens, testConnectionMaxTokens)
	}
	if gotReq.Temperature != testConnectionTemp {
		t.Errorf("probe temperature = %v", gotReq.Temperature)
	}
}

func TestOpenAITestConnectionNeverErrors(t *testing.T) {
	shortenBackoff(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := testOpenAIHandler(t, srv.URL, nil)
	result := h.TestConnection(context.Background(), "")
	if result.Status != TestStatusError {
		t.Errorf("status = %q, want error", result.Status)
	}
	if result.Message == "" {
		t.Error("failure message must be preserved")
	}
}
