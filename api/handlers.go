// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"glyphmind/backend/llm"
	"glyphmind/backend/metrics"
	"glyphmind/backend/results"
	"glyphmind/backend/shared/logger"
	"glyphmind/backend/tasks"
)

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.registry.ListProviders()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

// handler resolves the provider from the route or body and writes a 400 when
// it is unknown.
func (s *Server) handler(w http.ResponseWriter, name string) llm.Handler {
	h := s.registry.GetHandler(name)
	if h == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("no usable provider: %q", name),
			Kind:  "configuration",
		})
		return nil
	}
	return h
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h := s.handler(w, name)
	if h == nil {
		return
	}

	start := time.Now()
	models, err := h.AvailableModels(r.Context())
	observeProvider(h.Name(), "models", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": h.Name(),
		"models":   models,
	})
}

func (s *Server) handleRequiredConfig(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h := s.handler(w, name)
	if h == nil {
		return
	}
	meta, err := s.registry.Metadata(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":   h.Name(),
		"fields":     h.RequiredConfigFields(),
		"env_prefix": meta.EnvPrefix,
	})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h := s.handler(w, name)
	if h == nil {
		return
	}

	var body struct {
		Model string `json:"model"`
	}
	// An empty body is fine; the handler falls back to its configured model.
	_ = json.NewDecoder(r.Body).Decode(&body)

	start := time.Now()
	result := h.TestConnection(r.Context(), body.Model)
	var err error
	if result.Status != llm.TestStatusSuccess {
		err = errors.New(result.Message)
	}
	observeProvider(h.Name(), "test_connection", start, err)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	s.registry.Reload()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type generateRequest struct {
	Provider string     `json:"provider"`
	Prompt   string     `json:"prompt"`
	Model    string     `json:"model"`
	Params   llm.Params `json:"params"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "configuration"})
		return
	}
	if body.Provider == "" || body.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "provider and prompt are required", Kind: "configuration"})
		return
	}
	h := s.handler(w, body.Provider)
	if h == nil {
		return
	}

	start := time.Now()
	content, err := h.GenerateText(r.Context(), llm.GenerateRequest{
		Prompt: body.Prompt,
		Model:  body.Model,
		Params: body.Params,
	})
	observeProvider(h.Name(), "generate", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.persist(r, results.Record{
		Provider:  h.Name(),
		Model:     body.Model,
		Operation: "generate",
		Prompt:    body.Prompt,
		Content:   content,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": h.Name(),
		"content":  content,
	})
}

type chatAPIRequest struct {
	Provider string        `json:"provider"`
	Messages []llm.Message `json:"messages"`
	Model    string        `json:"model"`
	Params   llm.Params    `json:"params"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "configuration"})
		return
	}
	if body.Provider == "" || len(body.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "provider and messages are required", Kind: "configuration"})
		return
	}
	h := s.handler(w, body.Provider)
	if h == nil {
		return
	}

	start := time.Now()
	resp, err := h.Chat(r.Context(), llm.ChatRequest{
		Messages: body.Messages,
		Model:    body.Model,
		Params:   body.Params,
	})
	observeProvider(h.Name(), "chat", start, err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var prompt string
	if n := len(body.Messages); n > 0 {
		prompt = body.Messages[n-1].Content
	}
	s.persist(r, results.Record{
		Provider:         resp.Provider,
		Model:            resp.Model,
		Operation:        "chat",
		Prompt:           prompt,
		Content:          resp.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream relays the handler's chunk stream to the client as SSE,
// terminated with a [DONE] sentinel.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body chatAPIRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "configuration"})
		return
	}
	if body.Provider == "" || len(body.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "provider and messages are required", Kind: "configuration"})
		return
	}
	h := s.handler(w, body.Provider)
	if h == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported", Kind: "internal"})
		return
	}

	stream, err := h.StreamChat(r.Context(), llm.ChatRequest{
		Messages: body.Messages,
		Model:    body.Model,
		Params:   body.Params,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range stream {
		if chunk.IsDone() {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			break
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		metrics.StreamChunks.WithLabelValues(h.Name()).Inc()
	}
}

type taskRequest struct {
	Provider string     `json:"provider"`
	Prompt   string     `json:"prompt"`
	Model    string     `json:"model"`
	Params   llm.Params `json:"params"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "task manager not configured", Kind: "internal"})
		return
	}

	var body taskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Kind: "configuration"})
		return
	}
	if body.Provider == "" || body.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "provider and prompt are required", Kind: "configuration"})
		return
	}
	h := s.handler(w, body.Provider)
	if h == nil {
		return
	}

	task, err := s.tasks.Submit(r.Context(), h.Name(), body.Model, func(ctx context.Context) (string, error) {
		return h.GenerateText(ctx, llm.GenerateRequest{
			Prompt: body.Prompt,
			Model:  body.Model,
			Params: body.Params,
		})
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "task manager not configured", Kind: "internal"})
		return
	}

	task, err := s.tasks.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, tasks.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "task not found", Kind: "not_found"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "result store not configured", Kind: "internal"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.List(r.Context(), r.URL.Query().Get("provider"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []results.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": records})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "result store not configured", Kind: "internal"})
		return
	}

	rec, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "result not found", Kind: "not_found"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// persist archives a successful generation; failures are logged, never
// surfaced to the client.
func (s *Server) persist(r *http.Request, rec results.Record) {
	if s.store == nil {
		return
	}
	if _, err := s.store.Save(r.Context(), rec); err != nil {
		s.log.Error("result persist failed", logger.WithError(err, map[string]interface{}{"operation": rec.Operation}))
	}
}

func observeProvider(provider, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(provider, operation, outcome).Inc()
	metrics.ProviderLatency.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
