// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the LLM gateway over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"glyphmind/backend/llm"
	"glyphmind/backend/metrics"
	"glyphmind/backend/results"
	"glyphmind/backend/shared/logger"
	"glyphmind/backend/tasks"
)

// Server wires the registry and supporting services into an HTTP handler.
// Store and Tasks are optional; routes depending on them return 503 when
// absent.
type Server struct {
	registry *llm.Registry
	store    *results.Store
	tasks    *tasks.Manager
	log      *logger.Logger
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithStore attaches the result archive.
func WithStore(store *results.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithTasks attaches the background task manager.
func WithTasks(manager *tasks.Manager) ServerOption {
	return func(s *Server) { s.tasks = manager }
}

// NewServer builds the gateway server.
func NewServer(registry *llm.Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		log:      logger.New("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route tree with CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.instrument)

	v1.HandleFunc("/providers", s.handleListProviders).Methods(http.MethodGet)
	v1.HandleFunc("/providers/{name}/models", s.handleListModels).Methods(http.MethodGet)
	v1.HandleFunc("/providers/{name}/config", s.handleRequiredConfig).Methods(http.MethodGet)
	v1.HandleFunc("/providers/{name}/test", s.handleTestConnection).Methods(http.MethodPost)
	v1.HandleFunc("/providers/reload", s.handleReload).Methods(http.MethodPost)

	v1.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	v1.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	v1.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost)

	v1.HandleFunc("/tasks", s.handleSubmitTask).Methods(http.MethodPost)
	v1.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)

	v1.HandleFunc("/results", s.handleListResults).Methods(http.MethodGet)
	v1.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// instrument records request counts and latency per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE works behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusForError maps the error taxonomy onto HTTP statuses: configuration
// problems are the caller's to fix, timeouts are gateway timeouts, upstream
// failures are bad-gateway, anything else is internal.
func statusForError(err error) (int, string) {
	var cfgErr *llm.ConfigError
	if errors.As(err, &cfgErr) {
		return http.StatusBadRequest, "configuration"
	}
	var toErr *llm.TimeoutError
	if errors.As(err, &toErr) {
		return http.StatusGatewayTimeout, "timeout"
	}
	var connErr *llm.ConnectionError
	if errors.As(err, &connErr) {
		return http.StatusBadGateway, "connection"
	}
	var respErr *llm.ResponseError
	if errors.As(err, &respErr) {
		return http.StatusBadGateway, "upstream"
	}
	var fmtErr *llm.FormatError
	if errors.As(err, &fmtErr) {
		return http.StatusBadGateway, "malformed_response"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := statusForError(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
