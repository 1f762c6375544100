// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package results persists generation outcomes to Postgres so reports and
// audits can be rebuilt without re-invoking providers.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"glyphmind/backend/shared/logger"
)

// Record is one persisted generation outcome.
type Record struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Operation        string    `json:"operation"`
	Prompt           string    `json:"prompt"`
	Content          string    `json:"content"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is a Postgres-backed result archive.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore opens a connection pool against connStr and verifies it.
func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Store{db: db, log: logger.New("results-store")}, nil
}

// NewStoreWithDB wraps an existing handle. Used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, log: logger.New("results-store")}
}

// Migrate creates the results table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS generation_results (
			id UUID PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			operation TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_generation_results_provider
			ON generation_results (provider, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrating results schema: %w", err)
	}
	return nil
}

// Save inserts a record, assigning ID and CreatedAt when unset, and returns
// the stored record.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_results
			(id, provider, model, operation, prompt, content, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Provider, rec.Model, rec.Operation, rec.Prompt, rec.Content,
		rec.PromptTokens, rec.CompletionTokens, rec.CreatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("saving result: %w", err)
	}
	return rec, nil
}

// Get fetches one record by id; sql.ErrNoRows passes through when absent.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, model, operation, prompt, content, prompt_tokens, completion_tokens, created_at
		FROM generation_results WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Provider, &rec.Model, &rec.Operation, &rec.Prompt, &rec.Content,
		&rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns the most recent records, optionally filtered by provider.
func (s *Store) List(ctx context.Context, provider string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if provider != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, provider, model, operation, prompt, content, prompt_tokens, completion_tokens, created_at
			FROM generation_results WHERE provider = $1
			ORDER BY created_at DESC LIMIT $2`, provider, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, provider, model, operation, prompt, content, prompt_tokens, completion_tokens, created_at
			FROM generation_results
			ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Model, &rec.Operation, &rec.Prompt, &rec.Content,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
