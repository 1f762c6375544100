// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

// Package tasks runs long generations in the background and tracks their
// state in Redis so clients can poll instead of holding a request open.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"glyphmind/backend/metrics"
	"glyphmind/backend/shared/logger"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when a task id is unknown or expired.
var ErrNotFound = errors.New("task not found")

// Task is one tracked background generation.
type Task struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager tracks background tasks in Redis.
type Manager struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger

	// budget bounds each task's execution.
	budget time.Duration
}

// NewManager builds a manager over an existing Redis client. Task records
// expire after 24 hours; each task gets a 10 minute execution budget.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{
		rdb:    rdb,
		ttl:    24 * time.Hour,
		budget: 10 * time.Minute,
		log:    logger.New("task-manager"),
	}
}

func taskKey(id string) string {
	return "glyphmind:task:" + id
}

func (m *Manager) store(ctx context.Context, t Task) error {
	t.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	return m.rdb.Set(ctx, taskKey(t.ID), payload, m.ttl).Err()
}

// Submit registers a task and runs fn on its own goroutine. The returned
// task is already persisted in pending state; the background run updates it
// to running and finally to completed or failed.
func (m *Manager) Submit(ctx context.Context, provider, model string, fn func(ctx context.Context) (string, error)) (Task, error) {
	t := Task{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Provider:  provider,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store(ctx, t); err != nil {
		return Task{}, err
	}

	go m.run(t, fn)
	return t, nil
}

func (m *Manager) run(t Task, fn func(ctx context.Context) (string, error)) {
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), m.budget)
	defer cancel()

	t.Status = StatusRunning
	if err := m.store(ctx, t); err != nil {
		m.log.Error("task state update failed", logger.WithError(err, map[string]interface{}{"task_id": t.ID}))
	}

	result, err := fn(ctx)
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		m.log.Error("task failed", map[string]interface{}{
			"task_id":  t.ID,
			"provider": t.Provider,
			"error":    err.Error(),
		})
	} else {
		t.Status = StatusCompleted
		t.Result = result
	}

	// A fresh context: the budget context may already be done.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer storeCancel()
	if err := m.store(storeCtx, t); err != nil {
		m.log.Error("task result persist failed", logger.WithError(err, map[string]interface{}{"task_id": t.ID}))
	}
}

// Get fetches a task by id.
func (m *Manager) Get(ctx context.Context, id string) (Task, error) {
	payload, err := m.rdb.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("fetching task: %w", err)
	}
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return Task{}, fmt.Errorf("decoding task: %w", err)
	}
	return t, nil
}
