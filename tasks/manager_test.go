// Copyright 2025 GlyphMind
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb)
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		task, err := m.Get(context.Background(), id)
		require.NoError(t, err)
		if task.Status == want {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached %s, last status %s", id, want, task.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSubmitCompletes(t *testing.T) {
	m := newTestManager(t)

	task, err := m.Submit(context.Background(), "deepseek", "deepseek-chat", func(ctx context.Context) (string, error) {
		return "generated report", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)

	done := waitForStatus(t, m, task.ID, StatusCompleted)
	assert.Equal(t, "generated report", done.Result)
	assert.Empty(t, done.Error)
	assert.Equal(t, "deepseek", done.Provider)
}

func TestSubmitFailure(t *testing.T) {
	m := newTestManager(t)

	task, err := m.Submit(context.Background(), "deepseek", "", func(ctx context.Context) (string, error) {
		return "", errors.New("provider exploded")
	})
	require.NoError(t, err)

	failed := waitForStatus(t, m, task.ID, StatusFailed)
	assert.Equal(t, "provider exploded", failed.Error)
	assert.Empty(t, failed.Result)
}

func TestGetUnknownTask(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskBudgetPropagates(t *testing.T) {
	m := newTestManager(t)
	m.budget = 30 * time.Millisecond

	task, err := m.Submit(context.Background(), "slow", "", func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})
	require.NoError(t, err)

	failed := waitForStatus(t, m, task.ID, StatusFailed)
	assert.Contains(t, failed.Error, "context deadline exceeded")
}
