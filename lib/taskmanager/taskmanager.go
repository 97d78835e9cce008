// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskmanager

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/hal9999/orchestrator/internal/ids"
	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/hal9999errors"
	"github.com/hal9999/orchestrator/lib/store"
)

// maxSlugAttempts bounds retries when a freshly generated slug
// collides with an existing one. The word list is large enough that
// repeated collisions indicate a real store problem, not bad luck.
const maxSlugAttempts = 5

// Manager is the task CRUD and lifecycle-transition surface used by
// the orchestrator and the operator CLI.
type Manager struct {
	store *store.Store
	clock clock.Clock
	rand  *rand.Rand
}

// New returns a Manager backed by db. rng supplies slug randomness;
// production callers pass a source seeded from wall-clock entropy,
// tests pass a fixed-seed source for deterministic slugs.
func New(db *store.Store, c clock.Clock, rng *rand.Rand) *Manager {
	return &Manager{store: db, clock: c, rand: rng}
}

// Create inserts a new pending task with a freshly generated id and
// slug, retrying slug generation on collision.
func (m *Manager) Create(ctx context.Context, repoURL, taskContext string) (store.Task, error) {
	id := ids.NewTaskID()
	now := m.clock.Now()

	var lastErr error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug := ids.NewSlug(m.rand)
		if _, err := m.store.GetTaskBySlug(ctx, slug); err == nil {
			continue // slug already taken, try another
		} else if _, notFound := err.(*hal9999errors.RowNotFound); !notFound {
			return store.Task{}, fmt.Errorf("taskmanager: checking slug %s: %w", slug, err)
		}

		if err := m.store.CreateTask(ctx, id, slug, repoURL, taskContext, now); err != nil {
			lastErr = err
			continue
		}
		return m.store.GetTask(ctx, id)
	}
	return store.Task{}, fmt.Errorf("taskmanager: could not allocate a unique slug after %d attempts: %w", maxSlugAttempts, lastErr)
}

// Get returns a task by id.
func (m *Manager) Get(ctx context.Context, id string) (store.Task, error) {
	return m.store.GetTask(ctx, id)
}

// GetBySlug returns a task by its human-friendly slug.
func (m *Manager) GetBySlug(ctx context.Context, slug string) (store.Task, error) {
	return m.store.GetTaskBySlug(ctx, slug)
}

// ListByStatus returns every task currently in status.
func (m *Manager) ListByStatus(ctx context.Context, status store.TaskStatus) ([]store.Task, error) {
	return m.store.ListTasksByStatus(ctx, status)
}

// ListInFlight returns every assigned or running task, the candidate
// set the orchestrator scans on startup recovery.
func (m *Manager) ListInFlight(ctx context.Context) ([]store.Task, error) {
	return m.store.ListInFlightTasks(ctx)
}

// AssignVM records the VM bound to a task and transitions it to
// assigned, the step between pool acquisition and the wrapper
// protocol's setup phase.
func (m *Manager) AssignVM(ctx context.Context, id, vmID string) error {
	return m.store.AssignTaskVM(ctx, id, vmID, m.clock.Now())
}

// MarkRunning transitions a task to running and stamps started_at.
func (m *Manager) MarkRunning(ctx context.Context, id string) error {
	return m.store.MarkTaskRunning(ctx, id, m.clock.Now())
}

// Heartbeat touches updated_at without changing status, the liveness
// signal that keeps a long-running task from being reaped as stale.
func (m *Manager) Heartbeat(ctx context.Context, id string) error {
	return m.store.TouchHeartbeat(ctx, id, m.clock.Now())
}

// SetBranch records the feature branch chosen during setup.
func (m *Manager) SetBranch(ctx context.Context, id, branch string) error {
	return m.store.SetTaskBranch(ctx, id, branch, m.clock.Now())
}

// Complete transitions a task to completed. No-ops if the task is
// already terminal.
func (m *Manager) Complete(ctx context.Context, id string, result store.FinishResult) error {
	return m.store.MarkTaskCompleted(ctx, id, result, m.clock.Now())
}

// Fail transitions a task to failed. No-ops if the task is already
// terminal.
func (m *Manager) Fail(ctx context.Context, id string, result store.FinishResult) error {
	return m.store.MarkTaskFailed(ctx, id, result, m.clock.Now())
}
