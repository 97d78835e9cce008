// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package taskmanager

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{
		Path:     filepath.Join(t.TempDir(), "hal9999_test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	fake := clock.Fake(testEpoch)
	return New(db, fake, rand.New(rand.NewSource(1)))
}

func TestCreateAssignsSlugAndPendingStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://example.com/repo", "do the thing")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Slug == "" {
		t.Error("Create left Slug empty")
	}
	if task.Status != store.TaskPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.RepoURL != "https://example.com/repo" {
		t.Errorf("RepoURL = %q", task.RepoURL)
	}

	byID, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if byID.Slug != task.Slug {
		t.Errorf("Get returned different slug: %q vs %q", byID.Slug, task.Slug)
	}

	bySlug, err := m.GetBySlug(ctx, task.Slug)
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if bySlug.ID != task.ID {
		t.Errorf("GetBySlug returned different id: %q vs %q", bySlug.ID, task.ID)
	}
}

func TestCreateGeneratesDistinctSlugsUnderCollision(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		task, err := m.Create(ctx, "https://example.com/repo", "task")
		if err != nil {
			t.Fatalf("Create[%d]: %v", i, err)
		}
		if seen[task.Slug] {
			t.Fatalf("duplicate slug %q on iteration %d", task.Slug, i)
		}
		seen[task.Slug] = true
	}
}

func TestLifecycleTransitions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	task, err := m.Create(ctx, "https://example.com/repo", "task")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.AssignVM(ctx, task.ID, "vm-1"); err != nil {
		t.Fatalf("AssignVM: %v", err)
	}
	assigned, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if assigned.Status != store.TaskAssigned {
		t.Errorf("Status = %q, want assigned", assigned.Status)
	}
	if assigned.VMID != "vm-1" {
		t.Errorf("VMID = %q, want vm-1", assigned.VMID)
	}

	if err := m.MarkRunning(ctx, task.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	running, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if running.Status != store.TaskRunning {
		t.Errorf("Status = %q, want running", running.Status)
	}
	if running.StartedAt.IsZero() {
		t.Error("StartedAt not stamped after MarkRunning")
	}

	if err := m.SetBranch(ctx, task.ID, "hal9999/fix-bug"); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}
	if err := m.Heartbeat(ctx, task.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if err := m.Complete(ctx, task.ID, store.FinishResult{Result: "done", ExitCode: 0, Branch: "hal9999/fix-bug"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	completed, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if completed.Status != store.TaskCompleted {
		t.Errorf("Status = %q, want completed", completed.Status)
	}
	if completed.Branch != "hal9999/fix-bug" {
		t.Errorf("Branch = %q, want hal9999/fix-bug", completed.Branch)
	}

	// Terminal transitions are monotone: Fail after Complete is a no-op.
	if err := m.Fail(ctx, task.ID, store.FinishResult{Result: "should not apply"}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	stillCompleted, err := m.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stillCompleted.Status != store.TaskCompleted {
		t.Errorf("Status = %q after no-op Fail, want completed", stillCompleted.Status)
	}
	if stillCompleted.Result != "done" {
		t.Errorf("Result = %q, want unchanged %q", stillCompleted.Result, "done")
	}
}

func TestListByStatusAndInFlight(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	pending, err := m.Create(ctx, "https://example.com/repo", "pending task")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	running, err := m.Create(ctx, "https://example.com/repo", "running task")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.MarkRunning(ctx, running.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	pendingList, err := m.ListByStatus(ctx, store.TaskPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pendingList) != 1 || pendingList[0].ID != pending.ID {
		t.Errorf("ListByStatus(pending) = %+v, want just %q", pendingList, pending.ID)
	}

	inFlight, err := m.ListInFlight(ctx)
	if err != nil {
		t.Fatalf("ListInFlight: %v", err)
	}
	if len(inFlight) != 1 || inFlight[0].ID != running.ID {
		t.Errorf("ListInFlight = %+v, want just %q", inFlight, running.ID)
	}
}
