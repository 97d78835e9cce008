// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/store"
)

func TestReapIdleVMsDestroysPastTimeout(t *testing.T) {
	m, _, fakeClock := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "task-1", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if err := m.ReleaseVM(ctx, vm.ID); err != nil {
		t.Fatalf("ReleaseVM: %v", err)
	}
	// Stop the in-process reap timer, which the fake clock would fire
	// during Advance, so the persistent scan is what destroys the VM.
	m.cancelIdleTimer(vm.ID)

	fakeClock.Advance(30 * time.Second)
	if count, err := m.ReapIdleVMs(ctx); err != nil {
		t.Fatalf("ReapIdleVMs: %v", err)
	} else if count != 0 {
		t.Errorf("ReapIdleVMs too early = %d, want 0", count)
	}

	fakeClock.Advance(time.Minute)
	count, err := m.ReapIdleVMs(ctx)
	if err != nil {
		t.Fatalf("ReapIdleVMs: %v", err)
	}
	if count != 1 {
		t.Errorf("ReapIdleVMs = %d, want 1", count)
	}
	got, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Status != store.VMDestroyed {
		t.Errorf("Status = %q, want destroyed", got.Status)
	}
}

func TestReapStaleProvisioningDestroysStuckRows(t *testing.T) {
	m, _, fakeClock := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	if err := m.store.InsertProvisioningVM(ctx, "provisioning-primary-stuck", "local", "primary", "", "", "", fakeClock.Now()); err != nil {
		t.Fatalf("InsertProvisioningVM: %v", err)
	}

	fakeClock.Advance(5 * time.Minute)
	if count, err := m.ReapStaleProvisioning(ctx); err != nil {
		t.Fatalf("ReapStaleProvisioning: %v", err)
	} else if count != 0 {
		t.Errorf("ReapStaleProvisioning too early = %d, want 0", count)
	}

	fakeClock.Advance(10 * time.Minute)
	count, err := m.ReapStaleProvisioning(ctx)
	if err != nil {
		t.Fatalf("ReapStaleProvisioning: %v", err)
	}
	if count != 1 {
		t.Errorf("ReapStaleProvisioning = %d, want 1", count)
	}
}

func TestReleaseOrphansForceFailsStaleTaskAndFreesVM(t *testing.T) {
	m, _, fakeClock := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "orphan-task", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if err := m.store.CreateTask(ctx, "orphan-task", "orphan-slug", "https://example.com/repo", "ctx", fakeClock.Now()); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := m.store.MarkTaskRunning(ctx, "orphan-task", fakeClock.Now()); err != nil {
		t.Fatalf("MarkTaskRunning: %v", err)
	}

	fakeClock.Advance(15 * time.Minute)
	count, err := m.ReleaseOrphans(ctx)
	if err != nil {
		t.Fatalf("ReleaseOrphans: %v", err)
	}
	if count != 1 {
		t.Errorf("ReleaseOrphans = %d, want 1", count)
	}

	task, err := m.store.GetTask(ctx, "orphan-task")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != store.TaskFailed {
		t.Errorf("task Status = %q, want failed", task.Status)
	}

	freedVM, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if freedVM.Status == store.VMAssigned {
		t.Errorf("VM still assigned after releaseOrphans: %+v", freedVM)
	}
}

func TestEnsureWarmProvisionsUpToMinReady(t *testing.T) {
	m, _, _ := newTestManager(t, []config.Slot{localSlot("primary", 5, 2, time.Minute)})
	ctx := context.Background()

	provisioned, err := m.EnsureWarm(ctx)
	if err != nil {
		t.Fatalf("EnsureWarm: %v", err)
	}
	if provisioned != 2 {
		t.Errorf("EnsureWarm provisioned %d, want 2", provisioned)
	}

	vms, err := m.store.ListVMsBySlot(ctx, "primary")
	if err != nil {
		t.Fatalf("ListVMsBySlot: %v", err)
	}
	if len(vms) != 2 {
		t.Errorf("len(vms) = %d, want 2", len(vms))
	}

	// A second call should be a no-op: the pool is already at minReady.
	provisioned, err = m.EnsureWarm(ctx)
	if err != nil {
		t.Fatalf("EnsureWarm (second call): %v", err)
	}
	if provisioned != 0 {
		t.Errorf("EnsureWarm second call provisioned %d, want 0", provisioned)
	}
}
