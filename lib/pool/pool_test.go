// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/provider"
	"github.com/hal9999/orchestrator/lib/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, slots []config.Slot) (*Manager, *provider.Fake, *clock.FakeClock) {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	fake := provider.NewFake()
	fakeClock := clock.Fake(testEpoch)
	m := New(Config{
		Store:     db,
		Providers: map[string]provider.Provider{"local": fake},
		Slots:     slots,
		Clock:     fakeClock,
	})
	return m, fake, fakeClock
}

func localSlot(name string, maxPoolSize, minReady int, idleTimeout time.Duration) config.Slot {
	return config.Slot{
		Name:        name,
		Provider:    "local",
		MaxPoolSize: maxPoolSize,
		MinReady:    minReady,
		IdleTimeout: idleTimeout,
	}
}

func TestPickSlotReturnsFirstWithCapacity(t *testing.T) {
	m, _, _ := newTestManager(t, []config.Slot{
		localSlot("primary", 1, 0, time.Minute),
		localSlot("overflow", 5, 0, time.Minute),
	})
	ctx := context.Background()

	slot, err := m.pickSlot(ctx)
	if err != nil {
		t.Fatalf("pickSlot: %v", err)
	}
	if slot.Name != "primary" {
		t.Errorf("pickSlot = %q, want primary", slot.Name)
	}
}

func TestAcquireProvisionsWhenPoolEmpty(t *testing.T) {
	m, _, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "task-1", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if vm.Status != store.VMAssigned {
		t.Errorf("Status = %q, want assigned", vm.Status)
	}
	if vm.TaskID != "task-1" {
		t.Errorf("TaskID = %q, want task-1", vm.TaskID)
	}
}

func TestAcquireReusesReadyVM(t *testing.T) {
	m, _, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "task-1", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if err := m.ReleaseVM(ctx, vm.ID); err != nil {
		t.Fatalf("ReleaseVM: %v", err)
	}

	reused, err := m.AcquireVM(ctx, "task-2", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM (reuse): %v", err)
	}
	if reused.ID != vm.ID {
		t.Errorf("AcquireVM provisioned a new VM instead of reusing %s: got %s", vm.ID, reused.ID)
	}
}

func TestAcquireFailsAtCapacity(t *testing.T) {
	m, _, fakeClock := newTestManager(t, []config.Slot{localSlot("primary", 1, 0, time.Minute)})
	ctx := context.Background()

	// A live task row keeps the second AcquireVM's orphan release from
	// freeing the first task's VM.
	if err := m.store.CreateTask(ctx, "task-1", "task-one", "https://example.com/repo", "ctx", fakeClock.Now()); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := m.AcquireVM(ctx, "task-1", time.Second); err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if _, err := m.AcquireVM(ctx, "task-2", time.Second); err == nil {
		t.Error("AcquireVM at capacity should fail")
	}
}

func TestReleaseWithZeroIdleTimeoutDestroysImmediately(t *testing.T) {
	m, _, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, 0)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "task-1", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	if err := m.ReleaseVM(ctx, vm.ID); err != nil {
		t.Fatalf("ReleaseVM: %v", err)
	}

	got, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Status != store.VMDestroyed {
		t.Errorf("Status = %q, want destroyed", got.Status)
	}
}

func TestDestroyVMIsIdempotentOnProviderNotFound(t *testing.T) {
	m, fake, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.AcquireVM(ctx, "task-1", time.Second)
	if err != nil {
		t.Fatalf("AcquireVM: %v", err)
	}
	// Simulate the provider having already lost track of the instance.
	if err := fake.DestroyInstance(ctx, vm.ID); err != nil {
		t.Fatalf("priming fake destroy: %v", err)
	}

	if err := m.DestroyVM(ctx, vm.ID); err != nil {
		t.Fatalf("DestroyVM: %v", err)
	}
	got, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Status != store.VMDestroyed {
		t.Errorf("Status = %q, want destroyed", got.Status)
	}
}
