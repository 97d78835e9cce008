// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/provider"
	"github.com/hal9999/orchestrator/lib/store"
)

func TestReconcileMarksUnknownSlotVMDestroyed(t *testing.T) {
	m, _, fakeClock := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	if err := m.store.InsertProvisioningVM(ctx, "orphan-vm", "local", "decommissioned-slot", "", "", "", fakeClock.Now()); err != nil {
		t.Fatalf("InsertProvisioningVM: %v", err)
	}

	result, err := m.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Destroyed < 1 {
		t.Errorf("Reconcile.Destroyed = %d, want >= 1", result.Destroyed)
	}

	got, err := m.store.GetVM(ctx, "orphan-vm")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Status != store.VMDestroyed {
		t.Errorf("Status = %q, want destroyed", got.Status)
	}
}

func TestReconcilePromotesProvisioningToReadyWhenProviderActive(t *testing.T) {
	m, fake, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	vm, err := m.provisionVm(ctx)
	if err != nil {
		t.Fatalf("provisionVm: %v", err)
	}
	if vm.Status != store.VMProvisioning {
		t.Fatalf("vm.Status = %q, want provisioning", vm.Status)
	}
	// The fake provider reports every created instance as active
	// immediately; Reconcile should notice and promote the row.
	if _, err := fake.GetInstance(ctx, vm.ID); err != nil {
		t.Fatalf("sanity GetInstance: %v", err)
	}

	if _, err := m.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if got.Status != store.VMReady {
		t.Errorf("Status = %q, want ready", got.Status)
	}
}

func TestReconcileDestroysUnknownProviderInstances(t *testing.T) {
	m, fake, _ := newTestManager(t, []config.Slot{localSlot("primary", 2, 0, time.Minute)})
	ctx := context.Background()

	instance, err := fake.CreateInstance(ctx, provider.CreateOptions{Label: "leaked"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if _, err := m.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, err := fake.GetInstance(ctx, instance.ID); err == nil {
		t.Error("leaked instance still present on provider after Reconcile")
	}
}
