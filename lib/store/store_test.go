// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:     filepath.Join(t.TempDir(), "hal9999_test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestOpenAppliesSchema(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ListAllActiveVMs(ctx); err != nil {
		t.Fatalf("ListAllActiveVMs on fresh schema: %v", err)
	}
	if _, err := s.ListInFlightTasks(ctx); err != nil {
		t.Fatalf("ListInFlightTasks on fresh schema: %v", err)
	}
}

func TestVMLifecycleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertProvisioningVM(ctx, "prov-1", "local", "small", "us-east", "standard", "base", testEpoch); err != nil {
		t.Fatalf("InsertProvisioningVM: %v", err)
	}

	vm, err := s.GetVM(ctx, "prov-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Status != VMProvisioning {
		t.Errorf("Status = %q, want provisioning", vm.Status)
	}

	if err := s.RenameVM(ctx, "prov-1", "i-abc123", "10.0.0.5", 22, testEpoch.Add(time.Second)); err != nil {
		t.Fatalf("RenameVM: %v", err)
	}
	if _, err := s.GetVM(ctx, "prov-1"); !errors.As(err, new(*hal9999errors.RowNotFound)) {
		t.Errorf("GetVM(old id) = %v, want RowNotFound", err)
	}

	if err := s.MarkVMReady(ctx, "i-abc123", "10.0.0.5", 22, testEpoch.Add(2*time.Second)); err != nil {
		t.Fatalf("MarkVMReady: %v", err)
	}
	vm, err = s.GetVM(ctx, "i-abc123")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Status != VMReady || vm.IP != "10.0.0.5" || vm.SSHPort != 22 {
		t.Errorf("VM after MarkVMReady = %+v", vm)
	}
}

func TestCountActiveInSlotExcludesTerminalStates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	must(t, s.InsertProvisioningVM(ctx, "vm-1", "local", "small", "", "", "", testEpoch))
	must(t, s.InsertProvisioningVM(ctx, "vm-2", "local", "small", "", "", "", testEpoch))
	must(t, s.MarkVMReady(ctx, "vm-2", "10.0.0.2", 0, testEpoch))
	must(t, s.MarkVMDestroying(ctx, "vm-2", testEpoch))
	must(t, s.MarkVMDestroyed(ctx, "vm-2", testEpoch))

	count, err := s.CountActiveInSlot(ctx, "small")
	if err != nil {
		t.Fatalf("CountActiveInSlot: %v", err)
	}
	if count != 1 {
		t.Errorf("CountActiveInSlot = %d, want 1 (destroyed VM must not count, invariant V1)", count)
	}
}

func TestAssignVMIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	must(t, s.InsertProvisioningVM(ctx, "vm-1", "local", "small", "", "", "", testEpoch))
	must(t, s.MarkVMReady(ctx, "vm-1", "10.0.0.1", 0, testEpoch))
	must(t, s.CreateTask(ctx, "task-1", "calm-otter", "https://example.com/repo.git", "do the thing", testEpoch))

	if err := s.AssignVM(ctx, "vm-1", "task-1", testEpoch.Add(time.Second)); err != nil {
		t.Fatalf("AssignVM: %v", err)
	}

	vm, err := s.GetVM(ctx, "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Status != VMAssigned || vm.TaskID != "task-1" {
		t.Errorf("vm after AssignVM = %+v", vm)
	}

	task, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.VMID != "vm-1" {
		t.Errorf("task.VMID = %q, want vm-1", task.VMID)
	}
}

func TestTaskMonotonicityOnceTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	must(t, s.CreateTask(ctx, "task-1", "calm-otter", "https://example.com/repo.git", "ctx", testEpoch))
	must(t, s.MarkTaskRunning(ctx, "task-1", testEpoch))
	must(t, s.MarkTaskCompleted(ctx, "task-1", FinishResult{Result: "done", ExitCode: 0}, testEpoch.Add(time.Minute)))

	// A later failure must not overwrite the already-terminal completed
	// state (invariant T1: status is monotone once terminal).
	must(t, s.MarkTaskFailed(ctx, "task-1", FinishResult{Result: "should not apply"}, testEpoch.Add(2*time.Minute)))

	task, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != TaskCompleted {
		t.Errorf("Status = %q, want completed (monotonicity violated)", task.Status)
	}
	if task.Result != "done" {
		t.Errorf("Result = %q, want unchanged %q", task.Result, "done")
	}
}

func TestForceFailOrphanedAndStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// VM bound to a task that is already terminal.
	must(t, s.InsertProvisioningVM(ctx, "vm-done", "local", "small", "", "", "", testEpoch))
	must(t, s.MarkVMReady(ctx, "vm-done", "10.0.0.1", 0, testEpoch))
	must(t, s.CreateTask(ctx, "task-done", "calm-otter", "u", "c", testEpoch))
	must(t, s.AssignVM(ctx, "vm-done", "task-done", testEpoch))
	must(t, s.MarkTaskCompleted(ctx, "task-done", FinishResult{Result: "ok"}, testEpoch))

	// VM bound to a task whose heartbeat has gone stale.
	must(t, s.InsertProvisioningVM(ctx, "vm-stale", "local", "small", "", "", "", testEpoch))
	must(t, s.MarkVMReady(ctx, "vm-stale", "10.0.0.2", 0, testEpoch))
	must(t, s.CreateTask(ctx, "task-stale", "dusty-falcon", "u", "c", testEpoch))
	must(t, s.AssignVM(ctx, "vm-stale", "task-stale", testEpoch))
	must(t, s.MarkTaskRunning(ctx, "task-stale", testEpoch))

	// VM bound to a healthy, recently-heartbeated task — must survive.
	must(t, s.InsertProvisioningVM(ctx, "vm-live", "local", "small", "", "", "", testEpoch))
	must(t, s.MarkVMReady(ctx, "vm-live", "10.0.0.3", 0, testEpoch))
	must(t, s.CreateTask(ctx, "task-live", "oaken-kestrel", "u", "c", testEpoch))
	must(t, s.AssignVM(ctx, "vm-live", "task-live", testEpoch))
	must(t, s.MarkTaskRunning(ctx, "task-live", testEpoch))
	must(t, s.TouchHeartbeat(ctx, "task-live", testEpoch.Add(29*time.Minute)))

	orphans, err := s.ForceFailOrphanedAndStale(ctx, 30*time.Minute, testEpoch.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("ForceFailOrphanedAndStale: %v", err)
	}

	got := map[string]bool{}
	for _, id := range orphans {
		got[id] = true
	}
	if !got["vm-done"] {
		t.Errorf("orphans = %v, want vm-done present (task already terminal)", orphans)
	}
	if !got["vm-stale"] {
		t.Errorf("orphans = %v, want vm-stale present (heartbeat gap exceeds max)", orphans)
	}
	if got["vm-live"] {
		t.Errorf("orphans = %v, want vm-live absent (heartbeat within max)", orphans)
	}

	staleTask, err := s.GetTask(ctx, "task-stale")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if staleTask.Status != TaskFailed {
		t.Errorf("task-stale status = %q, want failed", staleTask.Status)
	}
	if staleTask.Result != "Stale task (process died)" {
		t.Errorf("task-stale result = %q, want the fixed stale-task message", staleTask.Result)
	}
}

func TestGetVMNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetVM(context.Background(), "does-not-exist")
	var notFound *hal9999errors.RowNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *hal9999errors.RowNotFound", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
