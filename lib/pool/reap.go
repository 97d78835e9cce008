// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"fmt"

	"github.com/hal9999/orchestrator/lib/store"
)

// ReapIdleVMs destroys every ready VM whose slot idle timeout has
// elapsed since idle_since. Returns the count destroyed.
func (m *Manager) ReapIdleVMs(ctx context.Context) (int, error) {
	idle, err := m.store.ListIdleVMs(ctx)
	if err != nil {
		return 0, fmt.Errorf("pool: listing idle VMs: %w", err)
	}
	now := m.clock.Now()
	count := 0
	for _, vm := range idle {
		slot := m.findSlot(vm.Slot)
		if slot == nil {
			continue
		}
		if slot.IdleTimeout <= 0 || now.Sub(vm.IdleSince) >= slot.IdleTimeout {
			if err := m.DestroyVM(ctx, vm.ID); err != nil {
				m.logger.Warn("pool: reapIdleVms destroy failed", "vm", vm.ID, "error", err)
				continue
			}
			count++
		}
	}
	return count, nil
}

// ReapStaleProvisioning destroys any VM still provisioning after
// StaleProvisionMax — the trace of a dead orchestrator process.
func (m *Manager) ReapStaleProvisioning(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.staleProvisionMax)
	stale, err := m.store.ListStaleProvisioningVMs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pool: listing stale provisioning VMs: %w", err)
	}
	count := 0
	for _, vm := range stale {
		if err := m.DestroyVM(ctx, vm.ID); err != nil {
			m.logger.Warn("pool: reapStaleProvisioning destroy failed", "vm", vm.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// ReapErrorVMs attempts to destroy every VM in the error state. A
// provider that reports the instance already gone is still treated as
// success — the row must leave the accounting set either way.
func (m *Manager) ReapErrorVMs(ctx context.Context) (int, error) {
	errored, err := m.store.ListErrorVMs(ctx)
	if err != nil {
		return 0, fmt.Errorf("pool: listing error VMs: %w", err)
	}
	count := 0
	for _, vm := range errored {
		if err := m.DestroyVM(ctx, vm.ID); err != nil {
			if markErr := m.store.MarkVMDestroyed(ctx, vm.ID, m.clock.Now()); markErr != nil {
				m.logger.Error("pool: reapErrorVms force-destroy failed", "vm", vm.ID, "error", markErr)
				continue
			}
		}
		count++
	}
	return count, nil
}

// ReleaseOrphans returns any assigned VM whose task is gone, terminal,
// or stale-heartbeated back to the pool (warm, if the slot keeps a
// warm pool) or destroys it, force-failing the stale task in the same
// transaction the store uses to find it.
func (m *Manager) ReleaseOrphans(ctx context.Context) (int, error) {
	orphanVMIDs, err := m.store.ForceFailOrphanedAndStale(ctx, m.staleTaskMax, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("pool: releaseOrphans: %w", err)
	}
	for _, vmID := range orphanVMIDs {
		vm, err := m.store.GetVM(ctx, vmID)
		if err != nil {
			m.logger.Warn("pool: releaseOrphans lookup failed", "vm", vmID, "error", err)
			continue
		}
		slot := m.findSlot(vm.Slot)
		if shouldWarmRelease(slot) {
			if err := m.store.ReleaseVMToWarm(ctx, vmID, m.clock.Now()); err != nil {
				m.logger.Warn("pool: releaseOrphans warm release failed", "vm", vmID, "error", err)
				continue
			}
			m.scheduleIdleReap(vmID, slot.IdleTimeout)
		} else {
			if err := m.DestroyVM(ctx, vmID); err != nil {
				m.logger.Warn("pool: releaseOrphans destroy failed", "vm", vmID, "error", err)
			}
		}
	}
	return len(orphanVMIDs), nil
}

// EnsureWarm tops up every slot with MinReady > 0 to its minimum,
// firing provisionVmForSlot for the deficit. Pre-warm failures are
// logged, never returned — a cold pool is not a caller-visible error.
func (m *Manager) EnsureWarm(ctx context.Context) (int, error) {
	provisioned := 0
	for _, slot := range m.slots {
		if slot.MinReady <= 0 {
			continue
		}
		vms, err := m.store.ListVMsBySlot(ctx, slot.Name)
		if err != nil {
			return provisioned, fmt.Errorf("pool: listing VMs for slot %s: %w", slot.Name, err)
		}
		warm := 0
		for _, vm := range vms {
			if vm.TaskID == "" && (vm.Status == store.VMReady || vm.Status == store.VMProvisioning) {
				warm++
			}
		}
		deficit := slot.MinReady - warm
		for i := 0; i < deficit; i++ {
			if _, err := m.provisionVmForSlot(ctx, slot); err != nil {
				m.logger.Warn("pool: ensureWarm provision failed", "slot", slot.Name, "error", err)
				continue
			}
			provisioned++
		}
	}
	return provisioned, nil
}
