// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
	"github.com/hal9999/orchestrator/lib/provider"
	"github.com/hal9999/orchestrator/lib/store"
)

// ReconcileResult reports what Reconcile changed, for `hal pool sync`
// and orchestrator-startup logging.
type ReconcileResult struct {
	Updated   int
	Destroyed int
}

// Reconcile is the periodic drift-correction pass: it cross-checks
// every DB-active VM against provider truth, runs all reaps, and
// destroys any provider instance with no corresponding live DB row.
// Assumes sole ownership of every instance its slots' provider accounts
// list (ListInstances is called with no label filter) — a second
// orchestrator sharing a provider account would have its instances
// mistaken for orphans.
func (m *Manager) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	active, err := m.store.ListAllActiveVMs(ctx)
	if err != nil {
		return result, fmt.Errorf("pool: reconcile: listing active VMs: %w", err)
	}

	for _, vm := range active {
		slot := m.findSlot(vm.Slot)
		if slot == nil {
			if err := m.store.MarkVMDestroyed(ctx, vm.ID, m.clock.Now()); err != nil {
				m.logger.Warn("pool: reconcile: marking unknown-slot VM destroyed failed", "vm", vm.ID, "error", err)
				continue
			}
			result.Destroyed++
			continue
		}

		prov, ok := m.providers[vm.Provider]
		if !ok {
			continue
		}
		instance, err := prov.GetInstance(ctx, vm.ID)
		var notFound *hal9999errors.ProviderNotFound
		if errors.As(err, &notFound) {
			if err := m.store.MarkVMDestroyed(ctx, vm.ID, m.clock.Now()); err != nil {
				m.logger.Warn("pool: reconcile: marking gone VM destroyed failed", "vm", vm.ID, "error", err)
				continue
			}
			result.Destroyed++
			continue
		}
		if err != nil {
			m.logger.Warn("pool: reconcile: GetInstance failed", "vm", vm.ID, "error", err)
			continue
		}
		if instance.Status == provider.StatusActive && vm.Status == store.VMProvisioning {
			if err := m.store.MarkVMReady(ctx, vm.ID, instance.IP, instance.SSHPort, m.clock.Now()); err != nil {
				m.logger.Warn("pool: reconcile: promoting VM to ready failed", "vm", vm.ID, "error", err)
				continue
			}
			result.Updated++
		}
	}

	idleCount, err := m.ReapIdleVMs(ctx)
	if err != nil {
		return result, err
	}
	staleCount, err := m.ReapStaleProvisioning(ctx)
	if err != nil {
		return result, err
	}
	errorCount, err := m.ReapErrorVMs(ctx)
	if err != nil {
		return result, err
	}
	orphanCount, err := m.ReleaseOrphans(ctx)
	if err != nil {
		return result, err
	}
	result.Destroyed += idleCount + staleCount + errorCount

	unknownDestroyed, err := m.destroyUnknownProviderInstances(ctx)
	if err != nil {
		return result, err
	}
	result.Destroyed += unknownDestroyed

	if _, err := m.EnsureWarm(ctx); err != nil {
		m.logger.Warn("pool: reconcile: ensureWarm failed", "error", err)
	}

	m.logger.Info("pool: reconcile complete",
		"updated", humanize.Comma(int64(result.Updated)),
		"destroyed", humanize.Comma(int64(result.Destroyed)),
		"orphans_released", humanize.Comma(int64(orphanCount)),
		"at", humanize.Time(m.clock.Now()))
	return result, nil
}

// destroyUnknownProviderInstances lists every instance the provider
// reports for each slot and destroys any with no live (non-destroyed)
// DB row — defense against cloud resources leaked by a crashed or
// manually-edited process.
func (m *Manager) destroyUnknownProviderInstances(ctx context.Context) (int, error) {
	// ListInstances reports every instance of a provider, which slots
	// can share, so the known set spans all slots.
	known, err := m.store.ListAllActiveVMs(ctx)
	if err != nil {
		return 0, fmt.Errorf("pool: reconcile: listing known VMs: %w", err)
	}
	knownByID := make(map[string]store.VM, len(known))
	for _, vm := range known {
		knownByID[vm.ID] = vm
	}
	destroyed := 0
	for _, slot := range m.slots {
		prov, ok := m.providers[slot.Provider]
		if !ok {
			continue
		}
		instances, err := prov.ListInstances(ctx, "")
		if err != nil {
			m.logger.Warn("pool: reconcile: ListInstances failed", "slot", slot.Name, "error", err)
			continue
		}
		for _, instance := range instances {
			if vm, ok := knownByID[instance.ID]; ok && vm.Status != store.VMDestroyed {
				continue
			}
			if err := prov.DestroyInstance(ctx, instance.ID); err != nil {
				var notFound *hal9999errors.ProviderNotFound
				if !errors.As(err, &notFound) {
					m.logger.Warn("pool: reconcile: destroying unknown instance failed", "instance", instance.ID, "error", err)
					continue
				}
			}
			destroyed++
		}
	}
	return destroyed, nil
}
