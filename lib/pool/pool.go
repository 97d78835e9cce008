// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hal9999/orchestrator/internal/ids"
	"github.com/hal9999/orchestrator/lib/clock"
	"github.com/hal9999/orchestrator/lib/config"
	"github.com/hal9999/orchestrator/lib/hal9999errors"
	"github.com/hal9999/orchestrator/lib/provider"
	"github.com/hal9999/orchestrator/lib/store"
)

// maxProvisionAttempts bounds provision-with-retry in acquire: transient
// provider failures are common in local virtualization, so the first
// failure is absorbed rather than surfaced to the caller.
const maxProvisionAttempts = 2

// Manager is the VM pool manager: the only component that calls into
// a provider.Provider. It owns slot selection, provisioning, warm-pool
// reuse and top-up, and all reaping.
type Manager struct {
	store     *store.Store
	providers map[string]provider.Provider
	slots     []config.Slot
	clock     clock.Clock
	logger    *slog.Logger

	staleTaskMax      time.Duration
	staleProvisionMax time.Duration

	timersMu sync.Mutex
	timers   map[string]*clock.Timer
}

// Config configures New.
type Config struct {
	Store     *store.Store
	Providers map[string]provider.Provider
	Slots     []config.Slot
	Clock     clock.Clock

	// StaleTaskMax is the heartbeat staleness threshold past which a
	// running/assigned task is force-failed (spec.md §3 T3). Defaults
	// to 10 minutes.
	StaleTaskMax time.Duration

	// StaleProvisionMax is how long a VM may sit in provisioning
	// before reapStaleProvisioning destroys it. Defaults to 10 minutes.
	StaleProvisionMax time.Duration

	Logger *slog.Logger
}

// New returns a Manager over cfg.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	staleTaskMax := cfg.StaleTaskMax
	if staleTaskMax <= 0 {
		staleTaskMax = 10 * time.Minute
	}
	staleProvisionMax := cfg.StaleProvisionMax
	if staleProvisionMax <= 0 {
		staleProvisionMax = 10 * time.Minute
	}
	return &Manager{
		store:             cfg.Store,
		providers:         cfg.Providers,
		slots:             cfg.Slots,
		clock:             cfg.Clock,
		logger:            logger,
		staleTaskMax:      staleTaskMax,
		staleProvisionMax: staleProvisionMax,
		timers:            make(map[string]*clock.Timer),
	}
}

// pickSlot iterates slots in configured order and returns the first
// one with active capacity remaining, per spec.md §4.F.1's "fill
// local first, overflow to cloud" policy.
func (m *Manager) pickSlot(ctx context.Context) (config.Slot, error) {
	totalMax := 0
	for _, slot := range m.slots {
		totalMax += slot.MaxPoolSize
		count, err := m.store.CountActiveInSlot(ctx, slot.Name)
		if err != nil {
			return config.Slot{}, fmt.Errorf("pool: counting slot %s: %w", slot.Name, err)
		}
		if count < slot.MaxPoolSize {
			return slot, nil
		}
	}
	return config.Slot{}, &hal9999errors.CapacityError{TotalMax: totalMax}
}

// provisionVmForSlot runs the two-phase insert-then-create sequence
// for a specific slot, so ensureWarm can target a slot directly
// without re-running pickSlot.
func (m *Manager) provisionVmForSlot(ctx context.Context, slot config.Slot) (store.VM, error) {
	prov, ok := m.providers[slot.Provider]
	if !ok {
		return store.VM{}, fmt.Errorf("pool: no provider registered for %q", slot.Provider)
	}

	label := ids.ProvisioningLabel(slot.Name)
	now := m.clock.Now()
	if err := m.store.InsertProvisioningVM(ctx, label, slot.Provider, slot.Name, slot.Region, slot.Plan, slot.SnapshotID, now); err != nil {
		return store.VM{}, fmt.Errorf("pool: reserving provisioning row: %w", err)
	}

	instance, err := prov.CreateInstance(ctx, provider.CreateOptions{
		Region:     slot.Region,
		Plan:       slot.Plan,
		SnapshotID: slot.SnapshotID,
		Label:      label,
		SSHKeyIDs:  sshKeyIDs(slot),
	})
	if err != nil {
		if markErr := m.store.MarkVMError(ctx, label, err.Error(), m.clock.Now()); markErr != nil {
			m.logger.Error("pool: marking failed provision as error", "vm", label, "error", markErr)
		}
		return store.VM{}, &hal9999errors.ProviderError{Provider: slot.Provider, Op: "CreateInstance", Cause: err}
	}

	if err := m.store.RenameVM(ctx, label, instance.ID, instance.IP, instance.SSHPort, m.clock.Now()); err != nil {
		return store.VM{}, fmt.Errorf("pool: renaming provisioned VM %s: %w", label, err)
	}
	return m.store.GetVM(ctx, instance.ID)
}

func sshKeyIDs(slot config.Slot) []string {
	if slot.SSHKeyID == "" {
		return nil
	}
	return []string{slot.SSHKeyID}
}

// provisionVm picks a slot and provisions into it.
func (m *Manager) provisionVm(ctx context.Context) (store.VM, error) {
	slot, err := m.pickSlot(ctx)
	if err != nil {
		return store.VM{}, err
	}
	return m.provisionVmForSlot(ctx, slot)
}

// waitForVm blocks on the provider until vm is reachable, then
// transitions it to ready. On failure the row is left in
// provisioning for reapStaleProvisioning or an explicit destroyVm.
func (m *Manager) waitForVm(ctx context.Context, vm store.VM, timeout time.Duration) (store.VM, error) {
	prov, ok := m.providers[vm.Provider]
	if !ok {
		return store.VM{}, fmt.Errorf("pool: no provider registered for %q", vm.Provider)
	}
	instance, err := prov.WaitForReady(ctx, vm.ID, timeout)
	if err != nil {
		return store.VM{}, &hal9999errors.ProviderError{Provider: vm.Provider, Op: "WaitForReady", Cause: err}
	}
	if err := m.store.MarkVMReady(ctx, vm.ID, instance.IP, instance.SSHPort, m.clock.Now()); err != nil {
		return store.VM{}, fmt.Errorf("pool: marking %s ready: %w", vm.ID, err)
	}
	return m.store.GetVM(ctx, vm.ID)
}

// AcquireVM runs pre-acquire housekeeping, then finds (or provisions)
// a VM and atomically binds it to taskID. waitTimeout bounds
// waitForVm when a fresh VM must be provisioned.
func (m *Manager) AcquireVM(ctx context.Context, taskID string, waitTimeout time.Duration) (store.VM, error) {
	if _, err := m.ReleaseOrphans(ctx); err != nil {
		return store.VM{}, fmt.Errorf("pool: releaseOrphans before acquire: %w", err)
	}
	if _, err := m.ReapStaleProvisioning(ctx); err != nil {
		return store.VM{}, fmt.Errorf("pool: reapStaleProvisioning before acquire: %w", err)
	}
	if _, err := m.ReapIdleVMs(ctx); err != nil {
		return store.VM{}, fmt.Errorf("pool: reapIdleVms before acquire: %w", err)
	}

	vm, found, err := m.store.FindOneReady(ctx)
	if err != nil {
		return store.VM{}, fmt.Errorf("pool: finding ready VM: %w", err)
	}
	if found {
		m.cancelIdleTimer(vm.ID)
	} else {
		vm, err = m.provisionWithRetry(ctx)
		if err != nil {
			return store.VM{}, err
		}
		vm, err = m.waitForVm(ctx, vm, waitTimeout)
		if err != nil {
			return store.VM{}, err
		}
	}

	if err := m.store.AssignVM(ctx, vm.ID, taskID, m.clock.Now()); err != nil {
		return store.VM{}, fmt.Errorf("pool: assigning %s to task %s: %w", vm.ID, taskID, err)
	}
	bound, err := m.store.GetVM(ctx, vm.ID)
	if err != nil {
		return store.VM{}, err
	}

	go func() {
		if _, err := m.EnsureWarm(context.Background()); err != nil {
			m.logger.Warn("pool: ensureWarm after acquire failed", "error", err)
		}
	}()
	return bound, nil
}

func (m *Manager) provisionWithRetry(ctx context.Context) (store.VM, error) {
	var lastErr error
	for attempt := 1; attempt <= maxProvisionAttempts; attempt++ {
		vm, err := m.provisionVm(ctx)
		if err == nil {
			return vm, nil
		}
		lastErr = err
		m.logger.Warn("pool: provision attempt failed", "attempt", attempt, "error", err)
	}
	return store.VM{}, fmt.Errorf("pool: provisioning failed after %d attempts: %w", maxProvisionAttempts, lastErr)
}

// GetVM returns a single VM row, exposed so callers that need to
// inspect a VM's liveness (the orchestrator's crash-recovery path)
// don't need their own store handle.
func (m *Manager) GetVM(ctx context.Context, vmID string) (store.VM, error) {
	return m.store.GetVM(ctx, vmID)
}

// ReleaseVM returns vm to the pool: destroyed immediately if its
// slot's idle timeout is non-positive, otherwise parked in ready with
// idle_since set and a belt-and-suspenders in-process reap timer.
func (m *Manager) ReleaseVM(ctx context.Context, vmID string) error {
	vm, err := m.store.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	slot := m.findSlot(vm.Slot)
	if !shouldWarmRelease(slot) {
		if err := m.DestroyVM(ctx, vmID); err != nil {
			return err
		}
	} else {
		if err := m.store.ReleaseVMToWarm(ctx, vmID, m.clock.Now()); err != nil {
			return fmt.Errorf("pool: releasing %s to warm: %w", vmID, err)
		}
		m.scheduleIdleReap(vmID, slot.IdleTimeout)
	}

	go func() {
		if _, err := m.EnsureWarm(context.Background()); err != nil {
			m.logger.Warn("pool: ensureWarm after release failed", "error", err)
		}
	}()
	return nil
}

func (m *Manager) scheduleIdleReap(vmID string, timeout time.Duration) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if existing, ok := m.timers[vmID]; ok {
		existing.Stop()
	}
	m.timers[vmID] = m.clock.AfterFunc(timeout, func() {
		ctx := context.Background()
		vm, err := m.store.GetVM(ctx, vmID)
		if err != nil {
			return
		}
		if vm.Status != store.VMReady || vm.IdleSince.IsZero() {
			return
		}
		if err := m.DestroyVM(ctx, vmID); err != nil {
			m.logger.Warn("pool: scheduled idle reap failed", "vm", vmID, "error", err)
		}
	})
}

func (m *Manager) cancelIdleTimer(vmID string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	if timer, ok := m.timers[vmID]; ok {
		timer.Stop()
		delete(m.timers, vmID)
	}
}

func (m *Manager) findSlot(name string) *config.Slot {
	for i := range m.slots {
		if m.slots[i].Name == name {
			return &m.slots[i]
		}
	}
	return nil
}

// shouldWarmRelease reports whether a VM leaving a slot should return
// to the warm pool rather than be destroyed outright: only slots with
// a positive IdleTimeout keep a warm pool at all, regardless of
// MinReady — a slot can be configured with MinReady=0 and still want
// idle VMs kept around for a while instead of torn down immediately.
func shouldWarmRelease(slot *config.Slot) bool {
	return slot != nil && slot.IdleTimeout > 0
}

// DestroyVM transitions vm to destroying, calls the provider, and
// lands on destroyed (success or provider-confirmed absence) or error
// (any other failure). Idempotent: a VM already destroyed on the
// provider side is treated as success.
func (m *Manager) DestroyVM(ctx context.Context, vmID string) error {
	vm, err := m.store.GetVM(ctx, vmID)
	if err != nil {
		return err
	}
	if err := m.store.MarkVMDestroying(ctx, vmID, m.clock.Now()); err != nil {
		return fmt.Errorf("pool: marking %s destroying: %w", vmID, err)
	}
	m.cancelIdleTimer(vmID)

	prov, ok := m.providers[vm.Provider]
	if !ok {
		return fmt.Errorf("pool: no provider registered for %q", vm.Provider)
	}
	err = prov.DestroyInstance(ctx, vmID)
	var notFound *hal9999errors.ProviderNotFound
	if err == nil || errors.As(err, &notFound) {
		if markErr := m.store.MarkVMDestroyed(ctx, vmID, m.clock.Now()); markErr != nil {
			return fmt.Errorf("pool: marking %s destroyed: %w", vmID, markErr)
		}
		return nil
	}
	if markErr := m.store.MarkVMError(ctx, vmID, err.Error(), m.clock.Now()); markErr != nil {
		m.logger.Error("pool: marking failed destroy as error", "vm", vmID, "error", markErr)
	}
	return &hal9999errors.ProviderError{Provider: vm.Provider, Op: "DestroyInstance", Cause: err}
}
