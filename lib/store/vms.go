// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hal9999/orchestrator/lib/hal9999errors"
)

// VMStatus is one state in the VM lifecycle (spec.md §3).
type VMStatus string

const (
	VMProvisioning VMStatus = "provisioning"
	VMReady        VMStatus = "ready"
	VMAssigned     VMStatus = "assigned"
	VMDestroying   VMStatus = "destroying"
	VMDestroyed    VMStatus = "destroyed"
	VMError        VMStatus = "error"
)

// ActiveVMStatuses are the states that count against a slot's
// maxPoolSize (invariant V1).
var ActiveVMStatuses = []VMStatus{VMProvisioning, VMReady, VMAssigned}

// VM is a row in the vms table.
type VM struct {
	ID        string
	Label     string
	Provider  string
	Slot      string
	IP        string
	SSHPort   int // 0 means "use the provider default"
	Status    VMStatus
	TaskID    string // "" when absent
	Image     string
	Region    string
	Plan      string
	CreatedAt time.Time
	UpdatedAt time.Time
	IdleSince time.Time // zero value when absent
	LastError string
}

// vmColumns is the explicit column list every vms query selects, so
// scanVM's positional indices never depend on SELECT * matching
// CREATE TABLE order.
const vmColumns = `id, label, provider, slot, ip, ssh_port, status, task_id, image, region, plan, created_at, updated_at, idle_since, last_error`

// Columns: id(0), label(1), provider(2), slot(3), ip(4), ssh_port(5),
// status(6), task_id(7), image(8), region(9), plan(10), created_at(11),
// updated_at(12), idle_since(13), last_error(14).
func scanVM(stmt *sqlite.Stmt) (VM, error) {
	var vm VM
	vm.ID = stmt.ColumnText(0)
	vm.Label = stmt.ColumnText(1)
	vm.Provider = stmt.ColumnText(2)
	vm.Slot = stmt.ColumnText(3)
	vm.IP = stmt.ColumnText(4)
	if !stmt.ColumnIsNull(5) {
		vm.SSHPort = stmt.ColumnInt(5)
	}
	vm.Status = VMStatus(stmt.ColumnText(6))
	vm.TaskID = stmt.ColumnText(7)
	vm.Image = stmt.ColumnText(8)
	vm.Region = stmt.ColumnText(9)
	vm.Plan = stmt.ColumnText(10)
	vm.LastError = stmt.ColumnText(14)

	var err error
	if vm.CreatedAt, err = parseTime(stmt.ColumnText(11)); err != nil {
		return vm, err
	}
	if vm.UpdatedAt, err = parseTime(stmt.ColumnText(12)); err != nil {
		return vm, err
	}
	if !stmt.ColumnIsNull(13) {
		if vm.IdleSince, err = parseTime(stmt.ColumnText(13)); err != nil {
			return vm, err
		}
	}
	return vm, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// InsertProvisioningVM inserts a placeholder row for a VM whose
// provider call has not yet returned. id is the provisioning label
// (see internal/ids.ProvisioningLabel); it is later replaced by the
// real provider instance id via RenameVM.
func (s *Store) InsertProvisioningVM(ctx context.Context, id, provider, slot, region, plan, image string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO vms (id, label, provider, slot, status, image, region, plan, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				id, id, provider, slot, string(VMProvisioning), image, region, plan,
				now(at), now(at),
			}})
	})
}

// RenameVM replaces a provisioning row's temporary id with the real
// provider-assigned instance id and records its network address. Used
// by provisionVm once CreateInstance returns successfully.
func (s *Store) RenameVM(ctx context.Context, oldID, newID, ip string, sshPort int, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET id = ?, ip = ?, ssh_port = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{newID, ip, nullableInt(sshPort), now(at), oldID}})
	})
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// MarkVMReady transitions a VM to ready and records its network
// address, used after WaitForReady succeeds.
func (s *Store) MarkVMReady(ctx context.Context, id, ip string, sshPort int, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, ip = ?, ssh_port = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMReady), ip, nullableInt(sshPort), now(at), id}})
	})
}

// MarkVMError demotes a VM to the error state with a message. Never
// deletes the row — it must stay visible to reapErrorVms.
func (s *Store) MarkVMError(ctx context.Context, id, message string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, last_error = ?, task_id = NULL, idle_since = NULL, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMError), message, now(at), id}})
	})
}

// MarkVMDestroying transitions a VM to destroying before the provider
// call is made.
func (s *Store) MarkVMDestroying(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMDestroying), now(at), id}})
	})
}

// MarkVMDestroyed transitions a VM to destroyed (terminal). Clears
// task_id and idle_since.
func (s *Store) MarkVMDestroyed(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, task_id = NULL, idle_since = NULL, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMDestroyed), now(at), id}})
	})
}

// ReleaseVMToWarm transitions an assigned (or orphaned) VM back to
// ready with idle_since set, clearing its task binding (invariant V2,
// V3).
func (s *Store) ReleaseVMToWarm(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, task_id = NULL, idle_since = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMReady), now(at), now(at), id}})
	})
}

// AssignVM atomically binds a ready VM to a task: the VM becomes
// assigned and the task records the VM id. Both updates occur in a
// single transaction per spec.md §4.F.4.
func (s *Store) AssignVM(ctx context.Context, vmID, taskID string, at time.Time) error {
	return s.withTx(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, `
			UPDATE vms SET status = ?, task_id = ?, idle_since = NULL, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(VMAssigned), taskID, now(at), vmID}}); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `
			UPDATE tasks SET vm_id = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{vmID, now(at), taskID}})
	})
}

// GetVM returns a single VM row, or hal9999errors.RowNotFound.
func (s *Store) GetVM(ctx context.Context, id string) (VM, error) {
	var vm VM
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT ` + vmColumns + ` FROM vms WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				vm, scanErr = scanVM(stmt)
				found = true
				return scanErr
			},
		})
	})
	if err != nil {
		return VM{}, err
	}
	if !found {
		return VM{}, &hal9999errors.RowNotFound{Table: "vms", ID: id}
	}
	return vm, nil
}

// CountActiveInSlot counts VMs in {provisioning, ready, assigned} for
// the given slot (invariant V1's left-hand side).
func (s *Store) CountActiveInSlot(ctx context.Context, slot string) (int, error) {
	count := 0
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT COUNT(*) FROM vms WHERE slot = ? AND status IN ('provisioning','ready','assigned')`,
			&sqlitex.ExecOptions{
				Args: []any{slot},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	return count, err
}

// FindOneReady returns an arbitrary ready, unassigned VM, preferring
// none in particular — any ordering the store yields satisfies
// spec.md's acquire-reuse tie-break note. Returns found=false if none.
func (s *Store) FindOneReady(ctx context.Context) (VM, bool, error) {
	var vm VM
	found := false
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT ` + vmColumns + ` FROM vms WHERE status = 'ready' AND task_id IS NULL LIMIT 1`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var scanErr error
					vm, scanErr = scanVM(stmt)
					found = true
					return scanErr
				},
			})
	})
	return vm, found, err
}

// ListIdleVMs returns every VM in ready state with idle_since set,
// across all slots — the candidate set for reapIdleVms.
func (s *Store) ListIdleVMs(ctx context.Context) ([]VM, error) {
	return s.queryVMs(ctx, `SELECT ` + vmColumns + ` FROM vms WHERE status = 'ready' AND idle_since IS NOT NULL`)
}

// ListStaleProvisioningVMs returns VMs stuck in provisioning since
// before the cutoff.
func (s *Store) ListStaleProvisioningVMs(ctx context.Context, cutoff time.Time) ([]VM, error) {
	return s.queryVMsArgs(ctx,
		`SELECT ` + vmColumns + ` FROM vms WHERE status = 'provisioning' AND updated_at < ?`,
		now(cutoff))
}

// ListErrorVMs returns every VM currently in the error state.
func (s *Store) ListErrorVMs(ctx context.Context) ([]VM, error) {
	return s.queryVMs(ctx, `SELECT ` + vmColumns + ` FROM vms WHERE status = 'error'`)
}

// ListAssignedVMs returns every VM currently assigned to a task —
// the candidate set releaseOrphans filters down.
func (s *Store) ListAssignedVMs(ctx context.Context) ([]VM, error) {
	return s.queryVMs(ctx, `SELECT ` + vmColumns + ` FROM vms WHERE status = 'assigned'`)
}

// ListVMsBySlot returns every VM row in a slot, destroyed and error
// rows included; ensureWarm filters them by status to count warm
// capacity.
func (s *Store) ListVMsBySlot(ctx context.Context, slot string) ([]VM, error) {
	return s.queryVMsArgs(ctx, `SELECT ` + vmColumns + ` FROM vms WHERE slot = ?`, slot)
}

// ListAllActiveVMs returns every VM not in a terminal state, used by
// reconcile to cross-check against the provider's listInstances.
func (s *Store) ListAllActiveVMs(ctx context.Context) ([]VM, error) {
	return s.queryVMs(ctx, `SELECT ` + vmColumns + ` FROM vms WHERE status NOT IN ('destroyed')`)
}

func (s *Store) queryVMs(ctx context.Context, query string) ([]VM, error) {
	return s.queryVMsArgs(ctx, query)
}

func (s *Store) queryVMsArgs(ctx context.Context, query string, args ...any) ([]VM, error) {
	var vms []VM
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				vm, err := scanVM(stmt)
				if err != nil {
					return err
				}
				vms = append(vms, vm)
				return nil
			},
		})
	})
	return vms, err
}
