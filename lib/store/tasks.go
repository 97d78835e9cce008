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

// TaskStatus is one state in the task lifecycle (spec.md §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// IsTerminal reports whether status is one a task cannot leave
// (invariant T1).
func (t TaskStatus) IsTerminal() bool {
	return t == TaskCompleted || t == TaskFailed
}

// Task is a row in the tasks table.
type Task struct {
	ID          string
	Slug        string
	RepoURL     string
	Context     string
	Status      TaskStatus
	VMID        string // "" when absent
	Result      string
	ExitCode    *int
	Branch      string
	PRUrl       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time // zero when absent
	CompletedAt time.Time // zero when absent
}

// taskColumns is the explicit column list every tasks query selects,
// matching scanTask's positional indices.
const taskColumns = `id, slug, repo_url, context, status, vm_id, result, exit_code, branch, pr_url, created_at, updated_at, started_at, completed_at`

// Columns: id(0), slug(1), repo_url(2), context(3), status(4), vm_id(5),
// result(6), exit_code(7), branch(8), pr_url(9), created_at(10),
// updated_at(11), started_at(12), completed_at(13).
func scanTask(stmt *sqlite.Stmt) (Task, error) {
	var t Task
	t.ID = stmt.ColumnText(0)
	t.Slug = stmt.ColumnText(1)
	t.RepoURL = stmt.ColumnText(2)
	t.Context = stmt.ColumnText(3)
	t.Status = TaskStatus(stmt.ColumnText(4))
	t.VMID = stmt.ColumnText(5)
	t.Result = stmt.ColumnText(6)
	t.Branch = stmt.ColumnText(8)
	t.PRUrl = stmt.ColumnText(9)

	if !stmt.ColumnIsNull(7) {
		code := stmt.ColumnInt(7)
		t.ExitCode = &code
	}

	var err error
	if t.CreatedAt, err = parseTime(stmt.ColumnText(10)); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(stmt.ColumnText(11)); err != nil {
		return t, err
	}
	if !stmt.ColumnIsNull(12) {
		if t.StartedAt, err = parseTime(stmt.ColumnText(12)); err != nil {
			return t, err
		}
	}
	if !stmt.ColumnIsNull(13) {
		if t.CompletedAt, err = parseTime(stmt.ColumnText(13)); err != nil {
			return t, err
		}
	}
	return t, nil
}

// CreateTask inserts a new pending task.
func (s *Store) CreateTask(ctx context.Context, id, slug, repoURL, taskContext string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO tasks (id, slug, repo_url, context, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, slug, repoURL, taskContext, string(TaskPending), now(at), now(at)}})
	})
}

// GetTask returns a single task row, or hal9999errors.RowNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	return s.getTaskWhere(ctx, "id = ?", id)
}

// GetTaskBySlug returns a task by its human-friendly slug.
func (s *Store) GetTaskBySlug(ctx context.Context, slug string) (Task, error) {
	return s.getTaskWhere(ctx, "slug = ?", slug)
}

func (s *Store) getTaskWhere(ctx context.Context, where string, arg string) (Task, error) {
	var task Task
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+taskColumns+` FROM tasks WHERE `+where, &sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				task, scanErr = scanTask(stmt)
				found = true
				return scanErr
			},
		})
	})
	if err != nil {
		return Task{}, err
	}
	if !found {
		return Task{}, &hal9999errors.RowNotFound{Table: "tasks", ID: arg}
	}
	return task, nil
}

// AssignTaskVM transitions a pending task to assigned and records the
// VM bound to it, mirroring the binding AssignVM records on the VM
// side (invariant P2: a task has at most one bound VM at a time).
func (s *Store) AssignTaskVM(ctx context.Context, id, vmID string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE tasks SET status = ?, vm_id = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(TaskAssigned), vmID, now(at), id}})
	})
}

// MarkTaskRunning transitions a task to running and stamps started_at
// (invariant T2).
func (s *Store) MarkTaskRunning(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{string(TaskRunning), now(at), now(at), id}})
	})
}

// TouchHeartbeat updates only updated_at — the liveness signal the GC
// uses to distinguish live pollers from dead ones.
func (s *Store) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE tasks SET updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{now(at), id}})
	})
}

// FinishResult carries the terminal fields for a task.
type FinishResult struct {
	Result   string
	ExitCode int
	Branch   string
	PRUrl    string
}

// MarkTaskCompleted transitions a task to completed (terminal).
// No-ops if the task is already terminal (invariant P4/T1: monotone,
// completed_at immutable).
func (s *Store) MarkTaskCompleted(ctx context.Context, id string, result FinishResult, at time.Time) error {
	return s.finishTask(ctx, id, TaskCompleted, result, at)
}

// MarkTaskFailed transitions a task to failed (terminal). Same
// monotonicity guarantee as MarkTaskCompleted.
func (s *Store) MarkTaskFailed(ctx context.Context, id string, result FinishResult, at time.Time) error {
	return s.finishTask(ctx, id, TaskFailed, result, at)
}

func (s *Store) finishTask(ctx context.Context, id string, status TaskStatus, result FinishResult, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			UPDATE tasks SET status = ?, result = ?, exit_code = ?, branch = ?, pr_url = ?,
			                 completed_at = ?, updated_at = ?
			WHERE id = ? AND status NOT IN ('completed', 'failed')`,
			&sqlitex.ExecOptions{Args: []any{
				string(status), result.Result, result.ExitCode, result.Branch, result.PRUrl,
				now(at), now(at), id,
			}})
	})
}

// SetTaskBranch records the feature branch chosen during setup.
func (s *Store) SetTaskBranch(ctx context.Context, id, branch string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `UPDATE tasks SET branch = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{branch, now(at), id}})
	})
}

// ListTasksByStatus returns every task in the given status.
func (s *Store) ListTasksByStatus(ctx context.Context, status TaskStatus) ([]Task, error) {
	var tasks []Task
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+taskColumns+` FROM tasks WHERE status = ?`, &sqlitex.ExecOptions{
			Args: []any{string(status)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task, err := scanTask(stmt)
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
				return nil
			},
		})
	})
	return tasks, err
}

// ListInFlightTasks returns every task in assigned or running —
// the candidate set for Orchestrator.Recover.
func (s *Store) ListInFlightTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+taskColumns+` FROM tasks WHERE status IN ('assigned','running')`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task, err := scanTask(stmt)
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
				return nil
			},
		})
	})
	return tasks, err
}

// ForceFailOrphanedAndStale finds VMs in assigned state whose bound
// task is already terminal, missing, or stale-heartbeated, force-fails
// the stale tasks, and returns the affected VM ids for the caller to
// release or destroy. This runs inside one transaction so the
// task-status read and the force-fail write are consistent (releaseOrphans,
// spec.md §4.F.9).
func (s *Store) ForceFailOrphanedAndStale(ctx context.Context, staleTaskMax time.Duration, at time.Time) ([]string, error) {
	var orphanVMIDs []string
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		// VMs assigned to a task that is completed/failed, or whose
		// task_id no longer exists.
		if err := sqlitex.Execute(conn, `
			SELECT vms.id AS vm_id FROM vms
			LEFT JOIN tasks ON tasks.id = vms.task_id
			WHERE vms.status = 'assigned'
			  AND (tasks.id IS NULL OR tasks.status IN ('completed','failed'))`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					orphanVMIDs = append(orphanVMIDs, stmt.ColumnText(0))
					return nil
				},
			}); err != nil {
			return err
		}

		// VMs assigned to a task that is running/assigned but stale.
		cutoff := now(at.Add(-staleTaskMax))
		var staleVMIDs []string
		var staleTaskIDs []string
		if err := sqlitex.Execute(conn, `
			SELECT vms.id AS vm_id, tasks.id AS task_id FROM vms
			JOIN tasks ON tasks.id = vms.task_id
			WHERE vms.status = 'assigned'
			  AND tasks.status IN ('running','assigned')
			  AND tasks.updated_at < ?`,
			&sqlitex.ExecOptions{
				Args: []any{cutoff},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					staleVMIDs = append(staleVMIDs, stmt.ColumnText(0))
					staleTaskIDs = append(staleTaskIDs, stmt.ColumnText(1))
					return nil
				},
			}); err != nil {
			return err
		}

		for i, taskID := range staleTaskIDs {
			if err := sqlitex.Execute(conn, `
				UPDATE tasks SET status = 'failed', result = ?, completed_at = ?, updated_at = ?
				WHERE id = ? AND status NOT IN ('completed','failed')`,
				&sqlitex.ExecOptions{Args: []any{"Stale task (process died)", now(at), now(at), taskID}}); err != nil {
				return err
			}
			orphanVMIDs = append(orphanVMIDs, staleVMIDs[i])
		}
		return nil
	})
	return orphanVMIDs, err
}
