// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the durable state layer: VMs, tasks, and images in
// a single WAL-mode SQLite database with one writer per process. It
// is the only component that touches SQL; every other package talks
// to typed Go structs and methods.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hal9999/orchestrator/lib/sqlitepool"
)

// Store wraps a pooled SQLite handle opened with the pragmas required
// for a single-writer, WAL-mode embedded database: synchronous=NORMAL
// trades a crash-window for throughput since the store is rebuilt from
// provider truth on reconcile anyway, busy_timeout absorbs the brief
// writer contention between concurrent task goroutines, and
// foreign_keys stays off because VM<->task references are looked up
// by id rather than enforced (see the cyclic-reference design note).
//
// The pool itself is lib/sqlitepool.Pool: it already applies this
// exact pragma set to every connection, so Store only adds schema
// migration and its own typed query methods on top.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Config controls Open.
type Config struct {
	// Path is the database file. Use ":memory:" for tests (PoolSize
	// is forced to 1 in that case — each in-memory connection is an
	// independent, empty database).
	Path string

	// PoolSize is the number of pooled connections. Defaults to
	// max(runtime.NumCPU(), 4) (see lib/sqlitepool.Open), except for
	// ":memory:" databases, which are always forced to 1.
	PoolSize int

	Logger *slog.Logger
}

// Open opens (creating if necessary) the database at cfg.Path, applies
// the standard pragma set to every connection, and runs schema
// migrations. The caller must Close the returned Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if cfg.Path == ":memory:" {
		// Each in-memory connection is its own independent,
		// throwaway database, so a pool larger than one would
		// silently fragment state across connections.
		poolSize = 1
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrating %s: %w", cfg.Path, err)
	}

	logger.Info("store opened", "path", cfg.Path)
	return s, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

const schemaVersion = 1

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var currentVersion int
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			currentVersion = int(stmt.ColumnInt64(0))
			return nil
		},
	}); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	return sqlitex.ExecuteScript(conn, createSchema, nil)
}

const createSchema = `
CREATE TABLE IF NOT EXISTS vms (
	id          TEXT PRIMARY KEY,
	label       TEXT NOT NULL,
	provider    TEXT NOT NULL,
	slot        TEXT NOT NULL,
	ip          TEXT NOT NULL DEFAULT '',
	ssh_port    INTEGER,
	status      TEXT NOT NULL,
	task_id     TEXT,
	image       TEXT NOT NULL DEFAULT '',
	region      TEXT NOT NULL DEFAULT '',
	plan        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	idle_since  TEXT,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_vms_status  ON vms(status);
CREATE INDEX IF NOT EXISTS idx_vms_task_id ON vms(task_id);
CREATE INDEX IF NOT EXISTS idx_vms_slot    ON vms(slot);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	slug         TEXT NOT NULL UNIQUE,
	repo_url     TEXT NOT NULL,
	context      TEXT NOT NULL,
	status       TEXT NOT NULL,
	vm_id        TEXT,
	result       TEXT NOT NULL DEFAULT '',
	exit_code    INTEGER,
	branch       TEXT NOT NULL DEFAULT '',
	pr_url       TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_vm_id  ON tasks(vm_id);

CREATE TABLE IF NOT EXISTS images (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

PRAGMA user_version = 1;
`

// now formats the current time the way every stamped column expects:
// RFC3339Nano in UTC, which sorts lexicographically with time order.
func now(clockNow time.Time) string {
	return clockNow.UTC().Format(time.RFC3339Nano)
}

// withConn runs fn with a pooled connection, returning its error.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// withTx runs fn inside a savepoint, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		release := sqlitex.Save(conn)
		var err error
		defer func() { release(&err) }()
		err = fn(conn)
		return err
	})
}
