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

// Image is a registered golden-image reference: a provider-specific
// snapshot that new instances in a slot are booted from. Building the
// snapshot itself is out of scope; this table only records which one
// a slot currently points at.
type Image struct {
	ID         string
	Provider   string
	SnapshotID string
	Label      string
	CreatedAt  time.Time
}

const imageColumns = `id, provider, snapshot_id, label, created_at`

// Columns: id(0), provider(1), snapshot_id(2), label(3), created_at(4).
func scanImage(stmt *sqlite.Stmt) (Image, error) {
	var img Image
	img.ID = stmt.ColumnText(0)
	img.Provider = stmt.ColumnText(1)
	img.SnapshotID = stmt.ColumnText(2)
	img.Label = stmt.ColumnText(3)
	createdAt, err := parseTime(stmt.ColumnText(4))
	if err != nil {
		return Image{}, err
	}
	img.CreatedAt = createdAt
	return img, nil
}

// InsertImage records a new golden-image reference.
func (s *Store) InsertImage(ctx context.Context, id, provider, snapshotID, label string, at time.Time) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO images (id, provider, snapshot_id, label, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, provider, snapshotID, label, now(at)}})
	})
}

// GetImage returns a single image row, or hal9999errors.RowNotFound.
func (s *Store) GetImage(ctx context.Context, id string) (Image, error) {
	var img Image
	var found bool
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+imageColumns+` FROM images WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var scanErr error
				img, scanErr = scanImage(stmt)
				found = true
				return scanErr
			},
		})
	})
	if err != nil {
		return Image{}, err
	}
	if !found {
		return Image{}, &hal9999errors.RowNotFound{Table: "images", ID: id}
	}
	return img, nil
}

// ListImagesByProvider returns every image registered for a provider,
// most recent first.
func (s *Store) ListImagesByProvider(ctx context.Context, provider string) ([]Image, error) {
	var images []Image
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT `+imageColumns+` FROM images WHERE provider = ? ORDER BY created_at DESC`,
			&sqlitex.ExecOptions{
				Args: []any{provider},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					img, err := scanImage(stmt)
					if err != nil {
						return err
					}
					images = append(images, img)
					return nil
				},
			})
	})
	return images, err
}
