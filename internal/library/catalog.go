// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mediacore/internal/persistence/sqlite"
)

// Catalog persists scanned items in SQLite.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (creating if needed) the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS library_roots (
		id TEXT PRIMARY KEY,
		last_scan_time TEXT,
		last_scan_status TEXT NOT NULL DEFAULT 'never',
		total_items INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS library_items (
		library_id TEXT NOT NULL,
		media_id TEXT NOT NULL,
		title TEXT NOT NULL,
		filename TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		mod_time TEXT NOT NULL,
		scan_time TEXT NOT NULL,
		PRIMARY KEY (library_id, media_id)
	);

	CREATE INDEX IF NOT EXISTS idx_library_items_scan ON library_items(library_id, scan_time);
	`)
	return err
}

// ReplaceItems upserts items and removes the library's items that the scan
// no longer saw, in one transaction.
func (c *Catalog) ReplaceItems(ctx context.Context, stats ScanStats, items []Item) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO library_items (library_id, media_id, title, filename, size_bytes, mod_time, scan_time)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(library_id, media_id) DO UPDATE SET
		title = excluded.title,
		filename = excluded.filename,
		size_bytes = excluded.size_bytes,
		mod_time = excluded.mod_time,
		scan_time = excluded.scan_time
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	scanTime := stats.Started.UTC().Format(time.RFC3339Nano)
	for _, it := range items {
		if _, err = stmt.ExecContext(ctx, it.LibraryID, it.MediaID, it.Title, it.Filename, it.SizeBytes,
			it.ModTime.UTC().Format(time.RFC3339Nano), scanTime); err != nil {
			return fmt.Errorf("upsert %s: %w", it.MediaID, err)
		}
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM library_items WHERE library_id = ? AND scan_time <> ?`,
		stats.LibraryID, scanTime); err != nil {
		return fmt.Errorf("prune stale items: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
	INSERT INTO library_roots (id, last_scan_time, last_scan_status, total_items)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_scan_time = excluded.last_scan_time,
		last_scan_status = excluded.last_scan_status,
		total_items = excluded.total_items
	`, stats.LibraryID, stats.Finished.UTC().Format(time.RFC3339), string(stats.Status), len(items)); err != nil {
		return fmt.Errorf("record scan: %w", err)
	}
	return tx.Commit()
}

// RecordFailure stores a failed scan without touching the items.
func (c *Catalog) RecordFailure(ctx context.Context, stats ScanStats) error {
	_, err := c.db.ExecContext(ctx, `
	INSERT INTO library_roots (id, last_scan_time, last_scan_status)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		last_scan_time = excluded.last_scan_time,
		last_scan_status = excluded.last_scan_status
	`, stats.LibraryID, stats.Finished.UTC().Format(time.RFC3339), string(RootStatusFailed))
	return err
}

// Item returns one catalogued item.
func (c *Catalog) Item(ctx context.Context, libraryID, mediaID string) (Item, error) {
	row := c.db.QueryRowContext(ctx, `
	SELECT library_id, media_id, title, filename, size_bytes, mod_time, scan_time
	FROM library_items WHERE library_id = ? AND media_id = ?
	`, libraryID, mediaID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrMediaNotFound
	}
	return it, err
}

// Items returns all items of a library ordered by media id.
func (c *Catalog) Items(ctx context.Context, libraryID string) ([]Item, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT library_id, media_id, title, filename, size_bytes, mod_time, scan_time
	FROM library_items WHERE library_id = ? ORDER BY media_id
	`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Status returns the last recorded scan status of a library.
func (c *Catalog) Status(ctx context.Context, libraryID string) (RootStatus, int, error) {
	var status string
	var total int
	err := c.db.QueryRowContext(ctx, `SELECT last_scan_status, total_items FROM library_roots WHERE id = ?`, libraryID).
		Scan(&status, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return RootStatusNever, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return RootStatus(status), total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (Item, error) {
	var it Item
	var modTime, scanTime string
	if err := r.Scan(&it.LibraryID, &it.MediaID, &it.Title, &it.Filename, &it.SizeBytes, &modTime, &scanTime); err != nil {
		return Item{}, err
	}
	it.ModTime, _ = time.Parse(time.RFC3339Nano, modTime)
	it.ScanTime, _ = time.Parse(time.RFC3339Nano, scanTime)
	return it, nil
}
