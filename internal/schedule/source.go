// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule runs persisted scan schedules on exactly one leader node.
package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	"github.com/ManuGH/mediacore/internal/persistence/sqlite"
)

// Schedule is one persisted schedule: a cron expression and the libraries it
// scans, in task order.
type Schedule struct {
	ID        string
	Name      string
	Cron      string
	Libraries []string
}

// Source reads the full schedule set. Schedules are owned elsewhere; the
// coordinator never writes them.
type Source interface {
	LoadSchedules(ctx context.Context) ([]Schedule, error)
}

// Schema creates the tables SQLiteSource reads. The coordinator itself
// never executes it.
const Schema = `
CREATE TABLE IF NOT EXISTS schedules (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	cron TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schedule_libraries (
	schedule_id TEXT NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	library_id  TEXT NOT NULL,
	PRIMARY KEY (schedule_id, position)
);`

// SQLiteSource reads schedules from a SQLite database opened read-only.
type SQLiteSource struct {
	db *sql.DB
}

func OpenSQLiteSource(path string) (*SQLiteSource, error) {
	cfg := sqlite.DefaultConfig()
	cfg.ReadOnly = true
	cfg.MaxOpenConns = 2
	db, err := sqlite.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	return &SQLiteSource{db: db}, nil
}

func (s *SQLiteSource) Close() error { return s.db.Close() }

func (s *SQLiteSource) LoadSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.cron, l.library_id
		FROM schedules s
		LEFT JOIN schedule_libraries l ON l.schedule_id = s.id
		ORDER BY s.id, l.position`)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var (
			id, name, expr string
			lib            sql.NullString
		)
		if err := rows.Scan(&id, &name, &expr, &lib); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, Schedule{ID: id, Name: name, Cron: expr})
		}
		if lib.Valid {
			last := &out[len(out)-1]
			last.Libraries = append(last.Libraries, lib.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// StaticSource serves a fixed schedule set that can be swapped at runtime.
type StaticSource struct {
	mu        sync.Mutex
	schedules []Schedule
	loads     int
}

func NewStaticSource(schedules ...Schedule) *StaticSource {
	return &StaticSource{schedules: schedules}
}

func (s *StaticSource) Set(schedules ...Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = schedules
}

// Loads reports how often LoadSchedules was called.
func (s *StaticSource) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *StaticSource) LoadSchedules(context.Context) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	out := make([]Schedule, len(s.schedules))
	for i, sc := range s.schedules {
		sc.Libraries = slices.Clone(sc.Libraries)
		out[i] = sc
	}
	return out, nil
}
