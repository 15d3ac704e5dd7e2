// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/fsnotify/fsnotify"
)

// RefreshEnqueuer signals the current leader to reload.
type RefreshEnqueuer interface {
	Enqueue(ctx context.Context, req queue.Empty) (string, error)
}

// Watcher enqueues a schedule.refresh job whenever the schedule database
// changes on disk. Bursts of writes collapse into one refresh.
type Watcher struct {
	Path     string
	Refresh  RefreshEnqueuer
	Debounce time.Duration
}

// Run watches until ctx ends. The parent directory is watched so journal
// files and atomic replacements are seen too.
func (w *Watcher) Run(ctx context.Context) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	logger := log.WithComponent("schedule")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("watch schedule db: %w", err)
	}
	logger.Info().Str(log.FieldPath, w.Path).Str("event", "schedule.watcher_started").Msg("watching schedule database")

	base := filepath.Base(w.Path)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("event", "schedule.watcher_stopped").Msg("schedule watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if _, err := w.Refresh.Enqueue(ctx, queue.Empty{}); err != nil {
					logger.Error().Err(err).Str("event", "schedule.refresh_enqueue_failed").Msg("schedule refresh enqueue failed")
					return
				}
				logger.Debug().Str("event", "schedule.refresh_enqueued").Msg("schedule change signaled")
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Str("event", "schedule.watcher_error").Msg("schedule watcher error")
		}
	}
}
