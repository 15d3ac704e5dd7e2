// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/lock"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/search"
)

// ScanLockTTL bounds how long a crashed scanner blocks its library.
const ScanLockTTL = 10 * time.Minute

var ErrInvalidLibrary = errors.New("library id is required")

// ScanHandler scans one library at a time across the fleet and feeds the
// search index.
type ScanHandler struct {
	Library *library.Service
	Index   *search.Index
	Locker  *lock.Locker
	LockTTL time.Duration
}

func ScanLockKey(libraryID string) string { return "library:scan:" + libraryID }

func (h *ScanHandler) Handle(ctx context.Context, req ScanRequest) (ScanResult, error) {
	if req.LibraryID == "" {
		return ScanResult{}, ErrInvalidLibrary
	}
	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = ScanLockTTL
	}

	var res ScanResult
	err := h.Locker.WithLock(ctx, ScanLockKey(req.LibraryID), ttl, func(ctx context.Context) error {
		stats, items, err := h.Library.Scan(ctx, req.LibraryID)
		res = ScanResult{
			LibraryID: req.LibraryID,
			Status:    string(stats.Status),
			Scanned:   stats.Scanned,
			Skipped:   stats.Skipped,
			Errors:    stats.Errors,
		}
		if err != nil {
			return err
		}
		if h.Index != nil {
			if err := h.Index.Put(ctx, req.LibraryID, search.DocumentsFromItems(items)); err != nil {
				return fmt.Errorf("index library %s: %w", req.LibraryID, err)
			}
		}
		return nil
	})
	if err != nil {
		return ScanResult{}, err
	}
	log.FromContext(ctx).Debug().Str(log.FieldLibraryID, req.LibraryID).Int("scanned", res.Scanned).Msg("scan job done")
	return res, nil
}
