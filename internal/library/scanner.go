// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/mediacore/internal/log"
)

// Walk visits every media file under cfg.Path and calls fn for each.
// Symlinks are followed only while they resolve inside the root; unreadable
// entries are counted, logged and skipped.
func Walk(ctx context.Context, cfg RootConfig, fn func(Item) error) (ScanStats, error) {
	stats := ScanStats{LibraryID: cfg.ID, Started: time.Now(), Status: RootStatusOK}
	finish := func(status RootStatus) ScanStats {
		stats.Finished = time.Now()
		stats.Status = status
		return stats
	}

	rootResolved, err := filepath.EvalSymlinks(cfg.Path)
	if err != nil {
		return finish(RootStatusFailed), fmt.Errorf("resolve library root %s: %w", cfg.ID, err)
	}
	rootResolved = filepath.Clean(rootResolved)
	allowed := cfg.IncludeExt
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	scanTime := time.Now().UTC()

	err = filepath.WalkDir(rootResolved, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			stats.Errors++
			logScanError(cfg.ID, "walk", walkErr, p)
			if d != nil && d.IsDir() && p != rootResolved {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(rootResolved, p)
		if err != nil {
			stats.Errors++
			return nil
		}
		if d.IsDir() {
			if rel != "." && cfg.MaxDepth > 0 && strings.Count(rel, string(os.PathSeparator)) >= cfg.MaxDepth-1 {
				return fs.SkipDir
			}
			return nil
		}

		if !hasExtension(d.Name(), allowed) {
			stats.Skipped++
			return nil
		}

		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			stats.Skipped++
			logScanError(cfg.ID, "symlink", err, rel)
			return nil
		}
		if inside, _ := within(rootResolved, resolved); !inside {
			stats.Errors++
			logScanError(cfg.ID, "confinement", ErrPathEscape, rel)
			return nil
		}
		info, err := os.Stat(resolved)
		if err != nil {
			stats.Errors++
			logScanError(cfg.ID, "stat", err, rel)
			return nil
		}
		if !info.Mode().IsRegular() {
			stats.Skipped++
			return nil
		}

		item := Item{
			LibraryID: cfg.ID,
			MediaID:   filepath.ToSlash(rel),
			Title:     TitleFromFilename(d.Name()),
			Filename:  d.Name(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime().UTC(),
			ScanTime:  scanTime,
		}
		if err := fn(item); err != nil {
			return err
		}
		stats.Scanned++
		return nil
	})
	if err != nil {
		return finish(RootStatusFailed), err
	}
	if stats.Errors > 0 {
		return finish(RootStatusDegraded), nil
	}
	return finish(RootStatusOK), nil
}

// within reports whether target is root or below it.
// Confine resolves p and returns it only when it lies inside one of roots
// after symlinks on both sides are evaluated.
func Confine(roots []string, p string) (string, error) {
	target, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	for _, r := range roots {
		root, err := filepath.EvalSymlinks(r)
		if err != nil {
			continue
		}
		if inside, _ := within(filepath.Clean(root), target); inside {
			return target, nil
		}
	}
	return "", ErrPathEscape
}

func within(root, target string) (bool, string) {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || filepath.IsAbs(rel) {
		return false, ""
	}
	return true, rel
}

func hasExtension(name string, allowed []string) bool {
	ext := filepath.Ext(name)
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}

// logScanError logs a hash of the path rather than the path itself.
func logScanError(libraryID, stage string, err error, p string) {
	sum := sha256.Sum256([]byte(p))
	log.L().Warn().
		Str(log.FieldLibraryID, libraryID).
		Str("stage", stage).
		Str("path_hash", hex.EncodeToString(sum[:5])).
		Err(err).
		Str("event", "library.scan_error").
		Msg("library scan error")
}
