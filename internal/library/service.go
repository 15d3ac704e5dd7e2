// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ManuGH/mediacore/internal/log"
)

// Service scans configured roots into the catalog and resolves media ids
// back to files.
type Service struct {
	roots   map[string]RootConfig
	catalog *Catalog
}

func NewService(roots []RootConfig, catalog *Catalog) *Service {
	m := make(map[string]RootConfig, len(roots))
	for _, r := range roots {
		m[r.ID] = r
	}
	return &Service{roots: m, catalog: catalog}
}

// Roots returns the configured library ids in order.
func (s *Service) Roots() []string {
	ids := make([]string, 0, len(s.roots))
	for id := range s.roots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RootPaths returns the configured root directories.
func (s *Service) RootPaths() []string {
	paths := make([]string, 0, len(s.roots))
	for _, id := range s.Roots() {
		paths = append(paths, s.roots[id].Path)
	}
	return paths
}

// artworkNames are tried next to the media file, after its own basename.
var artworkNames = []string{"poster.jpg", "poster.png", "folder.jpg", "folder.png", "cover.jpg"}

var artworkExt = []string{".jpg", ".jpeg", ".png", ".webp"}

// Artwork finds a sidecar image for a catalogued media file. Only files
// inside the library root are returned.
func (s *Service) Artwork(ctx context.Context, libraryID, mediaID string) (string, error) {
	media, err := s.Resolve(ctx, libraryID, mediaID)
	if err != nil {
		return "", err
	}
	root := s.roots[libraryID].Path
	dir := filepath.Dir(media)
	base := strings.TrimSuffix(filepath.Base(media), filepath.Ext(media))

	candidates := make([]string, 0, len(artworkExt)+len(artworkNames))
	for _, ext := range artworkExt {
		candidates = append(candidates, filepath.Join(dir, base+ext))
	}
	for _, name := range artworkNames {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, c := range candidates {
		p, err := Confine([]string{root}, c)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrPathEscape):
			// A sidecar linked out of the root counts as missing.
			continue
		default:
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoArtwork, libraryID, mediaID)
}

// Scan walks one library and replaces its catalog entries. Callers serialise
// scans of the same library.
func (s *Service) Scan(ctx context.Context, libraryID string) (ScanStats, []Item, error) {
	cfg, ok := s.roots[libraryID]
	if !ok {
		return ScanStats{LibraryID: libraryID, Status: RootStatusFailed}, nil, fmt.Errorf("%w: %s", ErrRootNotFound, libraryID)
	}

	var items []Item
	stats, err := Walk(ctx, cfg, func(it Item) error {
		items = append(items, it)
		return nil
	})
	if err != nil {
		if recErr := s.catalog.RecordFailure(context.WithoutCancel(ctx), stats); recErr != nil {
			log.L().Warn().Err(recErr).Str(log.FieldLibraryID, libraryID).Msg("failed to record scan failure")
		}
		return stats, nil, fmt.Errorf("scan %s: %w", libraryID, err)
	}
	if err := s.catalog.ReplaceItems(ctx, stats, items); err != nil {
		return stats, nil, fmt.Errorf("store scan of %s: %w", libraryID, err)
	}

	log.L().Info().
		Str(log.FieldLibraryID, libraryID).
		Str("status", string(stats.Status)).
		Int("scanned", stats.Scanned).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Dur("duration", stats.Finished.Sub(stats.Started)).
		Str("event", "library.scan_complete").
		Msg("library scan complete")
	return stats, items, nil
}

// Resolve maps a catalogued media id to its absolute path inside the root.
func (s *Service) Resolve(ctx context.Context, libraryID, mediaID string) (string, error) {
	cfg, ok := s.roots[libraryID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrRootNotFound, libraryID)
	}
	if _, err := s.catalog.Item(ctx, libraryID, mediaID); err != nil {
		return "", err
	}
	root, err := filepath.EvalSymlinks(cfg.Path)
	if err != nil {
		return "", fmt.Errorf("resolve library root %s: %w", libraryID, err)
	}
	target, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(mediaID)))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMediaNotFound, mediaID)
	}
	if inside, _ := within(root, target); !inside {
		return "", ErrPathEscape
	}
	return target, nil
}

// Items lists the catalogued items of a library.
func (s *Service) Items(ctx context.Context, libraryID string) ([]Item, error) {
	if _, ok := s.roots[libraryID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, libraryID)
	}
	return s.catalog.Items(ctx, libraryID)
}
