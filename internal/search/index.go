// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package search is a small in-memory full-text index over library items.
// Documents are persisted per library so a restarted node can Rebuild.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/log"
)

// DefaultLimit caps results when the caller passes no limit.
const DefaultLimit = 20

// Document is one searchable entry.
type Document struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	LibraryID   string `json:"libraryId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Result is one ranked hit. Score is in (0, 1].
type Result struct {
	Type        string  `json:"type"`
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type indexed struct {
	doc   Document
	title []string
	desc  []string
}

// Index serves queries from memory and writes through to a DocumentStore.
type Index struct {
	store DocumentStore

	mu   sync.RWMutex
	libs map[string][]indexed
}

func NewIndex(store DocumentStore) *Index {
	return &Index{store: store, libs: make(map[string][]indexed)}
}

// DocumentsFromItems turns scanned items into media documents.
func DocumentsFromItems(items []library.Item) []Document {
	docs := make([]Document, 0, len(items))
	for _, it := range items {
		docs = append(docs, Document{
			Type:        "media",
			ID:          it.LibraryID + "/" + it.MediaID,
			LibraryID:   it.LibraryID,
			Title:       it.Title,
			Description: fmt.Sprintf("%s (%s)", it.MediaID, it.LibraryID),
		})
	}
	return docs
}

// Put replaces a library's documents.
func (x *Index) Put(ctx context.Context, libraryID string, docs []Document) error {
	if err := x.store.PutLibrary(ctx, libraryID, docs); err != nil {
		return fmt.Errorf("persist library %s: %w", libraryID, err)
	}
	entries := analyze(docs)
	x.mu.Lock()
	x.libs[libraryID] = entries
	x.mu.Unlock()
	return nil
}

// Rebuild reloads everything from the store.
func (x *Index) Rebuild(ctx context.Context) error {
	all, err := x.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load search documents: %w", err)
	}
	libs := make(map[string][]indexed, len(all))
	total := 0
	for lib, docs := range all {
		libs[lib] = analyze(docs)
		total += len(docs)
	}
	x.mu.Lock()
	x.libs = libs
	x.mu.Unlock()
	log.L().Info().Int("libraries", len(libs)).Int("documents", total).Str("event", "search.rebuilt").Msg("search index rebuilt")
	return nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, docs := range x.libs {
		n += len(docs)
	}
	return n
}

// Search ranks documents by the share of query terms they match; a title
// match weighs twice a description match. Ties are ordered by id.
func (x *Index) Search(text string, limit int) []Result {
	terms := uniqueTokens(text)
	if len(terms) == 0 {
		return []Result{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	maxScore := float64(2 * len(terms))

	x.mu.RLock()
	var out []Result
	for _, docs := range x.libs {
		for _, d := range docs {
			score := 0
			for _, term := range terms {
				switch {
				case matches(d.title, term):
					score += 2
				case matches(d.desc, term):
					score++
				}
			}
			if score == 0 {
				continue
			}
			out = append(out, Result{
				Type:        d.doc.Type,
				ID:          d.doc.ID,
				Title:       d.doc.Title,
				Description: d.doc.Description,
				Score:       float64(score) / maxScore,
			})
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Result{}
	}
	return out
}

func analyze(docs []Document) []indexed {
	out := make([]indexed, 0, len(docs))
	for _, d := range docs {
		out = append(out, indexed{doc: d, title: uniqueTokens(d.Title), desc: uniqueTokens(d.Description)})
	}
	return out
}

// matches reports a token equal to or starting with term.
func matches(tokens []string, term string) bool {
	for _, t := range tokens {
		if strings.HasPrefix(t, term) {
			return true
		}
	}
	return false
}
