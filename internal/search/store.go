// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// DocumentStore persists the documents the in-memory index is rebuilt from.
type DocumentStore interface {
	// PutLibrary replaces every document of a library.
	PutLibrary(ctx context.Context, libraryID string, docs []Document) error
	LoadAll(ctx context.Context) (map[string][]Document, error)
	Close() error
}

const docPrefix = "doc:"

func libraryPrefix(libraryID string) []byte {
	return []byte(docPrefix + libraryID + ":")
}

// BadgerStore keeps documents under "doc:<library>:<id>" as JSON.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open search index %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) PutLibrary(ctx context.Context, libraryID string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix(libraryPrefix(libraryID)); err != nil {
		return fmt.Errorf("drop library %s: %w", libraryID, err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, d := range docs {
		buf, err := json.Marshal(d)
		if err != nil {
			return err
		}
		key := append(libraryPrefix(libraryID), d.ID...)
		if err := wb.Set(key, buf); err != nil {
			return fmt.Errorf("write %s: %w", d.ID, err)
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) LoadAll(ctx context.Context) (map[string][]Document, error) {
	out := make(map[string][]Document)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			rest := bytes.TrimPrefix(key, []byte(docPrefix))
			lib, _, ok := strings.Cut(string(rest), ":")
			if !ok {
				continue
			}
			var d Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out[lib] = append(out[lib], d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MemoryStore is a DocumentStore for tests and index-less runs.
type MemoryStore struct {
	mu   sync.Mutex
	libs map[string][]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{libs: make(map[string][]Document)}
}

func (s *MemoryStore) PutLibrary(_ context.Context, libraryID string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libs[libraryID] = append([]Document(nil), docs...)
	return nil
}

func (s *MemoryStore) LoadAll(context.Context) (map[string][]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Document, len(s.libs))
	for k, v := range s.libs {
		out[k] = append([]Document(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
