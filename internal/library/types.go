// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package library indexes media files under configured filesystem roots.
package library

import (
	"errors"
	"path"
	"strings"
	"time"
	"unicode"
)

var (
	ErrRootNotFound  = errors.New("library root not found")
	ErrMediaNotFound = errors.New("media not found")
	ErrPathEscape    = errors.New("path escapes library root")
	ErrNoArtwork     = errors.New("no artwork for media")
)

// DefaultExtensions is used when a root configures no extension filter.
var DefaultExtensions = []string{".mkv", ".mp4", ".m4v", ".ts", ".avi", ".mov", ".webm"}

// RootConfig is one configured library.
type RootConfig struct {
	ID         string
	Path       string
	MaxDepth   int
	IncludeExt []string
}

// RootStatus is the outcome of the last scan of a root.
type RootStatus string

const (
	RootStatusNever    RootStatus = "never"
	RootStatusOK       RootStatus = "ok"
	RootStatusDegraded RootStatus = "degraded"
	RootStatusFailed   RootStatus = "failed"
)

// Item is one media file. MediaID is its slash-separated path relative to the root.
type Item struct {
	LibraryID string    `json:"libraryId"`
	MediaID   string    `json:"mediaId"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"sizeBytes"`
	ModTime   time.Time `json:"modTime"`
	ScanTime  time.Time `json:"scanTime"`
}

// ScanStats summarises one root walk.
type ScanStats struct {
	LibraryID string
	Started   time.Time
	Finished  time.Time
	Scanned   int
	Skipped   int
	Errors    int
	Status    RootStatus
}

// TitleFromFilename derives a display title: extension dropped, separators
// turned into spaces, whitespace collapsed.
func TitleFromFilename(name string) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.Map(func(r rune) rune {
		if r == '.' || r == '_' {
			return ' '
		}
		return r
	}, base)
	title := strings.Join(strings.FieldsFunc(base, unicode.IsSpace), " ")
	if title == "" {
		return name
	}
	return title
}
