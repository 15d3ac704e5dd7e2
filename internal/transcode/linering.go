// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"strings"
	"sync"
)

// lineRing keeps the last lines of a child's stderr for failure logs.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	head  int
	full  bool
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &lineRing{lines: make([]string, capacity)}
}

// Write stores each non-empty line of p. Partial lines are stored as-is.
func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % len(r.lines)
		if r.head == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// LastN returns up to n lines, oldest first.
func (r *lineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ordered []string
	if r.full {
		ordered = append(ordered, r.lines[r.head:]...)
	}
	ordered = append(ordered, r.lines[:r.head]...)
	if n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
