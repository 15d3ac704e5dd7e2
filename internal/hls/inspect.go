// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Summary is the timeline metadata read back from a segment playlist.
type Summary struct {
	TargetDuration int
	URIs           []string
	Durations      []float64
	TotalDuration  time.Duration
	Ended          bool
}

// Inspect parses a segment playlist and checks the grammar players rely on:
// header first, every URI preceded by EXTINF, no segment longer than the
// (rounded) target duration.
func Inspect(playlist string) (*Summary, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	sum := &Summary{TargetDuration: -1}

	var (
		first   = true
		pending = -1.0
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("missing #EXTM3U header, got %q", line)
			}
			first = false
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid target duration: %s", line)
			}
			sum.TargetDuration = v
		case line == "#EXT-X-ENDLIST":
			sum.Ended = true
		case strings.HasPrefix(line, "#EXTINF:"):
			part := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(part, ","); idx != -1 {
				part = part[:idx]
			}
			secs, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", part)
			}
			pending = secs
		case strings.HasPrefix(line, "#"):
		default:
			if pending < 0 {
				return nil, fmt.Errorf("segment %q without EXTINF", line)
			}
			if sum.Ended {
				return nil, fmt.Errorf("segment %q after ENDLIST", line)
			}
			sum.URIs = append(sum.URIs, line)
			sum.Durations = append(sum.Durations, pending)
			sum.TotalDuration += time.Duration(pending * float64(time.Second))
			pending = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, fmt.Errorf("empty playlist")
	}
	if sum.TargetDuration < 0 {
		return nil, fmt.Errorf("missing #EXT-X-TARGETDURATION")
	}
	for i, d := range sum.Durations {
		if int(d+0.5) > sum.TargetDuration {
			return nil, fmt.Errorf("segment %d duration %.3f exceeds target %d", i, d, sum.TargetDuration)
		}
	}
	return sum, nil
}
