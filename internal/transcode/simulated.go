// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode provides the session transcoders: Simulated for virtual
// mode and tests, FFmpeg for real media.
package transcode

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/session"
)

// DefaultDescriptor describes the H.264/AAC output both transcoders produce.
var DefaultDescriptor = hls.Descriptor{
	MimeType:  "video/mp2t",
	Codecs:    "avc1.640028,mp4a.40.2",
	Bandwidth: 5_000_000,
}

// Simulated emits fixed-length segments without touching any media.
type Simulated struct {
	// KeyframeInterval aligns the start offset down to a keyframe (default 2s).
	KeyframeInterval float64
	// DurationSeconds is the media length; 0 streams until canceled.
	DurationSeconds float64
	// Interval paces segment production; 0 emits as fast as possible.
	Interval time.Duration
}

func (s *Simulated) Transcode(ctx context.Context, req session.TranscodeRequest, sink session.Sink) error {
	seg := req.SegmentSeconds
	if seg <= 0 {
		seg = hls.DefaultTargetDuration
	}
	kf := s.KeyframeInterval
	if kf <= 0 {
		kf = 2
	}
	actual := math.Floor(req.Request.StartOffsetSeconds/kf) * kf
	if s.DurationSeconds > 0 && actual >= s.DurationSeconds {
		return fmt.Errorf("start offset %.3f beyond media duration %.3f", actual, s.DurationSeconds)
	}
	desc := DefaultDescriptor
	if req.Request.SubtitleTrack != nil {
		desc.Subtitles = &hls.SubtitleTrack{Name: "Track " + strconv.Itoa(*req.Request.SubtitleTrack), Language: "und"}
	}
	sink.Start(actual, desc)

	var ticker *time.Ticker
	if s.Interval > 0 {
		ticker = time.NewTicker(s.Interval)
		defer ticker.Stop()
	}
	pos := actual
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := seg
		if s.DurationSeconds > 0 {
			if pos >= s.DurationSeconds {
				sink.Complete()
				return nil
			}
			d = math.Min(seg, s.DurationSeconds-pos)
		}
		if err := writePlaceholders(req.OutputDir, i, desc.Subtitles != nil); err != nil {
			return err
		}
		sink.Append(d)
		pos += d

		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}

func writePlaceholders(dir string, index int, subtitles bool) error {
	if dir == "" {
		return nil
	}
	name := strconv.Itoa(index) + "." + hls.MediaExt
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o640); err != nil {
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	if subtitles {
		name = strconv.Itoa(index) + "." + hls.SubtitleExt
		if err := os.WriteFile(filepath.Join(dir, name), []byte("WEBVTT\n"), 0o640); err != nil {
			return fmt.Errorf("write segment %s: %w", name, err)
		}
	}
	return nil
}
