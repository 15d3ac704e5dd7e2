// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"

	"github.com/ManuGH/mediacore/internal/hls"
)

// TranscodeRequest is handed to the Transcoder for one session.
type TranscodeRequest struct {
	SessionID string
	Request   Request
	// OutputDir receives the session's segment files, named {index}.{ext}.
	OutputDir      string
	SegmentSeconds float64
}

// Sink receives a transcode's progress. Append must be called in segment order.
type Sink interface {
	// Start reports the negotiated start offset (keyframe aligned) and output description.
	Start(actualStartSeconds float64, d hls.Descriptor)
	Append(durationSeconds float64)
	Complete()
}

// Transcoder produces segments for a session until ctx is canceled or the
// media ends.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest, sink Sink) error
}

// sink binds progress callbacks to one session entry.
type sink struct {
	m  *Manager
	id string
}

func (s sink) Start(actual float64, d hls.Descriptor) {
	s.m.update(s.id, func(e *entry) {
		e.actualStart = actual
		e.descriptor = d
	})
}

func (s sink) Append(duration float64) {
	s.m.update(s.id, func(e *entry) {
		if len(e.segments) == 0 {
			timeToFirstSegment.Observe(s.m.now().Sub(e.createdAt).Seconds())
		}
		e.segments = append(e.segments, duration)
	})
}

func (s sink) Complete() {
	s.m.update(s.id, func(e *entry) { e.complete = true })
}
