// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
)

// Status is the client-visible lifecycle of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return s == StatusCanceled }

// Reasons recorded when a session is canceled.
const (
	ReasonIdleTimeout = "idle_timeout"
	ReasonDeleted     = "deleted"
	ReasonShutdown    = "shutdown"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrCanceled       = errors.New("session canceled")
	ErrCapacity       = errors.New("session capacity reached")
	ErrInvalidRequest = errors.New("invalid stream request")
	ErrNoSubtitles    = errors.New("session has no subtitle track")
	ErrAlreadyStarted = errors.New("session transcode already started")
	ErrSegmentMissing = errors.New("segment not available")
)

// Request selects the media and tracks to stream. It is also the
// stream.create job payload.
type Request struct {
	LibraryID          string   `json:"libraryId"`
	MediaID            string   `json:"mediaId"`
	AudioTrack         *int     `json:"audioTrack,omitempty"`
	VideoTrack         *int     `json:"videoTrack,omitempty"`
	SubtitleTrack      *int     `json:"subtitleTrack,omitempty"`
	StartOffsetSeconds float64  `json:"startOffsetSeconds"`
	Normalization      *float64 `json:"normalization,omitempty"`
}

// Validate rejects requests that cannot be transcoded.
func (r Request) Validate() error {
	switch {
	case r.LibraryID == "":
		return errors.Join(ErrInvalidRequest, errors.New("libraryId is required"))
	case r.MediaID == "":
		return errors.Join(ErrInvalidRequest, errors.New("mediaId is required"))
	case r.StartOffsetSeconds < 0:
		return errors.Join(ErrInvalidRequest, errors.New("startOffsetSeconds must not be negative"))
	}
	for _, t := range []*int{r.AudioTrack, r.VideoTrack, r.SubtitleTrack} {
		if t != nil && *t < 0 {
			return errors.Join(ErrInvalidRequest, errors.New("track index must not be negative"))
		}
	}
	return nil
}

// Session is a point-in-time snapshot.
type Session struct {
	ID                       string
	Request                  Request
	Status                   Status
	Reason                   string
	CreatedAt                time.Time
	LastHeartbeat            time.Time
	ActualStartOffsetSeconds float64
	DurationSeconds          float64
	Segments                 int
	Complete                 bool
	Descriptor               hls.Descriptor
}

// HeartbeatResult is returned to the client on every keepalive.
type HeartbeatResult struct {
	Status                   Status  `json:"status"`
	ActualStartOffsetSeconds float64 `json:"actualStartOffsetSeconds"`
	DurationSeconds          float64 `json:"durationSeconds"`
}

// ManifestKind names one of the three playlists of a session.
type ManifestKind string

const (
	ManifestIndex    ManifestKind = "index"
	ManifestMedia    ManifestKind = "media"
	ManifestSubtitle ManifestKind = "subtitle"
)

// entry is the manager-owned mutable session state, guarded by Manager.mu.
type entry struct {
	id            string
	req           Request
	status        Status
	reason        string
	createdAt     time.Time
	lastHeartbeat time.Time
	endedAt       time.Time

	started     bool
	cancel      func()
	actualStart float64
	descriptor  hls.Descriptor
	segments    []float64
	complete    bool
}

func (e *entry) duration() float64 {
	total := 0.0
	for _, d := range e.segments {
		total += d
	}
	return total
}

func (e *entry) snapshot() Session {
	return Session{
		ID:                       e.id,
		Request:                  e.req,
		Status:                   e.status,
		Reason:                   e.reason,
		CreatedAt:                e.createdAt,
		LastHeartbeat:            e.lastHeartbeat,
		ActualStartOffsetSeconds: e.actualStart,
		DurationSeconds:          e.duration(),
		Segments:                 len(e.segments),
		Complete:                 e.complete,
		Descriptor:               e.descriptor,
	}
}
