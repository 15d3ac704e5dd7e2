// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session owns the stream sessions of one process: creation,
// client-driven keepalive, idle eviction and manifest rendering. Sessions
// live in memory; a restart forgets them and clients create new ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TranscodeJobPrefix prefixes the node-local transcode-start job type.
const TranscodeJobPrefix = "stream.transcode."

// Config tunes a Manager.
type Config struct {
	NodeID         string
	IdleTimeout    time.Duration
	Retention      time.Duration
	MaxSessions    int
	SegmentSeconds float64
	SegmentDir     string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type transcodeJob struct {
	SessionID string `json:"sessionId"`
}

// Manager tracks sessions and drives their single transcode.
type Manager struct {
	conf       Config
	now        func() time.Time
	transcoder Transcoder
	startQ     *queue.Queue[transcodeJob, queue.Empty]
	logger     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	reg      *queue.Registration
}

// NewManager returns a Manager whose transcode-start jobs travel over broker.
func NewManager(broker *queue.Broker, tr Transcoder, conf Config) *Manager {
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = 15 * time.Second
	}
	if conf.SegmentSeconds <= 0 {
		conf.SegmentSeconds = 6
	}
	return &Manager{
		conf:       conf,
		now:        conf.Clock,
		transcoder: tr,
		startQ:     queue.New[transcodeJob, queue.Empty](broker, TranscodeJobPrefix+conf.NodeID),
		logger:     log.WithComponent("session").With().Str(log.FieldNode, conf.NodeID).Logger(),
		sessions:   make(map[string]*entry),
	}
}

// Start registers the transcode-start consumers. concurrency bounds the
// number of transcodes running at once on this node.
func (m *Manager) Start(concurrency int) error {
	reg, err := m.startQ.Register(m.handleTranscode, concurrency)
	if err != nil {
		return fmt.Errorf("register transcode consumers: %w", err)
	}
	m.mu.Lock()
	m.reg = reg
	m.mu.Unlock()
	return nil
}

// Close cancels every live session and waits for running transcodes.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, e := range m.sessions {
		m.cancelLocked(e, ReasonShutdown)
	}
	reg := m.reg
	m.reg = nil
	m.mu.Unlock()
	if reg != nil {
		reg.Stop()
	}
}

// Create registers a Pending session and enqueues its transcode start. It
// does not wait for the transcode.
func (m *Manager) Create(ctx context.Context, req Request) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}
	now := m.now()
	e := &entry{
		id:            uuid.NewString(),
		req:           req,
		status:        StatusPending,
		createdAt:     now,
		lastHeartbeat: now,
	}

	m.mu.Lock()
	if m.conf.MaxSessions > 0 && m.liveLocked() >= m.conf.MaxSessions {
		m.mu.Unlock()
		return Session{}, ErrCapacity
	}
	m.sessions[e.id] = e
	transition("", StatusPending)
	snap := e.snapshot()
	m.mu.Unlock()

	if _, err := m.startQ.Enqueue(ctx, transcodeJob{SessionID: e.id}); err != nil {
		m.mu.Lock()
		if cur, ok := m.sessions[e.id]; ok {
			delete(m.sessions, e.id)
			transition(cur.status, "")
		}
		m.mu.Unlock()
		return Session{}, fmt.Errorf("start transcode: %w", err)
	}

	m.logger.Info().
		Str(log.FieldSessionID, e.id).
		Str(log.FieldLibraryID, req.LibraryID).
		Str("media_id", req.MediaID).
		Float64("start_offset", req.StartOffsetSeconds).
		Str("event", "session.created").
		Msg("session created")
	return snap, nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns snapshots of all tracked sessions ordered by creation.
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Heartbeat keeps the session alive. A Pending session whose transcode has
// produced a segment becomes Available. A session past its idle window is
// canceled and reported as such; that is a status, not an error.
func (m *Manager) Heartbeat(id string) (HeartbeatResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return HeartbeatResult{}, ErrNotFound
	}
	now := m.now()
	if !e.status.IsTerminal() && now.Sub(e.lastHeartbeat) > m.conf.IdleTimeout {
		m.cancelLocked(e, ReasonIdleTimeout)
	}
	if !e.status.IsTerminal() {
		e.lastHeartbeat = now
		if e.status == StatusPending && len(e.segments) > 0 {
			m.setStatusLocked(e, StatusAvailable)
			m.logger.Info().
				Str(log.FieldSessionID, e.id).
				Float64("actual_start_offset", e.actualStart).
				Str("event", "session.available").
				Msg("session available")
		}
	}
	return HeartbeatResult{
		Status:                   e.status,
		ActualStartOffsetSeconds: e.actualStart,
		DurationSeconds:          e.duration(),
	}, nil
}

// Delete cancels and forgets the session. Unknown ids are not an error.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil
	}
	m.cancelLocked(e, ReasonDeleted)
	delete(m.sessions, id)
	transition(e.status, "")
	m.removeOutput(id)
	return nil
}

// Manifest renders one of the session's playlists from the segments appended so far.
func (m *Manager) Manifest(id string, kind ManifestKind) (string, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return "", ErrNotFound
	}
	if e.status.IsTerminal() {
		m.mu.Unlock()
		return "", ErrCanceled
	}
	segments := append([]float64(nil), e.segments...)
	complete := e.complete
	desc := e.descriptor
	hasSubs := e.req.SubtitleTrack != nil
	m.mu.Unlock()

	switch kind {
	case ManifestMedia:
		return hls.MediaPlaylist(segments, complete), nil
	case ManifestSubtitle:
		if !hasSubs {
			return "", ErrNoSubtitles
		}
		return hls.SubtitlePlaylist(segments, complete), nil
	case ManifestIndex:
		if hasSubs && desc.Subtitles == nil {
			desc.Subtitles = &hls.SubtitleTrack{Name: "Subtitles"}
		}
		return hls.IndexPlaylist(desc), nil
	default:
		return "", fmt.Errorf("unknown manifest kind %q", kind)
	}
}

// SegmentFile resolves a segment file name ({index}.{ext}) to its path. Only
// segments already appended to the session resolve.
func (m *Manager) SegmentFile(id, name string) (string, error) {
	base, ext, ok := strings.Cut(name, ".")
	if !ok || (ext != hls.MediaExt && ext != hls.SubtitleExt) {
		return "", ErrSegmentMissing
	}
	index, err := strconv.Atoi(base)
	if err != nil || index < 0 {
		return "", ErrSegmentMissing
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return "", ErrNotFound
	}
	if e.status.IsTerminal() {
		return "", ErrCanceled
	}
	if index >= len(e.segments) {
		return "", ErrSegmentMissing
	}
	return filepath.Join(m.outputDir(id), name), nil
}

// handleTranscode runs on the node-local transcode queue. It blocks for the
// whole transcode so queue concurrency bounds parallel transcodes.
func (m *Manager) handleTranscode(ctx context.Context, job transcodeJob) (queue.Empty, error) {
	m.mu.Lock()
	e, ok := m.sessions[job.SessionID]
	switch {
	case !ok:
		m.mu.Unlock()
		return queue.Empty{}, ErrNotFound
	case e.status.IsTerminal():
		m.mu.Unlock()
		return queue.Empty{}, ErrCanceled
	case e.started:
		m.mu.Unlock()
		return queue.Empty{}, ErrAlreadyStarted
	}
	tctx, cancel := context.WithCancel(ctx)
	e.started = true
	e.cancel = cancel
	req := TranscodeRequest{
		SessionID:      e.id,
		Request:        e.req,
		OutputDir:      m.outputDir(e.id),
		SegmentSeconds: m.conf.SegmentSeconds,
	}
	m.mu.Unlock()
	defer cancel()

	tctx, span := telemetry.Tracer("github.com/ManuGH/mediacore/internal/session").Start(tctx, "session.transcode",
		trace.WithAttributes(telemetry.SessionAttributes(req.SessionID, req.Request.LibraryID, req.Request.MediaID)...))
	defer span.End()

	logger := log.WithContext(ctx, m.logger).With().Str(log.FieldSessionID, job.SessionID).Logger()
	logger.Info().Str("event", "session.transcode_started").Msg("transcode started")

	if req.OutputDir != "" {
		if err := os.MkdirAll(req.OutputDir, 0o750); err != nil {
			transcodeTotal.WithLabelValues("failed").Inc()
			return queue.Empty{}, fmt.Errorf("create output dir: %w", err)
		}
	}

	err := m.transcoder.Transcode(tctx, req, sink{m: m, id: job.SessionID})
	m.mu.Lock()
	_, kept := m.sessions[job.SessionID]
	m.mu.Unlock()
	if !kept {
		// Deleted or forgotten while the transcoder was still writing.
		m.removeOutput(job.SessionID)
	}
	switch {
	case err == nil:
		transcodeTotal.WithLabelValues("completed").Inc()
		logger.Info().Str("event", "session.transcode_completed").Msg("transcode completed")
		return queue.Empty{}, nil
	case errors.Is(err, context.Canceled) || tctx.Err() != nil:
		transcodeTotal.WithLabelValues("canceled").Inc()
		logger.Info().Str("event", "session.transcode_canceled").Msg("transcode canceled")
		return queue.Empty{}, nil
	default:
		// The session stays as it is; the client observes a stall and gives up.
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcode failed")
		transcodeTotal.WithLabelValues("failed").Inc()
		return queue.Empty{}, fmt.Errorf("transcode %s: %w", job.SessionID, err)
	}
}

func (m *Manager) update(id string, fn func(e *entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok || e.status.IsTerminal() {
		return
	}
	fn(e)
}

func (m *Manager) cancelLocked(e *entry, reason string) {
	if e.status.IsTerminal() {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	old := e.status
	m.setStatusLocked(e, StatusCanceled)
	e.reason = reason
	e.endedAt = m.now()
	sessionEndTotal.WithLabelValues(reason).Inc()
	m.logger.Info().
		Str(log.FieldSessionID, e.id).
		Str(log.FieldOldState, string(old)).
		Str("reason", reason).
		Str("event", "session.canceled").
		Msg("session canceled")
}

func (m *Manager) setStatusLocked(e *entry, to Status) {
	transition(e.status, to)
	e.status = to
}

func (m *Manager) liveLocked() int {
	n := 0
	for _, e := range m.sessions {
		if !e.status.IsTerminal() {
			n++
		}
	}
	return n
}

func (m *Manager) outputDir(id string) string {
	if m.conf.SegmentDir == "" {
		return ""
	}
	return filepath.Join(m.conf.SegmentDir, id)
}

func (m *Manager) removeOutput(id string) {
	dir := m.outputDir(id)
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("failed to remove session output")
	}
}
