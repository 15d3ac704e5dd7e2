// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP control surface for stream sessions, search,
// library scans and schedule refreshes.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/search"
	"github.com/ManuGH/mediacore/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Sessions is the node-local session manager.
type Sessions interface {
	Get(id string) (session.Session, error)
	Heartbeat(id string) (session.HeartbeatResult, error)
	Delete(id string) error
	Manifest(id string, kind session.ManifestKind) (string, error)
	SegmentFile(id, name string) (string, error)
}

// Artwork resolves a catalogued media file to its sidecar image on disk.
type Artwork interface {
	Artwork(ctx context.Context, libraryID, mediaID string) (string, error)
}

// Config wires the server to its collaborators.
type Config struct {
	NodeID   string
	Sessions Sessions
	Queues   jobs.Queues
	// Artwork is optional; without it artwork requests answer 404.
	Artwork Artwork
	// SubmitTimeout bounds how long a request waits for a queued job's result.
	SubmitTimeout time.Duration
	// CreateRateLimit requests per RateWindow per client IP on stream creation.
	CreateRateLimit int
	RateWindow      time.Duration
	// TracingService enables otelhttp spans when set.
	TracingService string
	// Health reports whether the coordination store is reachable.
	Health func(ctx context.Context) error
}

type Server struct {
	conf Config
}

func New(conf Config) *Server {
	if conf.SubmitTimeout <= 0 {
		conf.SubmitTimeout = 10 * time.Second
	}
	if conf.CreateRateLimit <= 0 {
		conf.CreateRateLimit = 30
	}
	if conf.RateWindow <= 0 {
		conf.RateWindow = time.Minute
	}
	return &Server{conf: conf}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(rateLimit(s.conf.CreateRateLimit, s.conf.RateWindow)).Post("/streams", s.handleCreateStream)
		r.Get("/streams/{id}", s.handleGetStream)
		r.Post("/streams/{id}/heartbeat", s.handleHeartbeat)
		r.Delete("/streams/{id}", s.handleDeleteStream)
		r.Get("/streams/{id}/{file}", s.handleStreamFile)

		r.Get("/search", s.handleSearch)
		r.Get("/libraries/{id}/artwork", s.handleArtwork)
		r.Post("/libraries/{id}/scan", s.handleScan)
		r.Post("/schedules/refresh", s.handleRefresh)
	})

	if s.conf.TracingService != "" {
		return tracing(s.conf.TracingService)(r)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.conf.Health != nil {
		if err := s.conf.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": s.conf.NodeID})
}

type createStreamResponse struct {
	ID     string         `json:"id"`
	Status session.Status `json:"status"`
	Node   string         `json:"node,omitempty"`
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req jobs.StreamCreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.conf.Queues.Stream.Submit(r.Context(), req, s.conf.SubmitTimeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	log.FromContext(r.Context()).Info().
		Str(log.FieldSessionID, res.SessionID).
		Str(log.FieldNode, res.Node).
		Str("event", "api.stream_created").
		Msg("stream session created")
	writeJSON(w, http.StatusCreated, createStreamResponse{ID: res.SessionID, Status: res.Status, Node: res.Node})
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.conf.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                       sess.ID,
		"status":                   sess.Status,
		"reason":                   sess.Reason,
		"actualStartOffsetSeconds": sess.ActualStartOffsetSeconds,
		"durationSeconds":          sess.DurationSeconds,
		"segments":                 sess.Segments,
		"complete":                 sess.Complete,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	res, err := s.conf.Sessions.Heartbeat(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	if err := s.conf.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var manifestKinds = map[string]session.ManifestKind{
	hls.IndexName:    session.ManifestIndex,
	hls.MediaName:    session.ManifestMedia,
	hls.SubtitleName: session.ManifestSubtitle,
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	id, file := chi.URLParam(r, "id"), chi.URLParam(r, "file")
	if kind, ok := manifestKinds[file]; ok {
		text, err := s.conf.Sessions.Manifest(id, kind)
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(text))
		return
	}

	path, err := s.conf.Sessions.SegmentFile(id, file)
	if err != nil {
		writeErr(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	res, err := s.conf.Queues.Search.Submit(r.Context(), jobs.SearchRequest{
		Text:  r.URL.Query().Get("q"),
		Limit: limit,
	}, s.conf.SubmitTimeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	if res.Results == nil {
		res.Results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleArtwork serves the sidecar image of a media item. The image location
// is resolved on this node from the catalog; clients only name the item.
func (s *Server) handleArtwork(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "id")
	mediaID := r.URL.Query().Get("media")
	if mediaID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "media is required")
		return
	}
	if s.conf.Artwork == nil {
		writeError(w, http.StatusNotFound, "not_found", "artwork is not served by this node")
		return
	}
	location, err := s.conf.Artwork.Artwork(r.Context(), libraryID, mediaID)
	if err != nil {
		writeErr(w, err)
		return
	}
	res, err := s.conf.Queues.Image.Submit(r.Context(), jobs.ImageFetchRequest{
		ImageID:  artworkID(libraryID, mediaID),
		Location: location,
	}, s.conf.SubmitTimeout)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(res.Data)
}

func artworkID(libraryID, mediaID string) string {
	sum := sha256.Sum256([]byte(libraryID + "\x00" + mediaID))
	return "art-" + hex.EncodeToString(sum[:12])
}

type acceptedResponse struct {
	CorrelationID string `json:"correlationId"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("wait") == "true" {
		res, err := s.conf.Queues.Scan.Submit(r.Context(), jobs.ScanRequest{LibraryID: id}, s.conf.SubmitTimeout)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	corr, err := s.conf.Queues.Scan.Enqueue(r.Context(), jobs.ScanRequest{LibraryID: id})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{CorrelationID: corr})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	corr, err := s.conf.Queues.Refresh.Enqueue(r.Context(), queue.Empty{})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{CorrelationID: corr})
}

// Serve runs an http.Server on addr until ctx ends, then shuts it down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Str("event", "api.listening").Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
