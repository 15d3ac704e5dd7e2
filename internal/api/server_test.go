// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/jobs"
	"github.com/ManuGH/mediacore/internal/library"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/ManuGH/mediacore/internal/search"
	"github.com/ManuGH/mediacore/internal/session"
	"github.com/ManuGH/mediacore/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	srv    *httptest.Server
	index  *search.Index
	queues jobs.Queues
}

func newStack(t *testing.T, mutate func(*Config)) *stack {
	t.Helper()
	st := coord.NewMemoryStore()
	broker := queue.NewBroker(st, queue.Config{WakeInterval: 20 * time.Millisecond})
	qs := jobs.NewQueues(broker, "node-a")

	mgr := session.NewManager(broker, &transcode.Simulated{DurationSeconds: 24}, session.Config{
		NodeID:         "node-a",
		SegmentSeconds: 10,
		SegmentDir:     t.TempDir(),
	})
	require.NoError(t, mgr.Start(2))
	_, err := qs.Stream.Register((&jobs.StreamHandler{Sessions: mgr, NodeID: "node-a"}).Handle, 2)
	require.NoError(t, err)

	idx := search.NewIndex(search.NewMemoryStore())
	_, err = qs.Search.Register((&jobs.SearchHandler{Index: idx}).Handle, 1)
	require.NoError(t, err)

	conf := Config{
		NodeID:        "node-a",
		Sessions:      mgr,
		Queues:        qs,
		SubmitTimeout: 2 * time.Second,
		Health:        st.Ping,
	}
	if mutate != nil {
		mutate(&conf)
	}
	srv := httptest.NewServer(New(conf).Handler())
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
		broker.Close()
		_ = st.Close()
	})
	return &stack{srv: srv, index: idx, queues: qs}
}

func (s *stack) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestStreamLifecycle(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/streams", session.Request{LibraryID: "movies", MediaID: "a.mkv", StartOffsetSeconds: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created createStreamResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, session.StatusPending, created.Status)
	assert.Equal(t, "node-a", created.Node)
	base := "/api/v1/streams/" + created.ID

	var hb session.HeartbeatResult
	require.Eventually(t, func() bool {
		resp, body := s.do(t, http.MethodPost, base+"/heartbeat", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(body, &hb)
		return hb.Status == session.StatusAvailable && hb.DurationSeconds == 22
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2.0, hb.ActualStartOffsetSeconds)

	resp, body = s.do(t, http.MethodGet, base+"/media.m3u8", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "#EXTINF:10.000000,\n0.ts")
	assert.True(t, strings.HasSuffix(string(body), "#EXT-X-ENDLIST\n"))

	resp, body = s.do(t, http.MethodGet, base+"/index.m3u8", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "media.m3u8")

	resp, _ = s.do(t, http.MethodGet, base+"/subtitles.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, base+"/1.ts", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, base+"/7.ts", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")

	resp, body = s.do(t, http.MethodPost, base+"/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "not_found", eb.Error)
}

func TestCreateStream_Validation(t *testing.T) {
	s := newStack(t, nil)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/streams", map[string]any{"mediaId": "a.mkv"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/streams", map[string]any{"libraryId": "m", "mediaId": "a", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateStream_RateLimited(t *testing.T) {
	s := newStack(t, func(c *Config) { c.CreateRateLimit = 2 })
	req := session.Request{LibraryID: "movies", MediaID: "a.mkv"}

	for range 2 {
		resp, _ := s.do(t, http.MethodPost, "/api/v1/streams", req)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, body := s.do(t, http.MethodPost, "/api/v1/streams", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Contains(t, string(body), "rate_limit_exceeded")
}

func TestSubmitTimeoutMapsToGatewayTimeout(t *testing.T) {
	st := coord.NewMemoryStore()
	defer st.Close()
	broker := queue.NewBroker(st, queue.Config{WakeInterval: 20 * time.Millisecond})
	defer broker.Close()
	srv := httptest.NewServer(New(Config{Queues: jobs.NewQueues(broker, "node-a"), SubmitTimeout: 50 * time.Millisecond}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/streams", "application/json",
		strings.NewReader(`{"libraryId":"movies","mediaId":"a.mkv"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	s := newStack(t, nil)
	require.NoError(t, s.index.Put(context.Background(), "movies", []search.Document{
		{Type: "media", ID: "movies/heat.mp4", Title: "Heat"},
		{Type: "media", ID: "movies/alien.mkv", Title: "Alien"},
	}))

	resp, body := s.do(t, http.MethodGet, "/api/v1/search?q=HEAT", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out jobs.SearchResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, "movies/heat.mp4", out.Results[0].ID)

	_, body = s.do(t, http.MethodGet, "/api/v1/search?q=", nil)
	assert.JSONEq(t, `{"results":[]}`, string(body))
}

func TestScanAndRefreshAreQueued(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/libraries/movies/scan", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var acc acceptedResponse
	require.NoError(t, json.Unmarshal(body, &acc))
	assert.NotEmpty(t, acc.CorrelationID)

	got := make(chan jobs.ScanRequest, 1)
	_, err := s.queues.Scan.Register(func(_ context.Context, req jobs.ScanRequest) (jobs.ScanResult, error) {
		got <- req
		return jobs.ScanResult{LibraryID: req.LibraryID}, nil
	}, 1)
	require.NoError(t, err)
	select {
	case req := <-got:
		assert.Equal(t, "movies", req.LibraryID)
	case <-time.After(2 * time.Second):
		t.Fatal("scan job never delivered")
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/schedules/refresh", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t, nil)

	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","node":"node-a"}`, string(body))

	resp, body = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mediacore_http_request_duration_seconds")
}

type fixedArtwork string

func (f fixedArtwork) Artwork(context.Context, string, string) (string, error) { return string(f), nil }

func TestArtwork_ResolvedOnServer(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.mkv"), []byte("media"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.jpg"), []byte("poster"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.mkv"), []byte("media"), 0o644))

	cat, err := library.OpenCatalog(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	lib := library.NewService([]library.RootConfig{{ID: "movies", Path: root}}, cat)
	_, _, err = lib.Scan(context.Background(), "movies")
	require.NoError(t, err)

	s := newStack(t, func(c *Config) { c.Artwork = lib })
	images, err := jobs.NewImageFetcher(jobs.ImageFetcherConfig{CacheDir: t.TempDir(), RatePerSec: 100, Burst: 10, LocalRoots: lib.RootPaths()})
	require.NoError(t, err)
	_, err = s.queues.Image.Register(images.Handle, 1)
	require.NoError(t, err)

	resp, body := s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork?media=a.mkv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "poster", string(body))

	resp, body = s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork?media=a.mkv&location=/etc/passwd", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "poster", string(body), "client supplied location is ignored")

	resp, _ = s.do(t, http.MethodGet, "/api/v1/images/a?location=/etc/passwd", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork?media=b.mkv", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork?media=../../etc/passwd", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/libraries/shows/artwork?media=a.mkv", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArtwork_OutsideRootsNeverServed(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.jpg")
	require.NoError(t, os.WriteFile(secret, []byte("token"), 0o600))

	s := newStack(t, func(c *Config) {
		c.Artwork = fixedArtwork(secret)
		c.SubmitTimeout = 300 * time.Millisecond
	})
	images, err := jobs.NewImageFetcher(jobs.ImageFetcherConfig{CacheDir: t.TempDir(), RatePerSec: 100, Burst: 10, LocalRoots: []string{root}})
	require.NoError(t, err)
	_, err = s.queues.Image.Register(images.Handle, 1)
	require.NoError(t, err)

	// The fetcher drops the job, so the caller only sees its wait expire.
	resp, body := s.do(t, http.MethodGet, "/api/v1/libraries/movies/artwork?media=a.mkv", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.NotContains(t, string(body), "token")
	assert.NotContains(t, string(body), secret)
}
