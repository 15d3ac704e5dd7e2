// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/mediacore/internal/coord"
	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stepTranscoder hands its Sink to the test and blocks until canceled.
type stepTranscoder struct {
	calls    atomic.Int32
	sinks    chan Sink
	canceled chan string
}

func newStepTranscoder() *stepTranscoder {
	return &stepTranscoder{sinks: make(chan Sink, 8), canceled: make(chan string, 8)}
}

func (s *stepTranscoder) Transcode(ctx context.Context, req TranscodeRequest, sink Sink) error {
	s.calls.Add(1)
	s.sinks <- sink
	<-ctx.Done()
	s.canceled <- req.SessionID
	return ctx.Err()
}

type harness struct {
	m     *Manager
	clk   *fakeClock
	tr    *stepTranscoder
	sweep *Sweeper
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	st := coord.NewMemoryStore()
	broker := queue.NewBroker(st, queue.Config{WakeInterval: 20 * time.Millisecond})
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	conf := Config{
		NodeID:      "node-a",
		IdleTimeout: 15 * time.Second,
		Retention:   time.Minute,
		MaxSessions: 4,
		SegmentDir:  t.TempDir(),
		Clock:       clk.Now,
	}
	if mutate != nil {
		mutate(&conf)
	}
	tr := newStepTranscoder()
	m := NewManager(broker, tr, conf)
	require.NoError(t, m.Start(2))
	t.Cleanup(func() {
		m.Close()
		broker.Close()
		_ = st.Close()
	})
	return &harness{m: m, clk: clk, tr: tr, sweep: &Sweeper{Manager: m, Interval: time.Second}}
}

func (h *harness) nextSink(t *testing.T) Sink {
	t.Helper()
	select {
	case s := <-h.tr.sinks:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transcode never started")
		return nil
	}
}

func (h *harness) awaitCancel(t *testing.T, id string) {
	t.Helper()
	select {
	case got := <-h.tr.canceled:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("transcode was not torn down")
	}
}

func validRequest() Request {
	return Request{LibraryID: "movies", MediaID: "a/b.mkv", StartOffsetSeconds: 12.5}
}

func TestCreate_ReturnsPendingWithoutWaiting(t *testing.T) {
	h := newHarness(t, nil)

	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusPending, s.Status)

	h.nextSink(t)
	hb, err := h.m.Heartbeat(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, hb.Status, "no segment yet")
}

func TestCreate_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.m.Create(context.Background(), Request{LibraryID: "movies"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	bad := -1
	req := validRequest()
	req.AudioTrack = &bad
	_, err = h.m.Create(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHeartbeat_PromotesOnFirstSegment(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)

	sink := h.nextSink(t)
	sink.Start(10, hls.Descriptor{Bandwidth: 1_000_000, Codecs: "avc1.640028,mp4a.40.2"})
	sink.Append(6)
	sink.Append(6)

	hb, err := h.m.Heartbeat(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, hb.Status)
	assert.InDelta(t, 10.0, hb.ActualStartOffsetSeconds, 1e-9, "keyframe-aligned start differs from requested 12.5")
	assert.InDelta(t, 12.0, hb.DurationSeconds, 1e-9)
}

func TestHeartbeat_KeepsSessionAliveBeyondIdleTimeout(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	sink := h.nextSink(t)
	sink.Append(6)

	for i := 0; i < 20; i++ {
		h.clk.Advance(time.Second)
		hb, err := h.m.Heartbeat(s.ID)
		require.NoError(t, err)
		assert.NotEqual(t, StatusCanceled, hb.Status)
		evicted, _ := h.sweep.SweepOnce()
		assert.Zero(t, evicted)
	}

	got, err := h.m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, got.Status)
	assert.Equal(t, int32(1), h.tr.calls.Load())
}

func TestSweeper_EvictsSessionWithoutHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	h.clk.Advance(15 * time.Second)
	evicted, _ := h.sweep.SweepOnce()
	assert.Zero(t, evicted, "exactly at the idle timeout the session survives")

	h.clk.Advance(time.Second)
	evicted, _ = h.sweep.SweepOnce()
	assert.Equal(t, 1, evicted)
	h.awaitCancel(t, s.ID)

	got, err := h.m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Equal(t, ReasonIdleTimeout, got.Reason)

	hb, err := h.m.Heartbeat(s.ID)
	require.NoError(t, err, "expiry is a status, not an error")
	assert.Equal(t, StatusCanceled, hb.Status)

	_, err = h.m.Manifest(s.ID, ManifestMedia)
	require.ErrorIs(t, err, ErrCanceled)
}

func TestHeartbeat_LateHeartbeatCancels(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	h.clk.Advance(30 * time.Second)
	hb, err := h.m.Heartbeat(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, hb.Status, "canceled is terminal; a late heartbeat cannot revive it")
	h.awaitCancel(t, s.ID)
}

func TestSweeper_ForgetsAfterRetention(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	h.clk.Advance(16 * time.Second)
	h.sweep.SweepOnce()
	h.clk.Advance(time.Minute)
	_, forgotten := h.sweep.SweepOnce()
	assert.Equal(t, 1, forgotten)

	_, err = h.m.Get(s.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_IdempotentInAnyState(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.m.Delete("never-existed"))

	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	require.NoError(t, h.m.Delete(s.ID))
	h.awaitCancel(t, s.ID)
	require.NoError(t, h.m.Delete(s.ID))

	_, err = h.m.Heartbeat(s.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_BeforeTranscodeStartsSkipsTranscode(t *testing.T) {
	st := coord.NewMemoryStore()
	defer st.Close()
	broker := queue.NewBroker(st, queue.Config{WakeInterval: 20 * time.Millisecond})
	defer broker.Close()
	tr := newStepTranscoder()
	m := NewManager(broker, tr, Config{NodeID: "n", IdleTimeout: time.Minute})

	s, err := m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	require.NoError(t, m.Delete(s.ID))

	require.NoError(t, m.Start(1))
	defer m.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, tr.calls.Load())
}

func TestTranscode_ExactlyOnePerSession(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	_, err = h.m.handleTranscode(context.Background(), transcodeJob{SessionID: s.ID})
	require.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, int32(1), h.tr.calls.Load())
}

func TestCreate_CapacityBound(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxSessions = 2 })

	a, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = h.m.Create(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrCapacity)

	require.NoError(t, h.m.Delete(a.ID))
	_, err = h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestManifest_ObservesOnlyAppendedSegments(t *testing.T) {
	h := newHarness(t, nil)
	req := validRequest()
	sub := 0
	req.SubtitleTrack = &sub
	s, err := h.m.Create(context.Background(), req)
	require.NoError(t, err)
	sink := h.nextSink(t)

	media, err := h.m.Manifest(s.ID, ManifestMedia)
	require.NoError(t, err)
	assert.Equal(t, hls.MediaPlaylist(nil, false), media)

	sink.Start(0, hls.Descriptor{Bandwidth: 800_000, Codecs: "avc1.4d401f,mp4a.40.2"})
	sink.Append(10)
	sink.Append(10)
	sink.Append(4)
	sink.Complete()

	media, err = h.m.Manifest(s.ID, ManifestMedia)
	require.NoError(t, err)
	assert.Equal(t, hls.MediaPlaylist([]float64{10, 10, 4}, true), media)

	subs, err := h.m.Manifest(s.ID, ManifestSubtitle)
	require.NoError(t, err)
	assert.Contains(t, subs, "2.vtt")

	index, err := h.m.Manifest(s.ID, ManifestIndex)
	require.NoError(t, err)
	assert.Contains(t, index, `SUBTITLES="subs"`)
	assert.Contains(t, index, "BANDWIDTH=800000")

	_, err = h.m.SegmentFile(s.ID, "2.ts")
	require.NoError(t, err)
	_, err = h.m.SegmentFile(s.ID, "3.ts")
	require.ErrorIs(t, err, ErrSegmentMissing)
	_, err = h.m.SegmentFile(s.ID, "../x.ts")
	require.ErrorIs(t, err, ErrSegmentMissing)
}

func TestManifest_SubtitlesRequireTrack(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = h.m.Manifest(s.ID, ManifestSubtitle)
	require.ErrorIs(t, err, ErrNoSubtitles)
	_, err = h.m.Manifest("missing", ManifestMedia)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_RemovesSegmentOutput(t *testing.T) {
	h := newHarness(t, nil)
	s, err := h.m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	h.nextSink(t)

	dir := filepath.Join(h.m.conf.SegmentDir, s.ID)
	_, err = os.Stat(dir)
	require.NoError(t, err, "output dir is created before the transcode starts")

	require.NoError(t, h.m.Delete(s.ID))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestClose_StopsTranscodes(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := coord.NewMemoryStore()
	broker := queue.NewBroker(st, queue.Config{WakeInterval: 20 * time.Millisecond})
	tr := newStepTranscoder()
	m := NewManager(broker, tr, Config{NodeID: "n"})
	require.NoError(t, m.Start(1))

	s, err := m.Create(context.Background(), validRequest())
	require.NoError(t, err)
	<-tr.sinks

	m.Close()
	assert.Equal(t, s.ID, <-tr.canceled)
	broker.Close()
	_ = st.Close()
}
