// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	actual    float64
	desc      hls.Descriptor
	durations []float64
	completed int
}

func (s *recordingSink) Start(actual float64, d hls.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actual, s.desc = actual, d
}

func (s *recordingSink) Append(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
}

func (s *recordingSink) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
}

func (s *recordingSink) segments() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.durations)
}

func TestSimulated_FiniteMedia(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	sim := &Simulated{DurationSeconds: 35, KeyframeInterval: 2}
	sub := 1

	err := sim.Transcode(context.Background(), session.TranscodeRequest{
		Request:        session.Request{LibraryID: "l", MediaID: "m", StartOffsetSeconds: 7.5, SubtitleTrack: &sub},
		OutputDir:      dir,
		SegmentSeconds: 10,
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, 6.0, sink.actual, "start aligned down to keyframe")
	assert.Equal(t, []float64{10, 10, 9}, sink.segments())
	assert.Equal(t, 1, sink.completed)
	require.NotNil(t, sink.desc.Subtitles)
	for _, name := range []string{"0.ts", "2.ts", "2.vtt"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "3.ts"))
}

func TestSimulated_OffsetBeyondEnd(t *testing.T) {
	sim := &Simulated{DurationSeconds: 10}
	err := sim.Transcode(context.Background(), session.TranscodeRequest{
		Request: session.Request{StartOffsetSeconds: 12},
	}, &recordingSink{})
	require.Error(t, err)
}

func TestSimulated_EndlessUntilCanceled(t *testing.T) {
	sink := &recordingSink{}
	sim := &Simulated{Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sim.Transcode(ctx, session.TranscodeRequest{SegmentSeconds: 4}, sink) }()
	require.Eventually(t, func() bool { return len(sink.segments()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, sink.completed)
	for _, d := range sink.segments() {
		assert.Equal(t, 4.0, d)
	}
}

func TestBuildArgs(t *testing.T) {
	audio, sub, norm := 1, 0, -16.0
	args := buildArgs("/media/a.mkv", "/out", session.Request{
		AudioTrack:         &audio,
		SubtitleTrack:      &sub,
		StartOffsetSeconds: 30,
		Normalization:      &norm,
	}, 6)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-ss 30.000 -i /media/a.mkv")
	assert.Contains(t, joined, "-map 0:v:0? -map 0:a:1")
	assert.Contains(t, joined, "-filter:a loudnorm=I=-16.0")
	assert.Contains(t, joined, "-hls_segment_filename /out/%d.ts /out/ffmpeg.m3u8")
	assert.Contains(t, joined, "-map 0:s:0 -c:s webvtt")
	assert.True(t, strings.HasSuffix(joined, "/out/%d.vtt"))

	plain := strings.Join(buildArgs("/media/a.mkv", "/out", session.Request{}, 10), " ")
	assert.NotContains(t, plain, "-ss")
	assert.NotContains(t, plain, "webvtt")
	assert.True(t, strings.HasSuffix(plain, "/out/ffmpeg.m3u8"))
}

func TestLineRing(t *testing.T) {
	r := newLineRing(3)
	_, _ = r.Write([]byte("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, r.LastN(5))
	_, _ = r.Write([]byte("c\nd"))
	assert.Equal(t, []string{"b", "c", "d"}, r.LastN(5))
	assert.Equal(t, []string{"d"}, r.LastN(1))
}

type staticResolver string

func (s staticResolver) Resolve(context.Context, string, string) (string, error) {
	return string(s), nil
}

// fakeFFmpeg writes an executable that mimics ffmpeg's playlist output. The
// playlist path is the last argument.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestFFmpeg_FollowsPlaylist(t *testing.T) {
	bin := fakeFFmpeg(t, `
printf '#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.000000,\n0.ts\n' > "$last.tmp" && mv "$last.tmp" "$last"
sleep 0.2
printf '#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.000000,\n0.ts\n#EXTINF:2.500000,\n1.ts\n#EXT-X-ENDLIST\n' > "$last.tmp" && mv "$last.tmp" "$last"
exit 0`)
	sink := &recordingSink{}
	f := &FFmpeg{Bin: bin, Resolver: staticResolver("/media/a.mkv"), PollInterval: 20 * time.Millisecond}

	err := f.Transcode(context.Background(), session.TranscodeRequest{
		SessionID: "s1", OutputDir: t.TempDir(), SegmentSeconds: 6,
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 2.5}, sink.segments())
	assert.Equal(t, 1, sink.completed)
}

func TestFFmpeg_FailureIsReported(t *testing.T) {
	bin := fakeFFmpeg(t, "echo 'Invalid data found when processing input' >&2; exit 1")
	sink := &recordingSink{}
	f := &FFmpeg{Bin: bin, Resolver: staticResolver("/media/a.mkv")}

	err := f.Transcode(context.Background(), session.TranscodeRequest{OutputDir: t.TempDir()}, sink)
	require.Error(t, err)
	assert.Zero(t, sink.completed)
}

func TestFFmpeg_CancelTerminates(t *testing.T) {
	bin := fakeFFmpeg(t, "sleep 30")
	f := &FFmpeg{Bin: bin, Resolver: staticResolver("/media/a.mkv"), KillGrace: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := f.Transcode(ctx, session.TranscodeRequest{OutputDir: t.TempDir()}, &recordingSink{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
