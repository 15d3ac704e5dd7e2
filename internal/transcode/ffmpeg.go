// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/log"
	"github.com/ManuGH/mediacore/internal/procgroup"
	"github.com/ManuGH/mediacore/internal/session"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacore_ffmpeg_exit_total",
	Help: "ffmpeg process exits by reason",
}, []string{"reason"})

// Resolver maps a library media id to a file ffmpeg can read.
type Resolver interface {
	Resolve(ctx context.Context, libraryID, mediaID string) (string, error)
}

// FFmpeg transcodes library media to HLS with an ffmpeg child process and
// reports every segment ffmpeg finishes.
type FFmpeg struct {
	Bin      string
	Resolver Resolver
	// KillGrace is how long ffmpeg gets to exit after SIGTERM.
	KillGrace time.Duration
	// PollInterval re-reads the playlist in case a watch event was missed.
	PollInterval time.Duration
}

func (f *FFmpeg) Transcode(ctx context.Context, req session.TranscodeRequest, sink session.Sink) error {
	if req.OutputDir == "" {
		return errors.New("ffmpeg transcode needs an output directory")
	}
	input, err := f.Resolver.Resolve(ctx, req.Request.LibraryID, req.Request.MediaID)
	if err != nil {
		return fmt.Errorf("resolve media: %w", err)
	}
	seg := req.SegmentSeconds
	if seg <= 0 {
		seg = hls.DefaultTargetDuration
	}
	bin := f.Bin
	if bin == "" {
		bin = "ffmpeg"
	}
	grace := f.KillGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	poll := f.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	logger := log.WithContext(ctx, log.WithComponent("ffmpeg")).With().Str(log.FieldSessionID, req.SessionID).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create playlist watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(req.OutputDir); err != nil {
		return fmt.Errorf("watch output dir: %w", err)
	}

	cmd := exec.Command(bin, buildArgs(input, req.OutputDir, req.Request, seg)...) // #nosec G204
	procgroup.Set(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("capture ffmpeg stderr: %w", err)
	}
	ring := newLineRing(64)

	desc := DefaultDescriptor
	if req.Request.SubtitleTrack != nil {
		desc.Subtitles = &hls.SubtitleTrack{Name: "Track " + strconv.Itoa(*req.Request.SubtitleTrack), Language: "und"}
	}
	logger.Info().Str("command", cmd.String()).Str("event", "ffmpeg.start").Msg("starting ffmpeg")
	if err := cmd.Start(); err != nil {
		exitTotal.WithLabelValues("start_failed").Inc()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	sink.Start(req.Request.StartOffsetSeconds, desc)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			_, _ = ring.Write(sc.Bytes())
		}
	}()
	waitCh := make(chan error, 1)
	go func() {
		<-stderrDone
		waitCh <- cmd.Wait()
	}()

	fw := &follower{path: filepath.Join(req.OutputDir, playlistName), sink: sink}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = procgroup.Terminate(cmd, waitCh, grace)
			exitTotal.WithLabelValues("canceled").Inc()
			return ctx.Err()

		case err := <-waitCh:
			fw.sync()
			if err != nil {
				exitTotal.WithLabelValues("error").Inc()
				logger.Error().Err(err).Strs("stderr", ring.LastN(20)).Str("event", "ffmpeg.failed").Msg("ffmpeg failed")
				return fmt.Errorf("ffmpeg: %w", err)
			}
			exitTotal.WithLabelValues("clean").Inc()
			fw.complete()
			return nil

		case ev, ok := <-watcher.Events:
			if ok && filepath.Base(ev.Name) == playlistName && ev.Op.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				fw.sync()
			}

		case err, ok := <-watcher.Errors:
			if ok {
				logger.Warn().Err(err).Msg("playlist watch error")
			}

		case <-ticker.C:
			fw.sync()
		}
	}
}

// follower appends the segments ffmpeg lists in its playlist that the sink
// has not seen yet.
type follower struct {
	path     string
	sink     session.Sink
	appended int
	done     bool
}

func (fw *follower) sync() {
	raw, err := os.ReadFile(fw.path)
	if err != nil {
		return
	}
	sum, err := hls.Inspect(string(raw))
	if err != nil {
		// ffmpeg replaces the file atomically; a bad read is retried on the next event.
		return
	}
	for _, d := range sum.Durations[min(fw.appended, len(sum.Durations)):] {
		fw.sink.Append(d)
		fw.appended++
	}
	if sum.Ended {
		fw.complete()
	}
}

func (fw *follower) complete() {
	if fw.done {
		return
	}
	fw.done = true
	fw.sink.Complete()
}
