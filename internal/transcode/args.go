// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/mediacore/internal/hls"
	"github.com/ManuGH/mediacore/internal/session"
)

// playlistName is the playlist ffmpeg writes; clients never see it.
const playlistName = "ffmpeg.m3u8"

// buildArgs renders the ffmpeg command line for one session. Segments are
// named {index}.ts (and {index}.vtt for subtitles) inside dir.
func buildArgs(input, dir string, req session.Request, segSeconds float64) []string {
	seg := strconv.FormatFloat(segSeconds, 'f', 3, 64)
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
	}
	if req.StartOffsetSeconds > 0 {
		// Input seeking lands on the keyframe at or before the offset.
		args = append(args, "-ss", strconv.FormatFloat(req.StartOffsetSeconds, 'f', 3, 64))
	}
	args = append(args,
		"-i", input,
		"-map", trackSpec("v", req.VideoTrack),
		"-map", trackSpec("a", req.AudioTrack),
		"-c:v", "libx264",
		"-preset", "faster",
		"-pix_fmt", "yuv420p",
		"-force_key_frames", "expr:gte(t,n_forced*"+seg+")",
		"-c:a", "aac",
		"-ac", "2",
		"-ar", "48000",
	)
	if req.Normalization != nil {
		args = append(args, "-filter:a", fmt.Sprintf("loudnorm=I=%.1f", *req.Normalization))
	}
	args = append(args,
		"-f", "hls",
		"-hls_time", seg,
		"-hls_list_size", "0",
		"-hls_playlist_type", "event",
		"-hls_flags", "independent_segments+temp_file",
		"-start_number", "0",
		"-hls_segment_filename", filepath.Join(dir, "%d."+hls.MediaExt),
		filepath.Join(dir, playlistName),
	)
	if req.SubtitleTrack != nil {
		args = append(args,
			"-map", "0:s:"+strconv.Itoa(*req.SubtitleTrack),
			"-c:s", "webvtt",
			"-f", "segment",
			"-segment_time", seg,
			"-segment_format", "webvtt",
			filepath.Join(dir, "%d."+hls.SubtitleExt),
		)
	}
	return args
}

// trackSpec selects the requested stream of a kind, defaulting to the first
// one if present.
func trackSpec(kind string, idx *int) string {
	if idx == nil {
		return "0:" + kind + ":0?"
	}
	return "0:" + kind + ":" + strconv.Itoa(*idx)
}
