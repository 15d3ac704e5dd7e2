// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls renders the playlists served for a stream session. Rendering is
// pure: identical inputs always yield byte-identical text.
package hls

import (
	"math"
	"strconv"
	"strings"
)

// DefaultTargetDuration is advertised while a playlist has no segments yet.
const DefaultTargetDuration = 10

const (
	IndexName    = "index.m3u8"
	MediaName    = "media.m3u8"
	SubtitleName = "subtitles.m3u8"

	MediaExt    = "ts"
	SubtitleExt = "vtt"

	subtitleGroup = "subs"
)

// Descriptor is what the index playlist advertises about a session's output.
type Descriptor struct {
	MimeType  string
	Codecs    string
	Bandwidth int
	// Subtitles adds the subtitle rendition block when set.
	Subtitles *SubtitleTrack
}

type SubtitleTrack struct {
	Name     string
	Language string
}

// MediaPlaylist renders the media segment playlist.
func MediaPlaylist(durations []float64, complete bool) string {
	return segmentPlaylist(durations, complete, MediaExt)
}

// SubtitlePlaylist renders the subtitle cue playlist. Cue files share the
// media segment timeline.
func SubtitlePlaylist(durations []float64, complete bool) string {
	return segmentPlaylist(durations, complete, SubtitleExt)
}

// TargetDuration is ceil(max(durations)), or DefaultTargetDuration for an empty list.
func TargetDuration(durations []float64) int {
	if len(durations) == 0 {
		return DefaultTargetDuration
	}
	longest := 0.0
	for _, d := range durations {
		if d > longest {
			longest = d
		}
	}
	target := int(math.Ceil(longest))
	if target < 1 {
		target = 1
	}
	return target
}

func segmentPlaylist(durations []float64, complete bool, ext string) string {
	var b strings.Builder
	b.Grow(128 + len(durations)*32)

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-TARGETDURATION:")
	b.WriteString(strconv.Itoa(TargetDuration(durations)))
	b.WriteString("\n#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")

	for i, d := range durations {
		b.WriteString("#EXTINF:")
		b.WriteString(strconv.FormatFloat(d, 'f', 6, 64))
		b.WriteString(",\n")
		b.WriteString(strconv.Itoa(i))
		b.WriteByte('.')
		b.WriteString(ext)
		b.WriteByte('\n')
	}

	if complete {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// IndexPlaylist renders the top-level playlist pointing at MediaName.
func IndexPlaylist(d Descriptor) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if d.Subtitles != nil {
		name := d.Subtitles.Name
		if name == "" {
			name = "Subtitles"
		}
		b.WriteString(`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="` + subtitleGroup + `",NAME=`)
		b.WriteString(strconv.Quote(name))
		if d.Subtitles.Language != "" {
			b.WriteString(",LANGUAGE=")
			b.WriteString(strconv.Quote(d.Subtitles.Language))
		}
		b.WriteString(`,DEFAULT=NO,AUTOSELECT=YES,URI="` + SubtitleName + "\"\n")
	}

	b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=")
	b.WriteString(strconv.Itoa(d.Bandwidth))
	if d.Codecs != "" {
		b.WriteString(`,CODECS="`)
		b.WriteString(d.Codecs)
		b.WriteByte('"')
	}
	if d.Subtitles != nil {
		b.WriteString(`,SUBTITLES="` + subtitleGroup + `"`)
	}
	b.WriteByte('\n')
	b.WriteString(MediaName)
	b.WriteByte('\n')
	return b.String()
}
