// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaPlaylist_CompleteExample(t *testing.T) {
	out := MediaPlaylist([]float64{10, 10, 4}, true)

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-X-PLAYLIST-TYPE:EVENT\n" +
		"#EXTINF:10.000000,\n0.ts\n" +
		"#EXTINF:10.000000,\n1.ts\n" +
		"#EXTINF:4.000000,\n2.ts\n" +
		"#EXT-X-ENDLIST\n"
	assert.Equal(t, want, out)

	sum, err := Inspect(out)
	require.NoError(t, err)
	assert.Equal(t, 10, sum.TargetDuration)
	assert.Equal(t, []string{"0.ts", "1.ts", "2.ts"}, sum.URIs)
	assert.Equal(t, 24*time.Second, sum.TotalDuration)
	assert.True(t, sum.Ended)
}

func TestMediaPlaylist_Pure(t *testing.T) {
	in := []float64{6.006, 5.994, 2.5}
	a := MediaPlaylist(in, false)
	b := MediaPlaylist(in, false)
	assert.Equal(t, a, b)
	assert.Equal(t, []float64{6.006, 5.994, 2.5}, in, "input must not be mutated")
}

func TestMediaPlaylist_EmptyUsesDefaultTarget(t *testing.T) {
	out := MediaPlaylist(nil, false)
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:10\n")
	assert.NotContains(t, out, "#EXTINF")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")

	sum, err := Inspect(out)
	require.NoError(t, err)
	assert.Empty(t, sum.URIs)
}

func TestMediaPlaylist_TargetRoundsUp(t *testing.T) {
	out := MediaPlaylist([]float64{6.006, 4}, false)
	assert.Contains(t, out, "#EXT-X-TARGETDURATION:7\n")
	assert.Contains(t, out, "#EXTINF:6.006000,\n0.ts\n")

	_, err := Inspect(out)
	require.NoError(t, err)
}

func TestMediaPlaylist_EndMarkerOnlyWhenComplete(t *testing.T) {
	segs := []float64{4, 4}
	assert.False(t, strings.Contains(MediaPlaylist(segs, false), "#EXT-X-ENDLIST"))
	assert.True(t, strings.HasSuffix(MediaPlaylist(segs, true), "#EXT-X-ENDLIST\n"))
}

func TestSubtitlePlaylist_UsesCueExtension(t *testing.T) {
	out := SubtitlePlaylist([]float64{10, 3.2}, true)
	sum, err := Inspect(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.vtt", "1.vtt"}, sum.URIs)
	assert.Equal(t, 10, sum.TargetDuration)
}

func TestIndexPlaylist(t *testing.T) {
	t.Run("without subtitles", func(t *testing.T) {
		out := IndexPlaylist(Descriptor{Bandwidth: 2500000, Codecs: "avc1.640028,mp4a.40.2"})
		want := "#EXTM3U\n" +
			"#EXT-X-VERSION:3\n" +
			"#EXT-X-STREAM-INF:BANDWIDTH=2500000,CODECS=\"avc1.640028,mp4a.40.2\"\n" +
			"media.m3u8\n"
		assert.Equal(t, want, out)
	})

	t.Run("with subtitles", func(t *testing.T) {
		out := IndexPlaylist(Descriptor{
			Bandwidth: 2500000,
			Codecs:    "avc1.640028,mp4a.40.2",
			Subtitles: &SubtitleTrack{Name: "English", Language: "en"},
		})
		want := "#EXTM3U\n" +
			"#EXT-X-VERSION:3\n" +
			"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"English\",LANGUAGE=\"en\",DEFAULT=NO,AUTOSELECT=YES,URI=\"subtitles.m3u8\"\n" +
			"#EXT-X-STREAM-INF:BANDWIDTH=2500000,CODECS=\"avc1.640028,mp4a.40.2\",SUBTITLES=\"subs\"\n" +
			"media.m3u8\n"
		assert.Equal(t, want, out)
	})
}

func TestInspect_RejectsBrokenPlaylists(t *testing.T) {
	cases := map[string]string{
		"no header":       "#EXT-X-TARGETDURATION:10\n",
		"no target":       "#EXTM3U\n#EXTINF:4.0,\n0.ts\n",
		"uri without inf": "#EXTM3U\n#EXT-X-TARGETDURATION:10\n0.ts\n",
		"too long":        "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:9.0,\n0.ts\n",
		"bad inf":         "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:abc,\n0.ts\n",
		"empty":           "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Inspect(in)
			assert.Error(t, err)
		})
	}
}
