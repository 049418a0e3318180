// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source classifies media URLs into HLS manifests and direct media files.
package source

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Kind is the delivery format of a media source.
type Kind string

const (
	KindNone   Kind = "none"   // empty input, nothing to play
	KindHLS    Kind = "hls"    // HTTP Live Streaming manifest (.m3u8)
	KindDirect Kind = "direct" // plain media file
)

const hlsMarker = ".m3u8"

// HLS MIME types probed against native players.
const (
	MIMEAppleMPEGURL = "application/vnd.apple.mpegurl"
	MIMEXMPEGURL     = "application/x-mpegURL"
)

// MediaSource is the classified form of a source URL. It is immutable and
// re-derived on every URL change.
type MediaSource struct {
	URL  string `json:"url"`
	Kind Kind   `json:"kind"`
}

// Classify inspects url and decides whether it is an HLS manifest or a direct file.
// It has no side effects.
func Classify(raw string) MediaSource {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MediaSource{Kind: KindNone}
	}
	if strings.Contains(strings.ToLower(trimmed), hlsMarker) {
		return MediaSource{URL: trimmed, Kind: KindHLS}
	}
	return MediaSource{URL: trimmed, Kind: KindDirect}
}

// Empty reports whether there is nothing to play.
func (s MediaSource) Empty() bool {
	return s.Kind == KindNone || s.URL == ""
}

// IsHLS reports whether the source is an HLS manifest.
func (s MediaSource) IsHLS() bool {
	return s.Kind == KindHLS
}

// ContentType returns the MIME type a player would be asked about for this source.
// Direct files are guessed from the path extension; unknown extensions yield "".
func (s MediaSource) ContentType() string {
	switch s.Kind {
	case KindHLS:
		return MIMEAppleMPEGURL
	case KindDirect:
		p := s.URL
		if u, err := url.Parse(s.URL); err == nil && u.Path != "" {
			p = u.Path
		}
		ext := strings.ToLower(path.Ext(p))
		if ext == "" {
			return ""
		}
		if ct, ok := directTypes[ext]; ok {
			return ct
		}
		if ct := mime.TypeByExtension(ext); ct != "" {
			if i := strings.IndexByte(ct, ';'); i >= 0 {
				ct = ct[:i]
			}
			return ct
		}
		return ""
	default:
		return ""
	}
}

// directTypes pins common media extensions so the answer does not depend on
// the host's mime database.
var directTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".ts":   "video/mp2t",
}
