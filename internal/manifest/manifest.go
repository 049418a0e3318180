// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manifest fetches and summarizes HLS playlists.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// DefaultMaxBytes caps playlist downloads.
const DefaultMaxBytes = 4 << 20

var (
	ErrParse    = errors.New("manifest: parse failed")
	ErrEmpty    = errors.New("manifest: no variants")
	ErrTooLarge = errors.New("manifest: playlist exceeds size limit")
)

// StatusError is returned for non-2xx playlist responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("manifest: GET %s: HTTP %d", e.URL, e.Code)
}

// Info summarizes a playlist for playback.
type Info struct {
	Duration       time.Duration // sum of segment durations, 0 when live
	Live           bool          // no EXT-X-ENDLIST
	Variants       int           // 1 for a plain media playlist
	Segments       int
	TargetDuration time.Duration
	MediaURL       string // media playlist the summary was taken from
}

// Seconds returns Duration as float seconds.
func (i Info) Seconds() float64 {
	return i.Duration.Seconds()
}

// Prober fetches playlists.
type Prober struct {
	Client   *http.Client
	MaxBytes int64
}

// Probe fetches rawURL and summarizes it. For a multivariant playlist the
// first variant is fetched.
func (p Prober) Probe(ctx context.Context, rawURL string) (Info, error) {
	body, err := p.Fetch(ctx, rawURL)
	if err != nil {
		return Info{}, err
	}
	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	switch pl := pl.(type) {
	case *playlist.Media:
		info := summarize(pl)
		info.Variants = 1
		info.MediaURL = rawURL
		return info, nil

	case *playlist.Multivariant:
		if len(pl.Variants) == 0 {
			return Info{}, ErrEmpty
		}
		variantURL, err := resolve(rawURL, pl.Variants[0].URI)
		if err != nil {
			return Info{}, fmt.Errorf("%w: variant uri: %w", ErrParse, err)
		}
		body, err := p.Fetch(ctx, variantURL)
		if err != nil {
			return Info{}, err
		}
		vpl, err := playlist.Unmarshal(body)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %w", ErrParse, err)
		}
		media, ok := vpl.(*playlist.Media)
		if !ok {
			return Info{}, fmt.Errorf("%w: variant is not a media playlist", ErrParse)
		}
		info := summarize(media)
		info.Variants = len(pl.Variants)
		info.MediaURL = variantURL
		return info, nil
	}
	return Info{}, fmt.Errorf("%w: unexpected playlist type %T", ErrParse, pl)
}

// Fetch downloads a playlist with the size limit applied.
func (p Prober) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrTooLarge
	}
	return body, nil
}

func summarize(pl *playlist.Media) Info {
	info := Info{
		Live:           !pl.Endlist,
		Segments:       len(pl.Segments),
		TargetDuration: time.Duration(pl.TargetDuration) * time.Second,
	}
	if info.Live {
		return info
	}
	for _, seg := range pl.Segments {
		if seg != nil {
			info.Duration += seg.Duration
		}
	}
	return info
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
