// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package headless is a media.Host without audio output. It loads native
// sources over HTTP to learn reachability and duration, and advances the
// playback position on the wall clock. It is what the CLI plays into.
package headless

import (
	"context"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/hlsplay/internal/log"
	"github.com/ManuGH/hlsplay/internal/manifest"
	"github.com/ManuGH/hlsplay/internal/player/media"
	"github.com/ManuGH/hlsplay/internal/player/source"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeUpdateInterval = 250 * time.Millisecond
	DefaultProbeTimeout       = 10 * time.Second
)

// DefaultNativeMIMETypes are the types CanPlayType answers "maybe" for.
var DefaultNativeMIMETypes = []string{
	"audio/mpeg", "audio/mp4", "audio/aac", "audio/wav", "audio/ogg", "audio/webm",
	"video/mp4", "video/webm",
}

var (
	ErrNotReady = errors.New("headless: no media loaded")
	ErrClosed   = errors.New("headless: host closed")
)

// Config configures a Host.
type Config struct {
	NativeMIMETypes    []string
	TimeUpdateInterval time.Duration
	HTTPClient         *http.Client
	Logger             zerolog.Logger
}

type listener struct {
	kind media.EventKind
	fn   media.Listener
}

// Host is a headless media element.
type Host struct {
	cfg    Config
	client *http.Client
	mimes  map[string]bool
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[media.ListenerID]listener
	nextID    media.ListenerID

	epoch    uint64 // bumped by SetSource and Detach
	src      string
	ready    bool
	duration float64
	position float64
	playing  bool
	volume   float64
	muted    bool
	closed   bool

	cancelLoad context.CancelFunc
	cancelTick context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an empty host.
func New(cfg Config) *Host {
	if cfg.TimeUpdateInterval <= 0 {
		cfg.TimeUpdateInterval = DefaultTimeUpdateInterval
	}
	if len(cfg.NativeMIMETypes) == 0 {
		cfg.NativeMIMETypes = DefaultNativeMIMETypes
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultProbeTimeout}
	}
	mimes := make(map[string]bool, len(cfg.NativeMIMETypes))
	for _, m := range cfg.NativeMIMETypes {
		mimes[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return &Host{
		cfg:       cfg,
		client:    client,
		mimes:     mimes,
		logger:    cfg.Logger.With().Str(xglog.FieldComponent, "headless").Logger(),
		listeners: map[media.ListenerID]listener{},
		duration:  media.UnknownDuration(),
		volume:    1,
	}
}

// SetSource starts loading url. Load results arrive as events.
func (h *Host) SetSource(rawURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.resetLocked()
	h.src = rawURL
	epoch := h.epoch

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelLoad = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.load(ctx, epoch, rawURL)
	}()
	return nil
}

// AttachStream binds a stream fed by a streaming engine. Metadata is
// immediately available.
func (h *Host) AttachStream(info media.StreamInfo) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.ready {
		// Track changes on a live stream do not reload the element.
		h.mu.Unlock()
		return nil
	}
	d := info.Duration
	if info.Live || !media.KnownDuration(d) || d == 0 {
		d = math.Inf(1)
	}
	h.ready = true
	h.duration = d
	epoch := h.epoch
	h.mu.Unlock()

	h.emit(epoch, media.Event{Kind: media.EventLoadedMetadata, Duration: d})
	h.emit(epoch, media.Event{Kind: media.EventCanPlay, Duration: d})
	return nil
}

// Detach drops the current source. It does not wait for background work.
func (h *Host) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

func (h *Host) resetLocked() {
	h.epoch++
	if h.cancelLoad != nil {
		h.cancelLoad()
		h.cancelLoad = nil
	}
	if h.cancelTick != nil {
		h.cancelTick()
		h.cancelTick = nil
	}
	h.src = ""
	h.ready = false
	h.playing = false
	h.position = 0
	h.duration = media.UnknownDuration()
}

// Close detaches and waits for all background goroutines. It must not be
// called from a listener.
func (h *Host) Close() {
	h.mu.Lock()
	h.resetLocked()
	h.closed = true
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Host) Play() error {
	h.mu.Lock()
	if !h.ready {
		h.mu.Unlock()
		return ErrNotReady
	}
	if h.playing {
		h.mu.Unlock()
		return nil
	}
	if media.KnownDuration(h.duration) && h.position >= h.duration {
		h.position = 0
	}
	h.playing = true
	epoch := h.epoch
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelTick = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.tick(ctx, epoch)
	}()
	h.mu.Unlock()

	h.emit(epoch, media.Event{Kind: media.EventPlay, CurrentTime: h.Position(), Duration: h.Duration()})
	return nil
}

func (h *Host) Pause() {
	h.mu.Lock()
	if !h.playing {
		h.mu.Unlock()
		return
	}
	h.playing = false
	if h.cancelTick != nil {
		h.cancelTick()
		h.cancelTick = nil
	}
	ev := media.Event{Kind: media.EventPause, CurrentTime: h.position, Duration: h.duration}
	epoch := h.epoch
	h.mu.Unlock()

	h.emit(epoch, ev)
}

func (h *Host) Seek(seconds float64) {
	h.mu.Lock()
	if !h.ready {
		h.mu.Unlock()
		return
	}
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	if media.KnownDuration(h.duration) && seconds > h.duration {
		seconds = h.duration
	}
	h.position = seconds
	ev := media.Event{Kind: media.EventTimeUpdate, CurrentTime: seconds, Duration: h.duration}
	epoch := h.epoch
	h.mu.Unlock()

	h.emit(epoch, ev)
}

func (h *Host) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
}

func (h *Host) SetMuted(muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.muted = muted
}

// CanPlayType answers "maybe" for configured types, ignoring parameters.
func (h *Host) CanPlayType(mimeType string) media.CanPlay {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.TrimSpace(mimeType)
	}
	if h.mimes[strings.ToLower(mt)] {
		return media.CanPlayMaybe
	}
	return media.CanPlayNo
}

func (h *Host) On(kind media.EventKind, fn media.Listener) media.ListenerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.listeners[h.nextID] = listener{kind: kind, fn: fn}
	return h.nextID
}

func (h *Host) Off(id media.ListenerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

// Position returns the current playback position in seconds.
func (h *Host) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// Duration returns the media duration, NaN or +Inf while unknown.
func (h *Host) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// Volume returns the volume and mute flag last applied.
func (h *Host) Volume() (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume, h.muted
}

// emit delivers ev to current listeners of its kind unless epoch is stale.
// Listeners run without the lock held.
func (h *Host) emit(epoch uint64, ev media.Event) {
	h.mu.Lock()
	if h.epoch != epoch || h.closed {
		h.mu.Unlock()
		return
	}
	ids := make([]media.ListenerID, 0, len(h.listeners))
	for id, l := range h.listeners {
		if l.kind == ev.Kind {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		h.mu.Lock()
		l, ok := h.listeners[id]
		h.mu.Unlock()
		if ok {
			l.fn(ev)
		}
	}
}

func (h *Host) fail(epoch uint64, code media.ErrorCode, err error) {
	h.logger.Debug().Err(err).
		Str(xglog.FieldEvent, "host.load_failed").
		Str("code", code.String()).
		Msg("source load failed")
	h.emit(epoch, media.Event{
		Kind:     media.EventError,
		Code:     code,
		Duration: media.UnknownDuration(),
		Message:  err.Error(),
	})
}

// load resolves metadata for a natively played source.
func (h *Host) load(ctx context.Context, epoch uint64, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil {
			err = errors.New("unsupported url scheme " + strconv.Quote(u.Scheme))
		}
		h.fail(epoch, media.ErrorCodeSrcNotSupported, err)
		return
	}

	var duration float64
	if source.Classify(rawURL).IsHLS() {
		duration, err = h.loadManifest(ctx, rawURL)
	} else {
		duration, err = h.loadFile(ctx, rawURL)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.fail(epoch, errorCode(err), err)
		return
	}

	h.mu.Lock()
	if h.epoch != epoch {
		h.mu.Unlock()
		return
	}
	h.ready = true
	h.duration = duration
	done := h.cancelLoad
	h.cancelLoad = nil
	h.mu.Unlock()
	if done != nil {
		done()
	}

	h.logger.Debug().
		Str(xglog.FieldEvent, "host.loaded").
		Str(xglog.FieldSource, rawURL).
		Float64(xglog.FieldDuration, duration).
		Msg("source loaded")
	h.emit(epoch, media.Event{Kind: media.EventLoadedMetadata, Duration: duration})
	h.emit(epoch, media.Event{Kind: media.EventCanPlay, Duration: duration})
}

func (h *Host) loadManifest(ctx context.Context, rawURL string) (float64, error) {
	if !h.CanPlayType(source.MIMEAppleMPEGURL).Supported() && !h.CanPlayType(source.MIMEXMPEGURL).Supported() {
		return 0, errUnsupportedType(source.MIMEAppleMPEGURL)
	}
	info, err := manifest.Prober{Client: h.client}.Probe(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	if info.Live {
		return math.Inf(1), nil
	}
	return info.Seconds(), nil
}

// loadFile requests the first byte of a direct file to check reachability
// and content type. X-Content-Duration supplies the duration when present.
func (h *Host) loadFile(ctx context.Context, rawURL string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &manifest.StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt != "application/octet-stream" && !h.CanPlayType(mt).Supported() {
			return 0, errUnsupportedType(mt)
		}
	}

	if v := resp.Header.Get("X-Content-Duration"); v != "" {
		if d, perr := strconv.ParseFloat(v, 64); perr == nil && media.KnownDuration(d) {
			return d, nil
		}
	}
	return media.UnknownDuration(), nil
}

type unsupportedTypeError struct{ mimeType string }

func (e unsupportedTypeError) Error() string {
	return "media type " + strconv.Quote(e.mimeType) + " is not supported"
}

func errUnsupportedType(mt string) error { return unsupportedTypeError{mimeType: mt} }

// errorCode maps a load failure to the element error code a browser would
// report: 4xx and unknown types are unsupported sources, parse failures are
// decode errors, everything else is a network error.
func errorCode(err error) media.ErrorCode {
	var (
		se *manifest.StatusError
		ut unsupportedTypeError
	)
	switch {
	case errors.As(err, &ut):
		return media.ErrorCodeSrcNotSupported
	case errors.As(err, &se):
		if se.Code >= 400 && se.Code < 500 {
			return media.ErrorCodeSrcNotSupported
		}
		return media.ErrorCodeNetwork
	case errors.Is(err, manifest.ErrParse), errors.Is(err, manifest.ErrEmpty), errors.Is(err, manifest.ErrTooLarge):
		return media.ErrorCodeDecode
	default:
		return media.ErrorCodeNetwork
	}
}

// tick advances the position while playing and emits timeupdate, then
// pause and ended at the end of finite media.
func (h *Host) tick(ctx context.Context, epoch uint64) {
	t := time.NewTicker(h.cfg.TimeUpdateInterval)
	defer t.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			h.mu.Lock()
			if h.epoch != epoch || !h.playing {
				h.mu.Unlock()
				return
			}
			h.position += now.Sub(last).Seconds()
			last = now
			ended := media.KnownDuration(h.duration) && h.position >= h.duration
			var stop context.CancelFunc
			if ended {
				h.position = h.duration
				h.playing = false
				stop, h.cancelTick = h.cancelTick, nil
			}
			pos, dur := h.position, h.duration
			h.mu.Unlock()
			if stop != nil {
				stop()
			}

			h.emit(epoch, media.Event{Kind: media.EventTimeUpdate, CurrentTime: pos, Duration: dur})
			if ended {
				h.emit(epoch, media.Event{Kind: media.EventPause, CurrentTime: pos, Duration: dur})
				h.emit(epoch, media.Event{Kind: media.EventEnded, CurrentTime: pos, Duration: dur})
				return
			}
		}
	}
}
