// SPDX-License-Identifier: MIT

// Package sync reconciles remote catalog playlists into MPD stored
// playlists. One pass lists the catalog, resolves stream URLs in a
// bounded parallel batch, persists the track mapping and rewrites each
// MPD playlist with proxy entries. Failures isolate per playlist; only
// a catalog-wide listing failure aborts a run.
package sync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ytmpd/ytmpd/internal/catalog"
	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/metrics"
	"github.com/ytmpd/ytmpd/internal/mpd"
	"github.com/ytmpd/ytmpd/internal/resolver"
	"github.com/ytmpd/ytmpd/internal/store"
	"github.com/ytmpd/ytmpd/internal/telemetry"
)

// defaultConcurrency bounds parallel URL resolution within one playlist.
const defaultConcurrency = 10

// Catalog is the slice of the catalog client the engine consumes.
type Catalog interface {
	ListPlaylists(ctx context.Context) ([]catalog.Playlist, error)
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]catalog.Track, error)
}

// Config carries the sync-relevant settings.
type Config struct {
	// PlaylistPrefix namespaces managed MPD playlists. Empty is allowed.
	PlaylistPrefix string
	// Concurrency bounds parallel URL resolution. Zero means the default.
	Concurrency int
	// ProxyEnabled selects proxy entries; when false playlists carry the
	// upstream URLs directly and clients lose metadata and URL refresh.
	ProxyEnabled bool
	ProxyHost    string
	ProxyPort    int
}

// Deps are the collaborators a sync run touches.
type Deps struct {
	Catalog  Catalog
	Resolver resolver.Resolver
	Store    *store.Store
	MPD      mpd.Wire
	// Clock is overridable for tests. Nil means time.Now.
	Clock func() time.Time
}

// Result accumulates the outcome of one sync run. Success is true iff
// Errors is empty; partial runs keep their counters.
type Result struct {
	RunID           string    `json:"runId"`
	Success         bool      `json:"success"`
	PlaylistsSynced int       `json:"playlistsSynced"`
	PlaylistsFailed int       `json:"playlistsFailed"`
	TracksAdded     int       `json:"tracksAdded"`
	TracksFailed    int       `json:"tracksFailed"`
	DurationSeconds float64   `json:"durationSeconds"`
	Errors          []string  `json:"errors,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	CompletedAt     time.Time `json:"completedAt"`
}

// Preview summarizes what a sync would touch without writing anything.
type Preview struct {
	PlaylistNames        []string `json:"playlistNames"`
	TotalTracks          int      `json:"totalTracks"`
	ExistingMPDPlaylists []string `json:"existingMPDPlaylists"`
}

// Engine performs catalog to MPD reconciliation. The daemon enforces
// at-most-one concurrent run; the engine itself is not reentrant.
type Engine struct {
	catalog  Catalog
	resolver resolver.Resolver
	store    *store.Store
	mpd      mpd.Wire
	cfg      Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	// prefix and concurrency are reload-safe settings; the config holder
	// swaps them at runtime while a run may be in flight.
	prefix      atomic.Value
	concurrency atomic.Int32
}

// New builds an engine. Concurrency zero or negative falls back to the
// default of 10.
func New(deps Deps, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		catalog:  deps.Catalog,
		resolver: deps.Resolver,
		store:    deps.Store,
		mpd:      deps.MPD,
		cfg:      cfg,
		logger:   log.WithComponent("sync"),
		tracer:   telemetry.Tracer("ytmpd/sync"),
		now:      now,
	}
	e.prefix.Store(cfg.PlaylistPrefix)
	e.concurrency.Store(int32(cfg.Concurrency))
	return e
}

// UpdatePrefix swaps the playlist name prefix applied on the next playlist
// write.
func (e *Engine) UpdatePrefix(prefix string) {
	e.prefix.Store(prefix)
}

// UpdateConcurrency retunes the resolution fan-out; applies from the next
// playlist batch. Values below one are ignored.
func (e *Engine) UpdateConcurrency(n int) {
	if n >= 1 {
		e.concurrency.Store(int32(n))
	}
}

func (e *Engine) playlistPrefix() string {
	p, _ := e.prefix.Load().(string)
	return p
}

// SyncAll runs one full reconciliation pass. It never returns an error;
// failures accumulate in the result and success reflects whether any
// occurred. Cancellation is honored at playlist boundaries.
func (e *Engine) SyncAll(ctx context.Context) *Result {
	started := e.now()
	res := &Result{RunID: uuid.NewString()}

	ctx = log.ContextWithRunID(ctx, res.RunID)
	ctx, span := e.tracer.Start(ctx, "sync.all")
	defer span.End()

	logger := e.logger.With().Str(log.FieldRunID, res.RunID).Logger()
	logger.Info().Str(log.FieldEvent, "sync.started").Msg("sync run started")

	playlists, err := e.catalog.ListPlaylists(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list playlists: %v", err))
		e.finish(res, started, logger, span)
		return res
	}

	for _, pl := range playlists {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("sync interrupted: %v", err))
			break
		}
		e.syncPlaylist(ctx, logger, pl, res)
	}

	e.finish(res, started, logger, span)
	return res
}

// syncPlaylist reconciles a single playlist and records its outcome on res.
func (e *Engine) syncPlaylist(ctx context.Context, logger zerolog.Logger, pl catalog.Playlist, res *Result) {
	plog := logger.With().Str(log.FieldPlaylist, pl.Name).Logger()

	if pl.TrackCount == 0 {
		plog.Warn().Str(log.FieldEvent, "sync.playlist_empty").Msg("playlist has no tracks, skipping")
		res.PlaylistsSynced++
		metrics.IncPlaylistResult("skipped")
		return
	}

	tracks, err := e.catalog.GetPlaylistTracks(ctx, pl.ID)
	if err != nil {
		plog.Error().Err(err).Str(log.FieldEvent, "sync.tracks_fetch_failed").Msg("failed to fetch playlist tracks")
		res.PlaylistsFailed++
		res.Errors = append(res.Errors, fmt.Sprintf("playlist %q: fetch tracks: %v", pl.Name, err))
		metrics.IncPlaylistResult("failed")
		return
	}
	if len(tracks) == 0 {
		plog.Warn().Str(log.FieldEvent, "sync.playlist_empty").Msg("playlist has no usable tracks, skipping")
		res.PlaylistsSynced++
		metrics.IncPlaylistResult("skipped")
		return
	}

	urls := e.resolveTracks(ctx, plog, tracks, res)
	if len(urls) == 0 {
		plog.Error().
			Str(log.FieldEvent, "sync.playlist_unresolved").
			Int("tracks", len(tracks)).
			Msg("no tracks resolved, playlist not written")
		res.PlaylistsFailed++
		res.Errors = append(res.Errors, fmt.Sprintf("playlist %q: no tracks resolved", pl.Name))
		metrics.IncPlaylistResult("failed")
		return
	}

	name := e.playlistPrefix() + pl.Name
	if err := e.mpd.CreateOrReplacePlaylist(ctx, name, urls); err != nil {
		plog.Error().Err(err).Str(log.FieldEvent, "sync.mpd_write_failed").Msg("failed to write MPD playlist")
		res.PlaylistsFailed++
		res.Errors = append(res.Errors, fmt.Sprintf("playlist %q: mpd write: %v", pl.Name, err))
		metrics.IncPlaylistResult("failed")
		return
	}

	plog.Info().
		Str(log.FieldEvent, "sync.playlist_synced").
		Int("entries", len(urls)).
		Msg("playlist synced")
	res.PlaylistsSynced++
	metrics.IncPlaylistResult("synced")
}

// resolveTracks resolves all track URLs in a bounded parallel batch and
// returns playlist entries in catalog order, skipping failures in place.
// Resolved tracks are persisted before their entry is emitted so the
// proxy can serve them.
func (e *Engine) resolveTracks(ctx context.Context, logger zerolog.Logger, tracks []catalog.Track, res *Result) []string {
	type outcome struct {
		url string
		err error
	}
	outcomes := make([]outcome, len(tracks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(e.concurrency.Load()))
	for i, tr := range tracks {
		g.Go(func() error {
			url, err := e.resolver.Resolve(gctx, tr.VideoID)
			outcomes[i] = outcome{url: url, err: err}
			return nil
		})
	}
	_ = g.Wait() // failures live in outcomes, workers never error

	urls := make([]string, 0, len(tracks))
	for i, tr := range tracks {
		oc := outcomes[i]
		if oc.err != nil {
			logger.Warn().
				Err(oc.err).
				Str(log.FieldVideoID, tr.VideoID).
				Str(log.FieldEvent, "sync.resolve_failed").
				Msg("track resolution failed, skipping")
			res.TracksFailed++
			metrics.AddTrackResult("failed", 1)
			metrics.RecordResolve(resolveOutcome(oc.err))
			continue
		}
		metrics.RecordResolve("success")

		if err := e.store.Upsert(ctx, tr.VideoID, oc.url, tr.Title, tr.Artist); err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldVideoID, tr.VideoID).
				Str(log.FieldEvent, "sync.store_write_failed").
				Msg("track mapping not persisted, skipping")
			res.TracksFailed++
			metrics.AddTrackResult("failed", 1)
			continue
		}

		res.TracksAdded++
		metrics.AddTrackResult("resolved", 1)
		if e.cfg.ProxyEnabled {
			urls = append(urls, e.proxyURL(tr.VideoID))
		} else {
			urls = append(urls, oc.url)
		}
	}
	return urls
}

// finish seals the result: duration, success flag, metrics and the
// closing log line.
func (e *Engine) finish(res *Result, started time.Time, logger zerolog.Logger, span trace.Span) {
	res.StartedAt = started
	res.CompletedAt = e.now()
	res.DurationSeconds = res.CompletedAt.Sub(started).Seconds()
	res.Success = len(res.Errors) == 0

	outcome := "success"
	switch {
	case !res.Success && res.PlaylistsSynced == 0 && res.TracksAdded == 0:
		outcome = "error"
	case !res.Success:
		outcome = "partial"
	}
	metrics.RecordSyncRun(outcome, res.DurationSeconds)
	span.SetAttributes(telemetry.SyncAttributes(res.RunID, res.PlaylistsSynced, res.TracksAdded, res.TracksFailed)...)

	logger.Info().
		Str(log.FieldEvent, "sync.finished").
		Bool("success", res.Success).
		Int("playlists_synced", res.PlaylistsSynced).
		Int("playlists_failed", res.PlaylistsFailed).
		Int("tracks_added", res.TracksAdded).
		Int("tracks_failed", res.TracksFailed).
		Float64("duration_seconds", res.DurationSeconds).
		Msg("sync run finished")
}

// Preview reports what a sync would touch: catalog playlist names, their
// combined usable track count, and the stored playlists MPD already has.
// It performs no writes and no URL resolution.
func (e *Engine) Preview(ctx context.Context) (*Preview, error) {
	playlists, err := e.catalog.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}

	pv := &Preview{PlaylistNames: make([]string, 0, len(playlists))}
	for _, pl := range playlists {
		pv.PlaylistNames = append(pv.PlaylistNames, pl.Name)
		if pl.TrackCount == 0 {
			continue
		}
		tracks, err := e.catalog.GetPlaylistTracks(ctx, pl.ID)
		if err != nil {
			return nil, fmt.Errorf("playlist %q: fetch tracks: %w", pl.Name, err)
		}
		pv.TotalTracks += len(tracks)
	}

	existing, err := e.mpd.ListPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mpd playlists: %w", err)
	}
	pv.ExistingMPDPlaylists = existing
	return pv, nil
}

// proxyURL builds the playlist entry MPD will request back from the
// local ICY proxy.
func (e *Engine) proxyURL(videoID string) string {
	host := net.JoinHostPort(e.cfg.ProxyHost, strconv.Itoa(e.cfg.ProxyPort))
	return fmt.Sprintf("http://%s/proxy/%s", host, videoID)
}

func resolveOutcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
