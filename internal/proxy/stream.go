// SPDX-License-Identifier: MIT

package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/metrics"
	"github.com/ytmpd/ytmpd/internal/netguard"
	"github.com/ytmpd/ytmpd/internal/store"
	"github.com/ytmpd/ytmpd/internal/telemetry"
	"github.com/ytmpd/ytmpd/internal/version"
)

// videoIDPattern is the only shape of ID the proxy accepts. Anything else is
// rejected before the track store is touched.
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

const (
	streamChunkBytes    = 8 * 1024
	icyMetaInterval     = 16000
	maxUpstreamAttempts = 3
)

// handleStream serves GET /proxy/{videoID}.
//
// Order matters: validate, admit, look up, refresh, relay. The admission
// slot is held for the whole response and released on every exit path.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	logger := log.WithComponentFromContext(r.Context(), "proxy").With().
		Str("video_id", videoID).Logger()

	if !videoIDPattern.MatchString(videoID) {
		logger.Warn().Str("event", "proxy.invalid_id").Msg("malformed video id")
		s.writeError(w, http.StatusBadRequest, "invalid video id")
		return
	}

	if !s.acquire() {
		logger.Warn().
			Str("event", "proxy.cap_reached").
			Int("cap", s.cfg.MaxConcurrentStreams).
			Msg("stream slots exhausted")
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent streams")
		return
	}
	defer s.release()

	ctx, span := s.tracer.Start(r.Context(), "proxy.stream")
	defer span.End()

	rec, err := s.store.Get(ctx, videoID)
	if err != nil {
		logger.Error().Str("event", "proxy.lookup_failed").Err(err).Msg("track lookup failed")
		s.writeError(w, http.StatusInternalServerError, "track lookup failed")
		return
	}
	if rec == nil {
		logger.Debug().Str("event", "proxy.unknown_id").Msg("video id not in track store")
		s.writeError(w, http.StatusNotFound, "unknown video id")
		return
	}

	streamURL, refreshed := s.freshStreamURL(ctx, logger, rec)
	span.SetAttributes(telemetry.ProxyAttributes(videoID, refreshed)...)

	s.relay(w, r.WithContext(ctx), logger, rec, streamURL)
}

// freshStreamURL returns the URL to stream from, re-resolving it when the
// stored one has passed the cache TTL. A failed refresh falls back to the
// stale URL so playback degrades instead of breaking.
func (s *Server) freshStreamURL(ctx context.Context, logger zerolog.Logger, rec *store.Record) (string, bool) {
	if s.now().Sub(rec.UpdatedAt) <= time.Duration(s.cacheTTL.Load()) {
		return rec.StreamURL, false
	}

	freshURL, err := s.resolver.Resolve(ctx, rec.VideoID)
	if err != nil {
		metrics.RecordResolve(resolveResult(err))
		metrics.RecordURLRefresh("stale_served")
		logger.Warn().
			Str("event", "proxy.refresh_failed").
			Err(err).
			Time("updated_at", rec.UpdatedAt).
			Msg("url refresh failed, serving stale url")
		return rec.StreamURL, false
	}
	metrics.RecordResolve("success")

	if err := s.store.UpdateStreamURL(ctx, rec.VideoID, freshURL); err != nil {
		logger.Warn().
			Str("event", "proxy.refresh_persist_failed").
			Err(err).
			Msg("refreshed url not persisted, next request will refresh again")
	}
	metrics.RecordURLRefresh("refreshed")
	logger.Debug().Str("event", "proxy.url_refreshed").Msg("stale stream url refreshed")
	return freshURL, true
}

// relay opens the upstream URL, retrying transient failures, and copies the
// body to the client. Error statuses are only possible before the first body
// byte; after that the stream simply ends.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, rec *store.Record, rawURL string) {
	upstreamURL, err := netguard.ValidateStreamURL(rawURL, s.cfg.UpstreamPolicy)
	if err != nil {
		logger.Error().Str("event", "proxy.upstream_rejected").Err(err).Msg("upstream url violates outbound policy")
		s.writeError(w, http.StatusBadGateway, "upstream url rejected")
		return
	}

	var timedOut bool
	for attempt := 1; attempt <= maxUpstreamAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.retryDelays[attempt-2]):
			case <-r.Context().Done():
				logger.Debug().Str("event", "proxy.client_gone").Msg("client disconnected during backoff")
				return
			}
		}

		resp, err := s.openUpstream(r.Context(), upstreamURL)
		if err != nil {
			if r.Context().Err() != nil {
				logger.Debug().Str("event", "proxy.client_gone").Msg("client disconnected before upstream response")
				return
			}
			// Connection errors and timeouts are always worth retrying.
			timedOut = isTimeout(err)
			logger.Warn().
				Str("event", "proxy.upstream_error").
				Err(err).
				Int("attempt", attempt).
				Bool("timeout", timedOut).
				Msg("upstream request failed")
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drainAndClose(resp.Body)
			timedOut = false
			logger.Warn().
				Str("event", "proxy.upstream_status").
				Int("status", resp.StatusCode).
				Int("attempt", attempt).
				Msg("upstream returned non-2xx")
			if !retryableStatus(resp.StatusCode) {
				break
			}
			continue
		}

		s.streamBody(w, r, logger, rec, resp.Body)
		_ = resp.Body.Close()
		return
	}

	code := http.StatusBadGateway
	if timedOut {
		code = http.StatusGatewayTimeout
	}
	s.writeError(w, code, "upstream fetch failed")
}

func (s *Server) openUpstream(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	return s.client.Do(req)
}

// streamBody writes the ICY headers and copies upstream bytes in fixed
// chunks, flushing each one so MPD starts playback without waiting on
// buffers. A failed write means the client went away; the upstream read is
// abandoned without an error status.
func (s *Server) streamBody(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, rec *store.Record, body io.Reader) {
	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Cache-Control", "no-cache, no-store")
	// Some ICY clients match these names case-sensitively. Assigning the map
	// keys directly keeps net/http from canonicalizing them to Icy-Name.
	h["icy-name"] = []string{rec.DisplayName()}
	h["icy-metaint"] = []string{strconv.Itoa(icyMetaInterval)}
	w.WriteHeader(http.StatusOK)
	metrics.RecordProxyRequest(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	buf := make([]byte, streamChunkBytes)
	var sent int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				logger.Debug().
					Str("event", "proxy.client_gone").
					Int64("bytes_sent", sent).
					Msg("client disconnected mid-stream")
				return
			}
			sent += int64(n)
			metrics.AddProxyBytes(int64(n))
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				logger.Debug().
					Str("event", "proxy.stream_done").
					Int64("bytes_sent", sent).
					Msg("upstream stream finished")
			} else {
				// Bytes are already on the wire; a second upstream attempt
				// would corrupt the audio. Close and let the client see EOF.
				logger.Warn().
					Str("event", "proxy.upstream_lost").
					Err(readErr).
					Int64("bytes_sent", sent).
					Msg("upstream failed mid-stream")
			}
			return
		}
	}
}

// retryableStatus reports whether a non-2xx upstream status is worth another
// attempt. 5xx are treated as transient except 501 and 505; everything else,
// notably 403, 404 and 410 from expired stream URLs, is permanent.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusNotImplemented, http.StatusHTTPVersionNotSupported:
		return false
	}
	return code >= 500
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func resolveResult(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// drainAndClose reads a little of the body before closing so the transport
// can reuse the connection.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
