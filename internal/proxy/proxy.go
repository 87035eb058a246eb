// SPDX-License-Identifier: MIT

// Package proxy serves MPD-facing audio streams. Each request resolves a
// video ID to its cached upstream URL, refreshes the URL when stale, and
// relays the audio bytes with Shoutcast/ICY headers so clients can display
// "Artist - Title" instead of a raw URL.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/netutil"

	"github.com/ytmpd/ytmpd/internal/health"
	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/metrics"
	"github.com/ytmpd/ytmpd/internal/netguard"
	"github.com/ytmpd/ytmpd/internal/resolver"
	"github.com/ytmpd/ytmpd/internal/store"
	"github.com/ytmpd/ytmpd/internal/telemetry"
)

const (
	defaultMaxStreams       = 10
	defaultStreamCacheTTL   = 5 * time.Hour
	defaultFirstByteTimeout = 10 * time.Second
	defaultHealthRateLimit  = 60 // per minute per client IP

	headerRequestID = "X-Request-Id"
)

// Config holds the proxy server settings.
type Config struct {
	// Host and Port form the TCP bind address. Port 0 picks a free port.
	Host string
	Port int

	// MaxConcurrentStreams caps simultaneous stream responses. Requests
	// beyond the cap receive 503.
	MaxConcurrentStreams int

	// StreamCacheTTL is the age past which a stored stream URL is
	// re-resolved before use.
	StreamCacheTTL time.Duration

	// FirstByteTimeout bounds each upstream attempt from dial to response
	// headers. The response body itself has no wall-clock cap.
	FirstByteTimeout time.Duration

	// HealthRateLimit is the per-IP request budget per minute on the
	// /health and /metrics endpoints.
	HealthRateLimit int

	// MetricsEnabled exposes the Prometheus registry on /metrics.
	MetricsEnabled bool

	// UpstreamPolicy restricts which resolved URLs the proxy will dial.
	UpstreamPolicy netguard.Policy
}

// Deps are the collaborators the server needs. Clock is optional and
// defaults to time.Now.
type Deps struct {
	Store    *store.Store
	Resolver resolver.Resolver
	Health   *health.Manager
	Clock    func() time.Time
}

// Server is the ICY streaming proxy. Create it with New, bind with Listen,
// run with Serve and drain with Stop.
type Server struct {
	cfg       Config
	store     *store.Store
	resolver  resolver.Resolver
	healthMgr *health.Manager
	client    *http.Client
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// retryDelays are the waits before the second and third upstream
	// attempts. Tests shorten them.
	retryDelays []time.Duration

	// cacheTTL holds Config.StreamCacheTTL in nanoseconds; the config
	// holder may retune it at runtime.
	cacheTTL atomic.Int64

	mu     sync.Mutex
	active int

	httpServer *http.Server
	listener   net.Listener
}

// New assembles a proxy server. Zero config fields fall back to defaults.
func New(deps Deps, cfg Config) *Server {
	if cfg.MaxConcurrentStreams <= 0 {
		cfg.MaxConcurrentStreams = defaultMaxStreams
	}
	if cfg.StreamCacheTTL <= 0 {
		cfg.StreamCacheTTL = defaultStreamCacheTTL
	}
	if cfg.FirstByteTimeout <= 0 {
		cfg.FirstByteTimeout = defaultFirstByteTimeout
	}
	if cfg.HealthRateLimit <= 0 {
		cfg.HealthRateLimit = defaultHealthRateLimit
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	healthMgr := deps.Health
	if healthMgr == nil {
		healthMgr = health.NewManager()
	}

	s := &Server{
		cfg:         cfg,
		store:       deps.Store,
		resolver:    deps.Resolver,
		healthMgr:   healthMgr,
		client:      &http.Client{Transport: newUpstreamTransport(cfg)},
		logger:      log.WithComponent("proxy"),
		tracer:      telemetry.Tracer("ytmpd/proxy"),
		now:         now,
		retryDelays: []time.Duration{time.Second, 2 * time.Second},
	}

	s.cacheTTL.Store(int64(cfg.StreamCacheTTL))

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // streaming responses must not be clipped
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// UpdateStreamCacheTTL retunes the staleness threshold for stored URLs.
// Values of zero or below are ignored.
func (s *Server) UpdateStreamCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		s.cacheTTL.Store(int64(ttl))
	}
}

// newUpstreamTransport builds the dedicated client transport for upstream
// fetches. The first-byte budget is enforced via dial, TLS and response
// header timeouts rather than http.Client.Timeout, which would also cut off
// long-running bodies.
func newUpstreamTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.FirstByteTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.FirstByteTimeout,
		ResponseHeaderTimeout: cfg.FirstByteTimeout,
		MaxIdleConns:          cfg.MaxConcurrentStreams,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)

	r.Get("/proxy/{videoID}", s.handleStream)

	// Probe endpoints share an IP rate limit; streams are governed by the
	// admission counter instead.
	r.Group(func(pr chi.Router) {
		pr.Use(httprate.Limit(
			s.cfg.HealthRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			}),
		))
		pr.Method(http.MethodGet, "/health", s.healthMgr)
		if s.cfg.MetricsEnabled {
			pr.Method(http.MethodGet, "/metrics", promhttp.Handler())
		}
	})

	return otelhttp.NewHandler(r, "ytmpd.proxy",
		otelhttp.WithFilter(func(req *http.Request) bool {
			switch req.URL.Path {
			case "/health", "/metrics":
				return false
			}
			return true
		}),
		otelhttp.WithSpanNameFormatter(func(operation string, req *http.Request) string {
			return operation + " " + req.Method + " " + req.URL.Path
		}),
	)
}

// requestID assigns a correlation ID to every request, honoring one supplied
// by the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// recoverer keeps a panicking handler from tearing down the whole server.
// The admission counter is released by the handler's own defer before this
// runs.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				logger := log.WithComponentFromContext(r.Context(), "proxy")
				logger.Error().
					Str("event", "proxy.panic_recovered").
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic_value", rec).
					Str("stack", string(buf[:n])).
					Msg("panic recovered in handler")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// acquire claims a stream slot. It reports false when the cap is reached.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.cfg.MaxConcurrentStreams {
		return false
	}
	s.active++
	metrics.IncActiveStreams()
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	metrics.DecActiveStreams()
}

// Listen binds the TCP listener. Bind errors are fatal to the caller; there
// is no retry.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: bind %s: %w", addr, err)
	}
	// The listener-level cap sits well above the stream cap so /health and
	// /metrics stay reachable while every stream slot is busy.
	s.listener = netutil.LimitListener(ln, s.cfg.MaxConcurrentStreams*4)

	s.logger.Info().
		Str("event", "proxy.listening").
		Str("addr", ln.Addr().String()).
		Int("max_streams", s.cfg.MaxConcurrentStreams).
		Bool("metrics", s.cfg.MetricsEnabled).
		Msg("proxy server listening")
	return nil
}

// Addr returns the bound listener address. Valid after Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until Stop is called or the listener fails.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("proxy: Serve called before Listen")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("proxy: serve: %w", err)
	}
	return nil
}

// Stop drains in-flight streams until ctx expires, then forcibly closes the
// remaining connections.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Str("event", "proxy.stopping").Msg("draining proxy connections")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().
			Str("event", "proxy.drain_timeout").
			Err(err).
			Msg("grace period expired, closing active streams")
		return s.httpServer.Close()
	}
	return nil
}

// writeError emits a text error response and records the status code.
func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	metrics.RecordProxyRequest(code)
	http.Error(w, msg, code)
}
