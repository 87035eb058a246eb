// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ytmpd/ytmpd/internal/catalog"
	"github.com/ytmpd/ytmpd/internal/config"
	"github.com/ytmpd/ytmpd/internal/daemon"
	"github.com/ytmpd/ytmpd/internal/health"
	ytlog "github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/mpd"
	"github.com/ytmpd/ytmpd/internal/netguard"
	"github.com/ytmpd/ytmpd/internal/proxy"
	"github.com/ytmpd/ytmpd/internal/resolver"
	"github.com/ytmpd/ytmpd/internal/store"
	syncengine "github.com/ytmpd/ytmpd/internal/sync"
	"github.com/ytmpd/ytmpd/internal/telemetry"
	"github.com/ytmpd/ytmpd/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return "(not set)"
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Determine config path:
	// - Explicit via --config
	// - Otherwise auto-load ${data dir}/config.yaml if it exists
	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, config.DefaultDataDir()))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		baseLogger := ytlog.Base()
		baseLogger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	ytlog.Configure(ytlog.Config{
		Level:   cfg.LogLevel,
		Service: "ytmpd",
		Version: version.Version,
	})
	logger := ytlog.WithComponent("main")

	switch {
	case explicitConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", explicitConfigPath).
			Msg("loaded configuration from file")
	case effectiveConfigPath != "":
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file(auto)").
			Str("path", effectiveConfigPath).
			Msg("loaded configuration from file")
	default:
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Msg("starting ytmpd")

	logger.Info().Msgf("→ MPD: %s (password: %v)", cfg.MPDSocketPath, cfg.MPDPassword != "")
	logger.Info().Msgf("→ Catalog: %s (auth: %v)", maskURL(cfg.CatalogBaseURL), cfg.CatalogAuthToken != "")
	logger.Info().Msgf("→ Resolver: %s (rate: %.1f/s, burst: %d)", cfg.YTDLPPath, cfg.ResolveRate, cfg.ResolveBurst)
	if cfg.ProxyEnabled {
		logger.Info().Msgf("→ Proxy: http://%s:%d (max streams: %d, cache: %s)",
			cfg.ProxyHost, cfg.ProxyPort, cfg.MaxConcurrentStreams, cfg.StreamCacheTTL)
	} else {
		logger.Warn().Msg("→ Proxy: disabled (playlists will carry raw stream URLs)")
	}
	logger.Info().Msgf("→ Sync: every %s (auto: %v, prefix: %q)", cfg.SyncInterval, cfg.AutoSyncEnabled, cfg.PlaylistPrefix)
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)

	// -------------------------------------------------------------------------
	// Pre-flight checks (fail fast)
	// -------------------------------------------------------------------------
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	st, err := store.Open(cfg.TrackDBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.store_failed").
			Str("path", cfg.TrackDBPath).
			Msg("failed to open track store")
	}

	ytdlp, err := resolver.NewYTDLP(resolver.Config{
		BinPath: cfg.YTDLPPath,
		Timeout: cfg.ResolveTimeout,
		Rate:    cfg.ResolveRate,
		Burst:   cfg.ResolveBurst,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.resolver_failed").
			Msg("URL resolver unavailable")
	}

	mpdClient := mpd.NewClient(mpd.Config{
		Address:  cfg.MPDSocketPath,
		Password: cfg.MPDPassword,
	})
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = mpdClient.Ping(pingCtx)
	cancelPing()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.mpd_failed").
			Str("address", cfg.MPDSocketPath).
			Msg("MPD is unreachable")
	}

	catalogClient := catalog.New(cfg.CatalogBaseURL, cfg.CatalogAuthToken)

	// Catalog reachability is advisory: sync runs report their own errors.
	probeCtx, cancelProbe := context.WithTimeout(ctx, 10*time.Second)
	if _, err := catalogClient.ListPlaylists(probeCtx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "startup.catalog_unreachable").
			Msg("catalog probe failed, sync will retry on schedule")
	}
	cancelProbe()

	// -------------------------------------------------------------------------

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Exporter:       cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		ServiceName:    "ytmpd",
		ServiceVersion: version.Version,
		SamplingRate:   config.ParseFloat("YTMPD_TRACE_SAMPLING", 1.0),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.telemetry_failed").
			Msg("failed to initialize trace exporter")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("trace exporter shutdown failed")
		}
	}()

	hm := health.NewManager()
	hm.Register(health.NewChecker("store", st.Ping))
	hm.Register(health.NewChecker("mpd", mpdClient.Ping))

	engine := syncengine.New(syncengine.Deps{
		Catalog:  catalogClient,
		Resolver: ytdlp,
		Store:    st,
		MPD:      mpdClient,
	}, syncengine.Config{
		PlaylistPrefix: cfg.PlaylistPrefix,
		Concurrency:    cfg.ResolveConcurrency,
		ProxyEnabled:   cfg.ProxyEnabled,
		ProxyHost:      cfg.ProxyHost,
		ProxyPort:      cfg.ProxyPort,
	})

	var proxySrv *proxy.Server
	streamServer := daemon.DisabledProxy()
	if cfg.ProxyEnabled {
		proxySrv = proxy.New(proxy.Deps{
			Store:    st,
			Resolver: ytdlp,
			Health:   hm,
		}, proxy.Config{
			Host:                 cfg.ProxyHost,
			Port:                 cfg.ProxyPort,
			MaxConcurrentStreams: cfg.MaxConcurrentStreams,
			StreamCacheTTL:       cfg.StreamCacheTTL,
			HealthRateLimit:      cfg.HealthRateLimit,
			MetricsEnabled:       cfg.MetricsEnabled,
			UpstreamPolicy: netguard.Policy{
				AllowLoopback: config.ParseBool("YTMPD_UPSTREAM_ALLOW_PRIVATE", false),
				AllowPrivate:  config.ParseBool("YTMPD_UPSTREAM_ALLOW_PRIVATE", false),
			},
		})
		streamServer = proxySrv
	}

	// Hot reload support: watch config file and allow SIGHUP-triggered reload.
	holder := config.NewHolder(cfg, loader, effectiveConfigPath)

	applyReload := func(c config.AppConfig) {
		engine.UpdatePrefix(c.PlaylistPrefix)
		engine.UpdateConcurrency(c.ResolveConcurrency)
		ytdlp.UpdateRate(c.ResolveRate, c.ResolveBurst)
		catalogClient.UpdateAuth(c.CatalogBaseURL, c.CatalogAuthToken)
		if proxySrv != nil {
			proxySrv.UpdateStreamCacheTTL(c.StreamCacheTTL)
		}
	}

	dmn, err := daemon.New(daemon.Deps{
		Config:      cfg,
		Engine:      engine,
		Catalog:     catalogClient,
		Proxy:       streamServer,
		Store:       st,
		MPD:         mpdClient,
		Holder:      holder,
		ApplyReload: applyReload,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.daemon_failed").
			Msg("failed to create daemon")
	}

	if err := dmn.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("ytmpd exiting")
}
