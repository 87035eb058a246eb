// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ytmpd/ytmpd/internal/log"
)

// Holder holds configuration with atomic reloading capability. It provides
// thread-safe access and supports hot reloading from file, triggered either
// by SIGHUP or by a file watcher.
//
// Reload applies only the safe subset live (sync interval, prefix, cache TTL,
// auto-sync flag, resolver tuning, catalog credentials, log level). Bind
// addresses, socket paths and the track DB path require a restart; changed
// values there are logged and ignored until then.
type Holder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewHolder creates a configuration holder around an initial config.
func NewHolder(initial AppConfig, loader *Loader, configPath string) *Holder {
	return &Holder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration (thread-safe snapshot).
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads configuration from file and validates it. On validation
// failure the old configuration is kept and an error returned. Unsafe fields
// are pinned to their running values.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	pinUnsafe(&newCfg, oldCfg, h.logger)
	h.current = newCfg
	h.mu.Unlock()

	applyLogLevel(oldCfg.LogLevel, newCfg.LogLevel, h.logger)
	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str("event", "config.reload_success").
		Msg("configuration reloaded successfully")

	return nil
}

// pinUnsafe copies restart-only fields from the running config, warning for
// each attempted change.
func pinUnsafe(newCfg *AppConfig, old AppConfig, logger zerolog.Logger) {
	deferField := func(name string, changed bool, restore func()) {
		if !changed {
			return
		}
		restore()
		logger.Warn().
			Str("event", "config.reload_deferred").
			Str("key", name).
			Msg("change requires restart, keeping running value")
	}

	deferField("proxyHost", newCfg.ProxyHost != old.ProxyHost, func() { newCfg.ProxyHost = old.ProxyHost })
	deferField("proxyPort", newCfg.ProxyPort != old.ProxyPort, func() { newCfg.ProxyPort = old.ProxyPort })
	deferField("proxyEnabled", newCfg.ProxyEnabled != old.ProxyEnabled, func() { newCfg.ProxyEnabled = old.ProxyEnabled })
	deferField("maxConcurrentStreams", newCfg.MaxConcurrentStreams != old.MaxConcurrentStreams, func() { newCfg.MaxConcurrentStreams = old.MaxConcurrentStreams })
	deferField("trackDBPath", newCfg.TrackDBPath != old.TrackDBPath, func() { newCfg.TrackDBPath = old.TrackDBPath })
	deferField("stateFilePath", newCfg.StateFilePath != old.StateFilePath, func() { newCfg.StateFilePath = old.StateFilePath })
	deferField("commandSocketPath", newCfg.CommandSocketPath != old.CommandSocketPath, func() { newCfg.CommandSocketPath = old.CommandSocketPath })
	deferField("mpdSocketPath", newCfg.MPDSocketPath != old.MPDSocketPath, func() { newCfg.MPDSocketPath = old.MPDSocketPath })
	deferField("mpdPassword", newCfg.MPDPassword != old.MPDPassword, func() { newCfg.MPDPassword = old.MPDPassword })
	deferField("dataDir", newCfg.DataDir != old.DataDir, func() { newCfg.DataDir = old.DataDir })
	deferField("telemetry.exporter", newCfg.TraceExporter != old.TraceExporter, func() { newCfg.TraceExporter = old.TraceExporter })
	deferField("telemetry.endpoint", newCfg.TraceEndpoint != old.TraceEndpoint, func() { newCfg.TraceEndpoint = old.TraceEndpoint })
	deferField("metricsEnabled", newCfg.MetricsEnabled != old.MetricsEnabled, func() { newCfg.MetricsEnabled = old.MetricsEnabled })
	deferField("healthRateLimit", newCfg.HealthRateLimit != old.HealthRateLimit, func() { newCfg.HealthRateLimit = old.HealthRateLimit })
}

func applyLogLevel(old, newLevel string, logger zerolog.Logger) {
	if old == newLevel {
		return
	}
	parsed, err := zerolog.ParseLevel(newLevel)
	if err != nil {
		logger.Warn().Str("level", newLevel).Msg("invalid log level in reloaded config, keeping current")
		return
	}
	zerolog.SetGlobalLevel(parsed)
	logger.Info().
		Str("event", "log.level_changed").
		Str(log.FieldOldState, old).
		Str(log.FieldNewState, newLevel).
		Msg("log level changed")
}

// StartWatcher starts watching the config file for changes. A no-op when the
// daemon runs on ENV-only configuration.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	// Debounce rapid write bursts from editors.
	var debounceTimer *time.Timer
	const debounce = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			if h.watcher != nil {
				_ = h.watcher.Close()
			}
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str("event", "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str("event", "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener registers a channel to receive successful reloads.
// Delivery is non-blocking; the caller owns the channel.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *Holder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str("event", "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// logChanges logs the live-applied differences between old and new config.
func (h *Holder) logChanges(old, newCfg AppConfig) {
	if old.SyncInterval != newCfg.SyncInterval {
		h.logger.Info().
			Dur("old", old.SyncInterval).
			Dur("new", newCfg.SyncInterval).
			Msg("config changed: syncInterval")
	}
	if old.AutoSyncEnabled != newCfg.AutoSyncEnabled {
		h.logger.Info().
			Bool("old", old.AutoSyncEnabled).
			Bool("new", newCfg.AutoSyncEnabled).
			Msg("config changed: autoSyncEnabled")
	}
	if old.PlaylistPrefix != newCfg.PlaylistPrefix {
		h.logger.Info().
			Str("old", old.PlaylistPrefix).
			Str("new", newCfg.PlaylistPrefix).
			Msg("config changed: playlistPrefix")
	}
	if old.StreamCacheTTL != newCfg.StreamCacheTTL {
		h.logger.Info().
			Dur("old", old.StreamCacheTTL).
			Dur("new", newCfg.StreamCacheTTL).
			Msg("config changed: streamCacheTTL")
	}
	if old.CatalogBaseURL != newCfg.CatalogBaseURL {
		h.logger.Info().
			Str("old", maskURL(old.CatalogBaseURL)).
			Str("new", maskURL(newCfg.CatalogBaseURL)).
			Msg("config changed: catalog.baseURL")
	}
	if old.CatalogAuthToken != newCfg.CatalogAuthToken {
		h.logger.Info().Msg("config changed: catalog.authToken")
	}
	if old.ResolveConcurrency != newCfg.ResolveConcurrency {
		h.logger.Info().
			Int("old", old.ResolveConcurrency).
			Int("new", newCfg.ResolveConcurrency).
			Msg("config changed: resolver.concurrency")
	}
}

// maskURL redacts URLs for logging; only the fact that it changed matters.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	return "***redacted***"
}
