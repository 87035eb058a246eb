// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Env variable names. One key per AppConfig field; ENV always wins.
const (
	EnvLogLevel             = "YTMPD_LOG_LEVEL"
	EnvDataDir              = "YTMPD_DATA_DIR"
	EnvSyncIntervalMinutes  = "YTMPD_SYNC_INTERVAL_MINUTES"
	EnvAutoSyncEnabled      = "YTMPD_AUTO_SYNC_ENABLED"
	EnvPlaylistPrefix       = "YTMPD_PLAYLIST_PREFIX"
	EnvStreamCacheHours     = "YTMPD_STREAM_CACHE_HOURS"
	EnvProxyEnabled         = "YTMPD_PROXY_ENABLED"
	EnvProxyHost            = "YTMPD_PROXY_HOST"
	EnvProxyPort            = "YTMPD_PROXY_PORT"
	EnvMaxConcurrentStreams = "YTMPD_MAX_CONCURRENT_STREAMS"
	EnvTrackDBPath          = "YTMPD_TRACK_DB_PATH"
	EnvStateFilePath        = "YTMPD_STATE_FILE_PATH"
	EnvCommandSocketPath    = "YTMPD_COMMAND_SOCKET_PATH"
	EnvMPDSocketPath        = "YTMPD_MPD_SOCKET_PATH"
	EnvMPDPassword          = "YTMPD_MPD_PASSWORD"
	EnvCatalogBaseURL       = "YTMPD_CATALOG_BASE_URL"
	EnvCatalogAuthToken     = "YTMPD_CATALOG_AUTH_TOKEN"
	EnvYTDLPPath            = "YTMPD_YTDLP_PATH"
	EnvResolveTimeout       = "YTMPD_RESOLVE_TIMEOUT"
	EnvResolveConcurrency   = "YTMPD_RESOLVE_CONCURRENCY"
	EnvResolveRate          = "YTMPD_RESOLVE_RATE"
	EnvResolveBurst         = "YTMPD_RESOLVE_BURST"
	EnvTraceExporter        = "YTMPD_TRACE_EXPORTER"
	EnvTraceEndpoint        = "YTMPD_TRACE_ENDPOINT"
	EnvMetricsEnabled       = "YTMPD_METRICS_ENABLED"
	EnvHealthRateLimit      = "YTMPD_HEALTH_RATE_LIMIT"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. configPath may be empty, in
// which case only defaults and environment variables apply.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order is fixed: defaults, strict file parse, env overlay, path resolution,
// validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFileConfig(&cfg, fileCfg)
	}

	mergeEnvConfig(&cfg)

	if err := resolvePaths(&cfg); err != nil {
		return cfg, fmt.Errorf("resolve paths: %w", err)
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile loads configuration from a YAML file with strict parsing. Unknown
// fields are fatal to prevent silent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	// Reject multiple documents or trailing content.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}

	return &fileCfg, nil
}

func defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",

		SyncInterval:       30 * time.Minute,
		AutoSyncEnabled:    true,
		PlaylistPrefix:     "YT: ",
		ResolveConcurrency: 10,

		ProxyEnabled:         true,
		ProxyHost:            "localhost",
		ProxyPort:            8080,
		MaxConcurrentStreams: 10,
		StreamCacheTTL:       5 * time.Hour,

		MPDSocketPath: "/run/mpd/socket",

		YTDLPPath:      "yt-dlp",
		ResolveTimeout: 30 * time.Second,
		ResolveRate:    5,
		ResolveBurst:   10,

		MetricsEnabled:  true,
		HealthRateLimit: 120,
	}
}

// mergeFileConfig applies non-nil file values over cfg.
func mergeFileConfig(cfg *AppConfig, f *FileConfig) {
	if f == nil {
		return
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.DataDir != nil {
		cfg.DataDir = *f.DataDir
	}
	if f.SyncIntervalMinutes != nil {
		cfg.SyncInterval = time.Duration(*f.SyncIntervalMinutes) * time.Minute
	}
	if f.AutoSyncEnabled != nil {
		cfg.AutoSyncEnabled = *f.AutoSyncEnabled
	}
	if f.PlaylistPrefix != nil {
		cfg.PlaylistPrefix = *f.PlaylistPrefix
	}
	if f.StreamCacheHours != nil {
		cfg.StreamCacheTTL = time.Duration(*f.StreamCacheHours) * time.Hour
	}
	if f.ProxyEnabled != nil {
		cfg.ProxyEnabled = *f.ProxyEnabled
	}
	if f.ProxyHost != nil {
		cfg.ProxyHost = *f.ProxyHost
	}
	if f.ProxyPort != nil {
		cfg.ProxyPort = *f.ProxyPort
	}
	if f.MaxConcurrentStreams != nil {
		cfg.MaxConcurrentStreams = *f.MaxConcurrentStreams
	}
	if f.TrackDBPath != nil {
		cfg.TrackDBPath = *f.TrackDBPath
	}
	if f.StateFilePath != nil {
		cfg.StateFilePath = *f.StateFilePath
	}
	if f.CommandSocketPath != nil {
		cfg.CommandSocketPath = *f.CommandSocketPath
	}
	if f.MPDSocketPath != nil {
		cfg.MPDSocketPath = *f.MPDSocketPath
	}
	if f.MPDPassword != nil {
		cfg.MPDPassword = *f.MPDPassword
	}
	if f.Catalog.BaseURL != nil {
		cfg.CatalogBaseURL = *f.Catalog.BaseURL
	}
	if f.Catalog.AuthToken != nil {
		cfg.CatalogAuthToken = *f.Catalog.AuthToken
	}
	if f.Resolver.YTDLPPath != nil {
		cfg.YTDLPPath = *f.Resolver.YTDLPPath
	}
	if f.Resolver.TimeoutSeconds != nil {
		cfg.ResolveTimeout = time.Duration(*f.Resolver.TimeoutSeconds) * time.Second
	}
	if f.Resolver.Concurrency != nil {
		cfg.ResolveConcurrency = *f.Resolver.Concurrency
	}
	if f.Resolver.RatePerSecond != nil {
		cfg.ResolveRate = *f.Resolver.RatePerSecond
	}
	if f.Resolver.Burst != nil {
		cfg.ResolveBurst = *f.Resolver.Burst
	}
	if f.Telemetry.Exporter != nil {
		cfg.TraceExporter = *f.Telemetry.Exporter
	}
	if f.Telemetry.Endpoint != nil {
		cfg.TraceEndpoint = *f.Telemetry.Endpoint
	}
}

// mergeEnvConfig applies environment variables (highest priority).
func mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)

	cfg.SyncInterval = time.Duration(ParseInt(EnvSyncIntervalMinutes, int(cfg.SyncInterval/time.Minute))) * time.Minute
	cfg.AutoSyncEnabled = ParseBool(EnvAutoSyncEnabled, cfg.AutoSyncEnabled)
	cfg.PlaylistPrefix = ParseString(EnvPlaylistPrefix, cfg.PlaylistPrefix)
	cfg.StreamCacheTTL = time.Duration(ParseInt(EnvStreamCacheHours, int(cfg.StreamCacheTTL/time.Hour))) * time.Hour

	cfg.ProxyEnabled = ParseBool(EnvProxyEnabled, cfg.ProxyEnabled)
	cfg.ProxyHost = ParseString(EnvProxyHost, cfg.ProxyHost)
	cfg.ProxyPort = ParseInt(EnvProxyPort, cfg.ProxyPort)
	cfg.MaxConcurrentStreams = ParseInt(EnvMaxConcurrentStreams, cfg.MaxConcurrentStreams)

	cfg.TrackDBPath = ParseString(EnvTrackDBPath, cfg.TrackDBPath)
	cfg.StateFilePath = ParseString(EnvStateFilePath, cfg.StateFilePath)
	cfg.CommandSocketPath = ParseString(EnvCommandSocketPath, cfg.CommandSocketPath)

	cfg.MPDSocketPath = ParseString(EnvMPDSocketPath, cfg.MPDSocketPath)
	cfg.MPDPassword = ParseString(EnvMPDPassword, cfg.MPDPassword)

	cfg.CatalogBaseURL = ParseString(EnvCatalogBaseURL, cfg.CatalogBaseURL)
	cfg.CatalogAuthToken = ParseString(EnvCatalogAuthToken, cfg.CatalogAuthToken)

	cfg.YTDLPPath = ParseString(EnvYTDLPPath, cfg.YTDLPPath)
	cfg.ResolveTimeout = ParseDuration(EnvResolveTimeout, cfg.ResolveTimeout)
	cfg.ResolveConcurrency = ParseInt(EnvResolveConcurrency, cfg.ResolveConcurrency)
	cfg.ResolveRate = ParseFloat(EnvResolveRate, cfg.ResolveRate)
	cfg.ResolveBurst = ParseInt(EnvResolveBurst, cfg.ResolveBurst)

	cfg.TraceExporter = ParseString(EnvTraceExporter, cfg.TraceExporter)
	cfg.TraceEndpoint = ParseString(EnvTraceEndpoint, cfg.TraceEndpoint)
	cfg.MetricsEnabled = ParseBool(EnvMetricsEnabled, cfg.MetricsEnabled)
	cfg.HealthRateLimit = ParseInt(EnvHealthRateLimit, cfg.HealthRateLimit)
}

// resolvePaths finalizes DataDir and derives any path fields left unset.
func resolvePaths(cfg *AppConfig) error {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	cfg.DataDir = abs

	if cfg.TrackDBPath == "" {
		cfg.TrackDBPath = filepath.Join(cfg.DataDir, "tracks.db")
	}
	if cfg.StateFilePath == "" {
		cfg.StateFilePath = filepath.Join(cfg.DataDir, "state.json")
	}
	if cfg.CommandSocketPath == "" {
		cfg.CommandSocketPath = filepath.Join(cfg.DataDir, "ytmpd.sock")
	}
	return nil
}

// DefaultDataDir follows XDG conventions with a local fallback. The main
// binary uses it to locate an unconfigured config.yaml.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ytmpd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "ytmpd")
	}
	return "ytmpd-data"
}
