// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration with the
// precedence ENV > file > defaults.
package config

import "time"

// AppConfig is the flat, fully resolved runtime configuration. All durations
// are materialized; callers never re-derive values from raw file keys.
type AppConfig struct {
	Version  string
	LogLevel string
	DataDir  string

	// Sync engine
	SyncInterval       time.Duration // derived from syncIntervalMinutes
	AutoSyncEnabled    bool
	PlaylistPrefix     string
	ResolveConcurrency int

	// ICY proxy
	ProxyEnabled         bool
	ProxyHost            string
	ProxyPort            int
	MaxConcurrentStreams int
	StreamCacheTTL       time.Duration // derived from streamCacheHours

	// Paths
	TrackDBPath       string
	StateFilePath     string
	CommandSocketPath string

	// MPD
	MPDSocketPath string
	MPDPassword   string

	// Remote catalog
	CatalogBaseURL   string
	CatalogAuthToken string

	// URL resolver
	YTDLPPath       string
	ResolveTimeout  time.Duration
	ResolveRate     float64 // resolver invocations per second
	ResolveBurst    int
	TraceExporter   string // "", "otlp-grpc" or "otlp-http"
	TraceEndpoint   string
	MetricsEnabled  bool
	HealthRateLimit int // requests per minute per IP on /health and /metrics
}

// FileConfig mirrors the YAML configuration file. Pointer fields distinguish
// "absent" from zero values so file settings only override defaults when set.
type FileConfig struct {
	LogLevel *string `yaml:"logLevel,omitempty"`
	DataDir  *string `yaml:"dataDir,omitempty"`

	SyncIntervalMinutes *int    `yaml:"syncIntervalMinutes,omitempty"`
	AutoSyncEnabled     *bool   `yaml:"autoSyncEnabled,omitempty"`
	PlaylistPrefix      *string `yaml:"playlistPrefix,omitempty"`
	StreamCacheHours    *int    `yaml:"streamCacheHours,omitempty"`

	ProxyEnabled         *bool   `yaml:"proxyEnabled,omitempty"`
	ProxyHost            *string `yaml:"proxyHost,omitempty"`
	ProxyPort            *int    `yaml:"proxyPort,omitempty"`
	MaxConcurrentStreams *int    `yaml:"maxConcurrentStreams,omitempty"`

	TrackDBPath       *string `yaml:"trackDBPath,omitempty"`
	StateFilePath     *string `yaml:"stateFilePath,omitempty"`
	CommandSocketPath *string `yaml:"commandSocketPath,omitempty"`

	MPDSocketPath *string `yaml:"mpdSocketPath,omitempty"`
	MPDPassword   *string `yaml:"mpdPassword,omitempty"`

	Catalog   CatalogFileConfig   `yaml:"catalog,omitempty"`
	Resolver  ResolverFileConfig  `yaml:"resolver,omitempty"`
	Telemetry TelemetryFileConfig `yaml:"telemetry,omitempty"`
}

// CatalogFileConfig configures the remote catalog client.
type CatalogFileConfig struct {
	BaseURL   *string `yaml:"baseURL,omitempty"`
	AuthToken *string `yaml:"authToken,omitempty"`
}

// ResolverFileConfig configures the yt-dlp URL resolver.
type ResolverFileConfig struct {
	YTDLPPath      *string  `yaml:"ytdlpPath,omitempty"`
	TimeoutSeconds *int     `yaml:"timeoutSeconds,omitempty"`
	Concurrency    *int     `yaml:"concurrency,omitempty"`
	RatePerSecond  *float64 `yaml:"ratePerSecond,omitempty"`
	Burst          *int     `yaml:"burst,omitempty"`
}

// TelemetryFileConfig configures optional trace export.
type TelemetryFileConfig struct {
	Exporter *string `yaml:"exporter,omitempty"`
	Endpoint *string `yaml:"endpoint,omitempty"`
}
