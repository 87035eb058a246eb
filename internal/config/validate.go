// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a fully merged configuration. It returns the first problem
// found; the caller treats any error as fatal at startup and as
// keep-old-config during reload.
func Validate(cfg AppConfig) error {
	if cfg.SyncInterval <= 0 {
		return fmt.Errorf("syncIntervalMinutes must be > 0, got %s", cfg.SyncInterval)
	}
	if cfg.StreamCacheTTL <= 0 {
		return fmt.Errorf("streamCacheHours must be > 0, got %s", cfg.StreamCacheTTL)
	}
	if cfg.ProxyPort < 1 || cfg.ProxyPort > 65535 {
		return fmt.Errorf("proxyPort out of range: %d", cfg.ProxyPort)
	}
	if cfg.ProxyHost == "" {
		return fmt.Errorf("proxyHost must not be empty")
	}
	if cfg.MaxConcurrentStreams < 1 {
		return fmt.Errorf("maxConcurrentStreams must be >= 1, got %d", cfg.MaxConcurrentStreams)
	}
	if cfg.ResolveConcurrency < 1 || cfg.ResolveConcurrency > 50 {
		return fmt.Errorf("resolver concurrency out of range [1,50]: %d", cfg.ResolveConcurrency)
	}
	if cfg.ResolveTimeout <= 0 {
		return fmt.Errorf("resolver timeout must be > 0, got %s", cfg.ResolveTimeout)
	}
	if cfg.ResolveRate <= 0 {
		return fmt.Errorf("resolver rate must be > 0, got %f", cfg.ResolveRate)
	}
	if cfg.ResolveBurst < 1 {
		return fmt.Errorf("resolver burst must be >= 1, got %d", cfg.ResolveBurst)
	}
	if strings.ContainsAny(cfg.PlaylistPrefix, "/\n\r") {
		return fmt.Errorf("playlistPrefix must not contain path separators or newlines")
	}
	if cfg.TrackDBPath == "" {
		return fmt.Errorf("trackDBPath must not be empty")
	}
	if cfg.StateFilePath == "" {
		return fmt.Errorf("stateFilePath must not be empty")
	}
	if cfg.CommandSocketPath == "" {
		return fmt.Errorf("commandSocketPath must not be empty")
	}
	if cfg.MPDSocketPath == "" {
		return fmt.Errorf("mpdSocketPath must not be empty")
	}
	if cfg.CatalogBaseURL != "" {
		u, err := url.Parse(cfg.CatalogBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("catalog baseURL is not a valid absolute URL: %q", cfg.CatalogBaseURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("catalog baseURL must use http or https, got %q", u.Scheme)
		}
	}
	switch cfg.TraceExporter {
	case "", "noop", "otlp-grpc", "otlp-http":
	default:
		return fmt.Errorf("telemetry exporter must be one of noop, otlp-grpc, otlp-http; got %q", cfg.TraceExporter)
	}
	if cfg.TraceExporter == "otlp-grpc" || cfg.TraceExporter == "otlp-http" {
		if cfg.TraceEndpoint == "" {
			return fmt.Errorf("telemetry endpoint required for exporter %q", cfg.TraceExporter)
		}
	}
	if cfg.HealthRateLimit < 1 {
		return fmt.Errorf("health rate limit must be >= 1, got %d", cfg.HealthRateLimit)
	}
	return nil
}
