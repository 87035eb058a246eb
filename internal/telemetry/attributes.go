// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Sync attributes
	SyncRunIDKey          = "sync.run_id"
	SyncPlaylistsKey      = "sync.playlists"
	SyncTracksResolvedKey = "sync.tracks_resolved"
	SyncTracksFailedKey   = "sync.tracks_failed"

	// Proxy attributes
	ProxyVideoIDKey   = "proxy.video_id"
	ProxyRefreshedKey = "proxy.url_refreshed"

	// Resolver attributes
	ResolveVideoIDKey  = "resolve.video_id"
	ResolveAttemptsKey = "resolve.attempts"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SyncAttributes creates sync run span attributes.
func SyncAttributes(runID string, playlists, resolved, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SyncRunIDKey, runID),
		attribute.Int(SyncPlaylistsKey, playlists),
		attribute.Int(SyncTracksResolvedKey, resolved),
		attribute.Int(SyncTracksFailedKey, failed),
	}
}

// ProxyAttributes creates proxy stream span attributes.
func ProxyAttributes(videoID string, refreshed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProxyVideoIDKey, videoID),
		attribute.Bool(ProxyRefreshedKey, refreshed),
	}
}

// ResolveAttributes creates resolver span attributes.
func ResolveAttributes(videoID string, attempts int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ResolveVideoIDKey, videoID),
		attribute.Int(ResolveAttemptsKey, attempts),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
