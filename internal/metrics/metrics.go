// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the ytmpd sync and
// proxy subsystems. Labels stay low-cardinality: outcomes and status
// codes only, never video or playlist identifiers.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Sync metrics
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_sync_runs_total",
		Help: "Completed sync runs by result",
	}, []string{"result"}) // result=success|partial|error

	syncPlaylistsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_sync_playlists_total",
		Help: "Playlists handled during sync by outcome",
	}, []string{"result"}) // result=synced|skipped|failed

	syncTracksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_sync_tracks_total",
		Help: "Tracks handled during sync by outcome",
	}, []string{"result"}) // result=resolved|cached|failed

	syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ytmpd_sync_duration_seconds",
		Help:    "Wall time of a full sync run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	syncSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytmpd_sync_skipped_total",
		Help: "Sync triggers skipped because a run was already in flight",
	})

	// Proxy metrics
	proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_proxy_requests_total",
		Help: "Proxy stream requests by HTTP status code",
	}, []string{"code"})

	proxyActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytmpd_proxy_active_streams",
		Help: "Streams currently being relayed",
	})

	proxyBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytmpd_proxy_bytes_total",
		Help: "Audio bytes relayed to clients",
	})

	proxyURLRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_proxy_url_refresh_total",
		Help: "Stale stream URL refreshes by outcome",
	}, []string{"result"}) // result=refreshed|stale_served

	// Resolver metrics
	resolverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytmpd_resolver_requests_total",
		Help: "Stream URL resolutions by outcome",
	}, []string{"result"}) // result=success|error|timeout
)

func RecordSyncRun(result string, seconds float64) {
	syncRunsTotal.WithLabelValues(result).Inc()
	syncDurationSeconds.Observe(seconds)
}

func RecordSyncSkipped() { syncSkippedTotal.Inc() }

func IncPlaylistResult(result string) { syncPlaylistsTotal.WithLabelValues(result).Inc() }
func AddTrackResult(result string, n int) {
	if n > 0 {
		syncTracksTotal.WithLabelValues(result).Add(float64(n))
	}
}

func RecordProxyRequest(code int) {
	proxyRequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

func IncActiveStreams() { proxyActiveStreams.Inc() }
func DecActiveStreams() { proxyActiveStreams.Dec() }

func AddProxyBytes(n int64) {
	if n > 0 {
		proxyBytesTotal.Add(float64(n))
	}
}

func RecordURLRefresh(result string) { proxyURLRefreshTotal.WithLabelValues(result).Inc() }
func RecordResolve(result string)    { resolverRequestsTotal.WithLabelValues(result).Inc() }

// ActiveStreams returns the current gauge value (for testing).
func ActiveStreams() float64 {
	var m dto.Metric
	if err := proxyActiveStreams.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
