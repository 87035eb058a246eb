// SPDX-License-Identifier: MIT

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ytmpd/ytmpd/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(recorder, req)
	return recorder.Body.String()
}

func TestSyncMetricsExposed(t *testing.T) {
	metrics.RecordSyncRun("success", 12.5)
	metrics.IncPlaylistResult("synced")
	metrics.AddTrackResult("resolved", 3)
	metrics.AddTrackResult("failed", 0) // zero adds must not register

	body := scrape(t)

	for _, want := range []string{
		"ytmpd_sync_runs_total",
		`result="success"`,
		"ytmpd_sync_playlists_total",
		"ytmpd_sync_tracks_total",
		"ytmpd_sync_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
	if strings.Contains(body, `ytmpd_sync_tracks_total{result="failed"}`) {
		t.Error("zero-count track result should not create a series")
	}
}

func TestProxyMetricsExposed(t *testing.T) {
	metrics.RecordProxyRequest(200)
	metrics.RecordProxyRequest(404)
	metrics.AddProxyBytes(8192)
	metrics.RecordURLRefresh("refreshed")
	metrics.RecordResolve("timeout")

	body := scrape(t)

	for _, want := range []string{
		`ytmpd_proxy_requests_total{code="200"}`,
		`ytmpd_proxy_requests_total{code="404"}`,
		"ytmpd_proxy_bytes_total",
		`ytmpd_proxy_url_refresh_total{result="refreshed"}`,
		`ytmpd_resolver_requests_total{result="timeout"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestActiveStreamsGauge(t *testing.T) {
	before := metrics.ActiveStreams()
	metrics.IncActiveStreams()
	metrics.IncActiveStreams()
	metrics.DecActiveStreams()
	if got := metrics.ActiveStreams(); got != before+1 {
		t.Errorf("active streams = %v, want %v", got, before+1)
	}
	metrics.DecActiveStreams()
}
