// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_NoCheckers(t *testing.T) {
	m := NewManager()

	resp := m.Check(context.Background(), false)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Failed)
}

func TestCheck_AllHealthy(t *testing.T) {
	m := NewManager()
	m.Register(NewChecker("store", func(context.Context) error { return nil }))
	m.Register(NewChecker("mpd", func(context.Context) error { return nil }))

	resp := m.Check(context.Background(), true)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Failed)
	assert.Empty(t, resp.Errors)
}

func TestCheck_ReportsFailures(t *testing.T) {
	m := NewManager()
	m.Register(NewChecker("store", func(context.Context) error { return nil }))
	m.Register(NewChecker("mpd", func(context.Context) error { return errors.New("dial refused") }))

	resp := m.Check(context.Background(), true)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, []string{"mpd"}, resp.Failed)
	assert.Equal(t, "dial refused", resp.Errors["mpd"])

	// Non-verbose keeps error details out of the body.
	resp = m.Check(context.Background(), false)
	assert.Equal(t, []string{"mpd"}, resp.Failed)
	assert.Nil(t, resp.Errors)
}

func TestServeHTTP_HealthyBody(t *testing.T) {
	m := NewManager()
	m.Register(NewChecker("store", func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"status":"ok"}`, strings.TrimSpace(rec.Body.String()))
}

func TestServeHTTP_UnhealthyNamesChecks(t *testing.T) {
	m := NewManager()
	m.Register(NewChecker("mpd", func(context.Context) error { return errors.New("down") }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil)
	m.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, []string{"mpd"}, resp.Failed)
	assert.Equal(t, "down", resp.Errors["mpd"])
}

func TestCheck_TimeoutAppliesPerChecker(t *testing.T) {
	m := NewManager()
	m.Register(NewChecker("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := m.Check(context.Background(), false)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, []string{"slow"}, resp.Failed)
}
