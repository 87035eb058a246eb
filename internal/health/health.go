// SPDX-License-Identifier: MIT

// Package health aggregates component checks behind the proxy /health
// endpoint. MPD and scripts poll it, so the happy-path body stays the
// stable two-field form {"status":"ok"}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ytmpd/ytmpd/internal/log"
)

// Status is the top-level health verdict.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// checkTimeout caps each component check so a wedged dependency cannot
// hang the probe.
const checkTimeout = 2 * time.Second

// Checker probes one component. A nil return means healthy.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcChecker) Name() string                    { return c.name }
func (c funcChecker) Check(ctx context.Context) error { return c.fn(ctx) }

// NewChecker wraps fn as a named Checker.
func NewChecker(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

// Response is the /health reply. Failed and Errors are set only when a
// check fails, keeping the healthy body minimal.
type Response struct {
	Status Status            `json:"status"`
	Failed []string          `json:"failed,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Manager runs registered checks and serves the aggregate over HTTP.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates an empty manager. With no checkers registered every
// probe reports healthy.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component check.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Check runs all registered checks and returns the aggregate verdict.
func (m *Manager) Check(ctx context.Context, verbose bool) Response {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	resp := Response{Status: StatusOK}
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err == nil {
			continue
		}
		resp.Status = StatusError
		resp.Failed = append(resp.Failed, c.Name())
		if verbose {
			if resp.Errors == nil {
				resp.Errors = make(map[string]string)
			}
			resp.Errors[c.Name()] = err.Error()
		}
	}
	return resp
}

// ServeHTTP handles GET /health. All checks passing yields 200 with the
// body {"status":"ok"}; any failure yields 503 naming the failed checks.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Check(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusOK {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "health.encode_error").
			Msg("failed to encode health response")
	}

	logger.Debug().
		Str(log.FieldEvent, "health.checked").
		Str("status", string(resp.Status)).
		Strs("failed", resp.Failed).
		Msg("health check performed")
}
