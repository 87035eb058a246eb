// SPDX-License-Identifier: MIT

package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	syncengine "github.com/ytmpd/ytmpd/internal/sync"
)

// State is the persisted daemon state. It is written after every sync
// completion and once more at shutdown.
type State struct {
	StartedAt      time.Time          `json:"startedAt"`
	LastSync       *time.Time         `json:"lastSync,omitempty"`
	LastSyncResult *syncengine.Result `json:"lastSyncResult,omitempty"`
}

// LoadState reads the state file. Missing or corrupt files are never fatal:
// sync history is convenience data, the daemon starts fresh without it.
// StartedAt is always reset to the current process start.
func LoadState(path string, logger zerolog.Logger) *State {
	fresh := &State{StartedAt: time.Now().UTC()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().
				Err(err).
				Str("event", "daemon.state_unreadable").
				Str("path", path).
				Msg("state file unreadable, starting fresh")
		}
		return fresh
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "daemon.state_corrupt").
			Str("path", path).
			Msg("state file corrupt, starting fresh")
		return fresh
	}

	st.StartedAt = fresh.StartedAt
	return &st
}

// SaveState writes the state atomically: temp file, fsync, rename. A crash
// never exposes a half-written file.
func SaveState(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("daemon: marshal state: %w", err)
	}
	data = append(data, '\n')

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("daemon: create pending state file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("daemon: write state: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("daemon: replace state file: %w", err)
	}
	return nil
}
