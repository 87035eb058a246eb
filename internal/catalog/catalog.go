// SPDX-License-Identifier: MIT

// Package catalog defines the remote music catalog surface the daemon syncs
// from, plus the JSON-over-HTTP client implementation.
package catalog

import (
	"context"
	"errors"

	"github.com/ytmpd/ytmpd/internal/rating"
)

// ErrUnauthorized indicates the catalog rejected our credentials. Retries
// never recover it; the daemon surfaces it via status and keeps running so a
// config reload can fix the token.
var ErrUnauthorized = errors.New("catalog: unauthorized")

// Playlist is a remote playlist reference, valid during one sync pass.
type Playlist struct {
	ID         string
	Name       string
	TrackCount int
}

// Track is one catalog entry of a playlist. Entries without a VideoID are
// dropped at fetch time and never reach the sync engine.
type Track struct {
	VideoID         string
	Title           string
	Artist          string
	DurationSeconds int
}

// Catalog is the remote catalog client interface.
type Catalog interface {
	ListPlaylists(ctx context.Context) ([]Playlist, error)
	GetPlaylistTracks(ctx context.Context, playlistID string) ([]Track, error)
	GetRating(ctx context.Context, videoID string) (rating.State, error)
	SetRating(ctx context.Context, videoID string, value rating.State) error
}
