// SPDX-License-Identifier: MIT

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ytmpd/ytmpd/internal/rating"
	"github.com/ytmpd/ytmpd/internal/version"
)

// Client talks to the catalog's JSON API with bearer-token auth.
type Client struct {
	mu    sync.RWMutex
	base  string
	token string
	http  *http.Client
}

// New creates a catalog client for the given base URL and token.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// UpdateAuth swaps base URL and token, used when a config reload fixes
// credentials without a restart.
func (c *Client) UpdateAuth(baseURL, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = strings.TrimRight(baseURL, "/")
	c.token = token
}

func (c *Client) endpoint(path string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base + path, c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	endpoint, token := c.endpoint(path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return fmt.Errorf("%s %s: unexpected status %d", method, path, res.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// ListPlaylists returns all playlists of the authenticated user.
func (c *Client) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	var p struct {
		Playlists []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			TrackCount int    `json:"trackCount"`
		} `json:"playlists"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/playlists", nil, &p); err != nil {
		return nil, err
	}

	out := make([]Playlist, 0, len(p.Playlists))
	for _, pl := range p.Playlists {
		out = append(out, Playlist{ID: pl.ID, Name: pl.Name, TrackCount: pl.TrackCount})
	}
	return out, nil
}

// GetPlaylistTracks returns a playlist's tracks in catalog order. Entries
// without a videoId are dropped here.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) ([]Track, error) {
	var p struct {
		Tracks []struct {
			VideoID         string `json:"videoId"`
			Title           string `json:"title"`
			Artist          string `json:"artist"`
			DurationSeconds int    `json:"durationSeconds"`
		} `json:"tracks"`
	}
	path := "/api/playlists/" + url.PathEscape(playlistID) + "/tracks"
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}

	out := make([]Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if t.VideoID == "" {
			continue
		}
		out = append(out, Track{
			VideoID:         t.VideoID,
			Title:           t.Title,
			Artist:          t.Artist,
			DurationSeconds: t.DurationSeconds,
		})
	}
	return out, nil
}

// GetRating returns the catalog's rating for a track. The catalog reports
// INDIFFERENT for both neutral and disliked tracks; see the rating package.
func (c *Client) GetRating(ctx context.Context, videoID string) (rating.State, error) {
	var p struct {
		Rating string `json:"rating"`
	}
	path := "/api/tracks/" + url.PathEscape(videoID) + "/rating"
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return rating.Neutral, err
	}

	state, err := rating.ParseState(p.Rating)
	if err != nil {
		return rating.Neutral, fmt.Errorf("track %s: %w", videoID, err)
	}
	return state, nil
}

// SetRating writes a rating value upstream.
func (c *Client) SetRating(ctx context.Context, videoID string, value rating.State) error {
	body := struct {
		Rating string `json:"rating"`
	}{Rating: value.String()}

	path := "/api/tracks/" + url.PathEscape(videoID) + "/rating"
	return c.do(ctx, http.MethodPut, path, body, nil)
}
