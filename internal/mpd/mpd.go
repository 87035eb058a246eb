// SPDX-License-Identifier: MIT

// Package mpd talks to a Music Player Daemon over its line protocol and
// exposes the small slice of it the playlist sync needs: stored playlist
// enumeration and full-replace writes.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gompd "github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog"

	"github.com/ytmpd/ytmpd/internal/log"
)

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("mpd: client closed")

// Wire is the MPD surface consumed by the sync engine.
type Wire interface {
	// Ping verifies the connection, dialing if necessary.
	Ping(ctx context.Context) error
	// ListPlaylists returns the names of all stored playlists.
	ListPlaylists(ctx context.Context) ([]string, error)
	// CreateOrReplacePlaylist replaces the stored playlist with the given
	// entries, creating it when absent. Entry order is preserved.
	CreateOrReplacePlaylist(ctx context.Context, name string, uris []string) error
	// Close tears down the connection. Safe to call twice.
	Close() error
}

// Config describes how to reach the MPD server.
type Config struct {
	// Address is either an absolute unix socket path or a host:port pair.
	Address string
	// Password is sent after connecting when non-empty.
	Password string
}

// Client is a single-connection MPD client. The daemon touches MPD only
// during sync runs, so instead of keeping a pool alive with background
// pings the client verifies the connection on checkout and redials when
// it has gone stale (MPD restarts between runs are common).
type Client struct {
	network string
	addr    string
	passwd  string
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   *gompd.Client
	closed bool
}

var _ Wire = (*Client)(nil)

// NewClient builds a client for the given address. No connection is made
// until the first operation.
func NewClient(cfg Config) *Client {
	network := "tcp"
	if strings.HasPrefix(cfg.Address, "/") {
		network = "unix"
	}
	return &Client{
		network: network,
		addr:    cfg.Address,
		passwd:  cfg.Password,
		logger:  log.WithComponent("mpd"),
	}
}

// withConn runs fn against a live connection. The first use dials; later
// uses ping the cached connection and redial once if the ping fails.
func (c *Client) withConn(ctx context.Context, fn func(*gompd.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.conn != nil {
		if err := c.conn.Ping(); err != nil {
			c.logger.Debug().
				Err(err).
				Str(log.FieldEvent, "mpd.redial").
				Msg("cached connection stale")
			c.conn.Close()
			c.conn = nil
		}
	}
	if c.conn == nil {
		conn, err := gompd.DialAuthenticated(c.network, c.addr, c.passwd)
		if err != nil {
			return fmt.Errorf("mpd: dial %s %s: %w", c.network, c.addr, err)
		}
		c.conn = conn
		c.logger.Debug().
			Str(log.FieldEvent, "mpd.connected").
			Str("network", c.network).
			Str("address", c.addr).
			Msg("connected")
	}
	return fn(c.conn)
}

// Ping verifies the connection, dialing if necessary.
func (c *Client) Ping(ctx context.Context) error {
	return c.withConn(ctx, func(conn *gompd.Client) error {
		return conn.Ping()
	})
}

// ListPlaylists returns the names of all stored playlists in server order.
func (c *Client) ListPlaylists(ctx context.Context) ([]string, error) {
	var names []string
	err := c.withConn(ctx, func(conn *gompd.Client) error {
		attrs, err := conn.ListPlaylists()
		if err != nil {
			return fmt.Errorf("mpd: listplaylists: %w", err)
		}
		names = names[:0]
		for _, a := range attrs {
			if name := a["playlist"]; name != "" {
				names = append(names, name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// CreateOrReplacePlaylist replaces the stored playlist with the given
// entries in order. The name is sanitized first; MPD stores playlists as
// files, so slashes and control characters never reach the server.
//
// MPD has no transactional playlist write. Replace is rm (tolerating a
// missing playlist) followed by one playlistadd per entry; a failure in
// the middle leaves a partial playlist, which the caller surfaces as a
// per-playlist sync error.
func (c *Client) CreateOrReplacePlaylist(ctx context.Context, name string, uris []string) error {
	name = SanitizeName(name)
	if name == "" {
		return fmt.Errorf("mpd: playlist name empty after sanitization")
	}
	return c.withConn(ctx, func(conn *gompd.Client) error {
		if err := conn.PlaylistRemove(name); err != nil && !isNoSuchPlaylist(err) {
			return fmt.Errorf("mpd: rm %q: %w", name, err)
		}
		for i, uri := range uris {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := conn.PlaylistAdd(name, uri); err != nil {
				return fmt.Errorf("mpd: playlistadd %q entry %d: %w", name, i, err)
			}
		}
		return nil
	})
}

// Close tears down the connection. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// isNoSuchPlaylist matches the ACK 50 reply to rm on a missing playlist.
// Matched on text because gompd surfaces server ACKs as opaque errors.
func isNoSuchPlaylist(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such playlist")
}
