// SPDX-License-Identifier: MIT

package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/rating"
	syncengine "github.com/ytmpd/ytmpd/internal/sync"
)

// Command socket protocol: one text command per connection, terminated by
// newline or EOF, answered with a single JSON line. Commands: sync,
// status, list, preview, rate <videoID> <like|dislike>, quit.
const (
	connIOTimeout  = 30 * time.Second
	commandTimeout = 25 * time.Second
	maxCommandLine = 4096
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

type reply struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type statusReply struct {
	Success        bool               `json:"success"`
	SyncInProgress bool               `json:"syncInProgress"`
	StartedAt      time.Time          `json:"startedAt"`
	LastSync       *time.Time         `json:"lastSync,omitempty"`
	LastSyncResult *syncengine.Result `json:"lastSyncResult,omitempty"`
}

type playlistSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"trackCount"`
}

type listReply struct {
	Success   bool              `json:"success"`
	Playlists []playlistSummary `json:"playlists"`
}

type previewReply struct {
	Success bool                `json:"success"`
	Preview *syncengine.Preview `json:"preview"`
}

type rateReply struct {
	Success  bool   `json:"success"`
	VideoID  string `json:"videoId,omitempty"`
	Previous string `json:"previous,omitempty"`
	New      string `json:"new,omitempty"`
	Message  string `json:"message,omitempty"`
}

// bindSocket creates the Unix command socket, replacing a stale file from
// a previous run. Mode 0600: commands are owner-only.
func (d *Daemon) bindSocket() (net.Listener, error) {
	if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon: remove stale socket %s: %w", d.socketPath, err)
	}
	ln, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: bind command socket %s: %w", d.socketPath, err)
	}
	if err := os.Chmod(d.socketPath, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(d.socketPath)
		return nil, fmt.Errorf("daemon: chmod command socket: %w", err)
	}
	d.logger.Info().
		Str("event", "daemon.socket_bound").
		Str("path", d.socketPath).
		Msg("command socket listening")
	return ln, nil
}

func (d *Daemon) closeSocket(ln net.Listener) {
	_ = ln.Close()
	if err := os.Remove(d.socketPath); err != nil && !os.IsNotExist(err) {
		d.logger.Debug().Err(err).Msg("socket file cleanup")
	}
}

// serveSocket accepts command connections until the listener is closed.
// Each connection is handled in its own goroutine; all of them are waited
// for before returning.
func (d *Daemon) serveSocket(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("daemon: command socket accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(connIOTimeout))

	line, err := readCommandLine(conn)
	if err != nil {
		d.logger.Debug().
			Err(err).
			Str("event", "daemon.command_read_failed").
			Msg("dropping connection")
		return
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := writeReply(conn, d.dispatch(cmdCtx, line)); err != nil {
		d.logger.Debug().
			Err(err).
			Str("event", "daemon.reply_failed").
			Msg("failed to write reply")
	}
}

// readCommandLine reads one command, terminated by newline or EOF.
func readCommandLine(conn net.Conn) (string, error) {
	r := bufio.NewReaderSize(io.LimitReader(conn, maxCommandLine), maxCommandLine)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("empty command")
	}
	return line, nil
}

func writeReply(conn net.Conn, v any) error {
	// Encode appends the terminating newline.
	return json.NewEncoder(conn).Encode(v)
}

func (d *Daemon) dispatch(ctx context.Context, line string) any {
	fields := strings.Fields(line)
	cmd := fields[0]

	d.logger.Debug().
		Str("event", "daemon.command").
		Str("command", cmd).
		Msg("command received")

	switch cmd {
	case "sync":
		started, msg := d.TriggerSync("command")
		return reply{Success: started, Message: msg}

	case "status":
		return d.statusSnapshot()

	case "list":
		playlists, err := d.catalog.ListPlaylists(ctx)
		if err != nil {
			return reply{Success: false, Message: fmt.Sprintf("list playlists: %v", err)}
		}
		out := make([]playlistSummary, 0, len(playlists))
		for _, pl := range playlists {
			out = append(out, playlistSummary{ID: pl.ID, Name: pl.Name, TrackCount: pl.TrackCount})
		}
		return listReply{Success: true, Playlists: out}

	case "preview":
		pv, err := d.engine.Preview(ctx)
		if err != nil {
			return reply{Success: false, Message: fmt.Sprintf("preview: %v", err)}
		}
		return previewReply{Success: true, Preview: pv}

	case "rate":
		return d.handleRate(ctx, fields[1:])

	case "quit":
		d.logger.Info().
			Str("event", "daemon.quit_requested").
			Msg("shutdown requested via command socket")
		d.requestShutdown()
		return reply{Success: true, Message: "shutting down"}

	default:
		return reply{Success: false, Message: fmt.Sprintf("unknown command %q", cmd)}
	}
}

func (d *Daemon) statusSnapshot() statusReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	return statusReply{
		Success:        true,
		SyncInProgress: d.syncInProgress,
		StartedAt:      d.state.StartedAt,
		LastSync:       d.state.LastSync,
		LastSyncResult: d.state.LastSyncResult,
	}
}

// handleRate applies a like or dislike through the rating state machine:
// read the current upstream state, compute the transition, write back.
func (d *Daemon) handleRate(ctx context.Context, args []string) rateReply {
	if len(args) != 2 {
		return rateReply{Success: false, Message: "usage: rate <videoID> <like|dislike>"}
	}
	videoID := args[0]
	if !videoIDPattern.MatchString(videoID) {
		return rateReply{Success: false, Message: fmt.Sprintf("invalid video id %q", videoID)}
	}
	action, err := rating.ParseAction(args[1])
	if err != nil {
		return rateReply{Success: false, Message: err.Error()}
	}

	current, err := d.catalog.GetRating(ctx, videoID)
	if err != nil {
		return rateReply{Success: false, Message: fmt.Sprintf("read rating: %v", err)}
	}
	next, upstream := rating.Transition(current, action)
	if err := d.catalog.SetRating(ctx, videoID, upstream); err != nil {
		return rateReply{Success: false, Message: fmt.Sprintf("write rating: %v", err)}
	}

	d.logger.Info().
		Str("event", "daemon.rated").
		Str(log.FieldVideoID, videoID).
		Str(log.FieldOldState, current.String()).
		Str(log.FieldNewState, next.String()).
		Msg("rating updated")

	return rateReply{
		Success:  true,
		VideoID:  videoID,
		Previous: current.String(),
		New:      next.String(),
	}
}
