// SPDX-License-Identifier: MIT

// Package store persists the videoID to stream URL mapping that the sync
// engine writes and the ICY proxy reads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Record is an immutable snapshot of one track mapping.
type Record struct {
	VideoID   string
	StreamURL string
	Title     string
	Artist    string // empty means unknown
	UpdatedAt time.Time
}

// DisplayName renders the ICY display string for the record.
func (r *Record) DisplayName() string {
	if r.Artist == "" {
		return r.Title
	}
	return r.Artist + " - " + r.Title
}

// Store provides SQLite persistence for track mappings. It is safe for one
// writer concurrent with many readers; WAL mode plus busy_timeout handle the
// serialization, callers need no external locking.
type Store struct {
	db     *sql.DB
	clock  func() time.Time
	closed atomic.Bool
}

// Option customizes store construction.
type Option func(*Store)

// WithClock overrides the time source, used by tests to control updatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open initializes the SQLite store at dbPath and runs migrations. The DSN
// pragmas apply to every pooled connection.
func Open(dbPath string, opts ...Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracks (
		video_id   TEXT PRIMARY KEY,
		stream_url TEXT NOT NULL,
		title      TEXT NOT NULL,
		artist     TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tracks_updated_at ON tracks(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close flushes and releases the database. Subsequent operations fail with
// ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}

// Upsert inserts or replaces the mapping for videoID and stamps updatedAt.
// updatedAt never moves backwards, even if the wall clock does.
func (s *Store) Upsert(ctx context.Context, videoID, streamURL, title, artist string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if videoID == "" {
		return fmt.Errorf("upsert: empty video id")
	}
	if streamURL == "" {
		return fmt.Errorf("upsert %s: empty stream url", videoID)
	}
	if title == "" {
		return fmt.Errorf("upsert %s: empty title", videoID)
	}

	query := `
	INSERT INTO tracks (video_id, stream_url, title, artist, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(video_id) DO UPDATE SET
		stream_url = excluded.stream_url,
		title      = excluded.title,
		artist     = excluded.artist,
		updated_at = MAX(excluded.updated_at, tracks.updated_at)
	`
	_, err := s.db.ExecContext(ctx, query, videoID, streamURL, title, artist, s.clock().Unix())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", videoID, err)
	}
	return nil
}

// Get retrieves the record for videoID, or (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, videoID string) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	query := `
	SELECT video_id, stream_url, title, artist, updated_at
	FROM tracks
	WHERE video_id = ?
	`

	var r Record
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, videoID).Scan(
		&r.VideoID, &r.StreamURL, &r.Title, &r.Artist, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", videoID, err)
	}

	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}

// UpdateStreamURL replaces only the URL and updatedAt. A missing videoID is a
// silent no-op, it never creates a row.
func (s *Store) UpdateStreamURL(ctx context.Context, videoID, newURL string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if newURL == "" {
		return fmt.Errorf("update %s: empty stream url", videoID)
	}

	query := `
	UPDATE tracks
	SET stream_url = ?,
	    updated_at = MAX(?, updated_at)
	WHERE video_id = ?
	`
	_, err := s.db.ExecContext(ctx, query, newURL, s.clock().Unix(), videoID)
	if err != nil {
		return fmt.Errorf("update %s: %w", videoID, err)
	}
	return nil
}

// Count reports the number of stored mappings.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity, used by the health checker.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}
