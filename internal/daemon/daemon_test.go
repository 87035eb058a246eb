// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytmpd/ytmpd/internal/catalog"
	"github.com/ytmpd/ytmpd/internal/config"
	"github.com/ytmpd/ytmpd/internal/rating"
	"github.com/ytmpd/ytmpd/internal/store"
	syncengine "github.com/ytmpd/ytmpd/internal/sync"
)

type fakeSyncer struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{} // when non-nil, SyncAll waits for close
	result  *syncengine.Result
	preview *syncengine.Preview
	prevErr error
}

func (f *fakeSyncer) SyncAll(ctx context.Context) *syncengine.Result {
	f.mu.Lock()
	f.calls++
	block := f.block
	res := f.result
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	if res == nil {
		res = &syncengine.Result{RunID: "fake", Success: true, CompletedAt: time.Now().UTC()}
	}
	return res
}

func (f *fakeSyncer) Preview(context.Context) (*syncengine.Preview, error) {
	if f.prevErr != nil {
		return nil, f.prevErr
	}
	if f.preview != nil {
		return f.preview, nil
	}
	return &syncengine.Preview{}, nil
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProxy struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	listened atomic.Bool
}

func newFakeProxy() *fakeProxy { return &fakeProxy{stopCh: make(chan struct{})} }

func (f *fakeProxy) Listen() error { f.listened.Store(true); return nil }

func (f *fakeProxy) Serve() error { <-f.stopCh; return nil }

func (f *fakeProxy) Stop(context.Context) error {
	f.stopOnce.Do(func() { close(f.stopCh) })
	return nil
}

type fakeCatalog struct {
	mu        sync.Mutex
	playlists []catalog.Playlist
	tracks    map[string][]catalog.Track
	ratings   map[string]rating.State
	listErr   error
}

func (f *fakeCatalog) ListPlaylists(context.Context) ([]catalog.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.playlists, nil
}

func (f *fakeCatalog) GetPlaylistTracks(_ context.Context, playlistID string) ([]catalog.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[playlistID], nil
}

func (f *fakeCatalog) GetRating(_ context.Context, videoID string) (rating.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ratings[videoID], nil
}

func (f *fakeCatalog) SetRating(_ context.Context, videoID string, st rating.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ratings == nil {
		f.ratings = make(map[string]rating.State)
	}
	f.ratings[videoID] = st
	return nil
}

func (f *fakeCatalog) ratingOf(videoID string) rating.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ratings[videoID]
}

type fakeMPD struct{ closed atomic.Bool }

func (f *fakeMPD) Ping(context.Context) error                      { return nil }
func (f *fakeMPD) ListPlaylists(context.Context) ([]string, error) { return nil, nil }

func (f *fakeMPD) CreateOrReplacePlaylist(context.Context, string, []string) error { return nil }

func (f *fakeMPD) Close() error {
	f.closed.Store(true)
	return nil
}

type daemonEnv struct {
	daemon  *Daemon
	syncer  *fakeSyncer
	proxy   *fakeProxy
	catalog *fakeCatalog
	mpd     *fakeMPD
	socket  string
	state   string
	runErr  chan error
	cancel  context.CancelFunc
}

func newDaemonEnv(t *testing.T, syncer *fakeSyncer, cat *fakeCatalog) *daemonEnv {
	t.Helper()

	dir := t.TempDir()
	env := &daemonEnv{
		syncer:  syncer,
		proxy:   newFakeProxy(),
		catalog: cat,
		mpd:     &fakeMPD{},
		socket:  filepath.Join(dir, "ytmpd.sock"),
		state:   filepath.Join(dir, "state.json"),
	}
	if env.syncer == nil {
		env.syncer = &fakeSyncer{}
	}
	if env.catalog == nil {
		env.catalog = &fakeCatalog{}
	}

	st, err := store.Open(filepath.Join(dir, "tracks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d, err := New(Deps{
		Config: config.AppConfig{
			CommandSocketPath: env.socket,
			StateFilePath:     env.state,
			SyncInterval:      time.Hour,
			AutoSyncEnabled:   false,
		},
		Engine:  env.syncer,
		Catalog: env.catalog,
		Proxy:   env.proxy,
		Store:   st,
		MPD:     env.mpd,
	})
	require.NoError(t, err)
	env.daemon = d
	return env
}

// start runs the daemon and waits for the command socket to come up.
func (env *daemonEnv) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	env.runErr = make(chan error, 1)
	go func() { env.runErr <- env.daemon.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", env.socket)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "command socket never came up")

	t.Cleanup(func() {
		cancel()
		select {
		case <-env.runErr:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop within grace period")
		}
	})
}

// send issues one command over a fresh connection and decodes the reply.
func (env *daemonEnv) send(t *testing.T, cmd string) map[string]any {
	t.Helper()

	conn, err := net.Dial("unix", env.socket)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = fmt.Fprintf(conn, "%s\n", cmd)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.NewDecoder(conn).Decode(&out))
	return out
}

func TestNewRejectsMissingDeps(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "tracks.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	valid := Deps{
		Config: config.AppConfig{
			CommandSocketPath: filepath.Join(dir, "d.sock"),
			StateFilePath:     filepath.Join(dir, "state.json"),
		},
		Engine:  &fakeSyncer{},
		Catalog: &fakeCatalog{},
		Proxy:   newFakeProxy(),
		Store:   st,
		MPD:     &fakeMPD{},
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"no engine", func(d *Deps) { d.Engine = nil }},
		{"no catalog", func(d *Deps) { d.Catalog = nil }},
		{"no proxy", func(d *Deps) { d.Proxy = nil }},
		{"no store", func(d *Deps) { d.Store = nil }},
		{"no mpd", func(d *Deps) { d.MPD = nil }},
		{"no socket path", func(d *Deps) { d.Config.CommandSocketPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid
			tt.mutate(&deps)
			_, err := New(deps)
			assert.Error(t, err)
		})
	}

	d, err := New(valid)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestStatusCommandInitial(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	env.start(t)

	out := env.send(t, "status")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["syncInProgress"])
	assert.NotEmpty(t, out["startedAt"])
	assert.NotContains(t, out, "lastSync")
}

func TestSyncCommandRunsEngine(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	env.start(t)

	out := env.send(t, "sync")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "sync started", out["message"])

	require.Eventually(t, func() bool {
		return env.syncer.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Completion lands in status and on disk.
	require.Eventually(t, func() bool {
		st := env.send(t, "status")
		_, ok := st["lastSync"]
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	_, err := os.Stat(env.state)
	assert.NoError(t, err)
}

func TestSyncCommandRejectedWhileRunning(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{})}
	env := newDaemonEnv(t, syncer, nil)
	env.start(t)

	out := env.send(t, "sync")
	require.Equal(t, true, out["success"])

	out = env.send(t, "sync")
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "sync already in progress", out["message"])

	close(syncer.block)
	require.Eventually(t, func() bool {
		return !env.daemon.SyncInProgress()
	}, 2*time.Second, 10*time.Millisecond)

	// Engine ran exactly once; the rejected trigger never reached it.
	assert.Equal(t, 1, syncer.callCount())
}

func TestListCommand(t *testing.T) {
	cat := &fakeCatalog{playlists: []catalog.Playlist{
		{ID: "PL1", Name: "Focus", TrackCount: 12},
		{ID: "PL2", Name: "Workout", TrackCount: 30},
	}}
	env := newDaemonEnv(t, nil, cat)
	env.start(t)

	out := env.send(t, "list")
	require.Equal(t, true, out["success"])

	playlists, ok := out["playlists"].([]any)
	require.True(t, ok)
	require.Len(t, playlists, 2)

	first, ok := playlists[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PL1", first["id"])
	assert.Equal(t, "Focus", first["name"])
	assert.Equal(t, float64(12), first["trackCount"])
}

func TestPreviewCommand(t *testing.T) {
	syncer := &fakeSyncer{preview: &syncengine.Preview{
		PlaylistNames: []string{"YT: Focus"},
		TotalTracks:   7,
	}}
	env := newDaemonEnv(t, syncer, nil)
	env.start(t)

	out := env.send(t, "preview")
	require.Equal(t, true, out["success"])

	preview, ok := out["preview"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), preview["totalTracks"])
}

func TestRateCommandTogglesState(t *testing.T) {
	cat := &fakeCatalog{}
	env := newDaemonEnv(t, nil, cat)
	env.start(t)

	out := env.send(t, "rate dQw4w9WgXcQ like")
	require.Equal(t, true, out["success"])
	assert.Equal(t, "INDIFFERENT", out["previous"])
	assert.Equal(t, "LIKE", out["new"])
	assert.Equal(t, rating.Liked, cat.ratingOf("dQw4w9WgXcQ"))

	// A second like clears the rating.
	out = env.send(t, "rate dQw4w9WgXcQ like")
	require.Equal(t, true, out["success"])
	assert.Equal(t, "LIKE", out["previous"])
	assert.Equal(t, "INDIFFERENT", out["new"])
	assert.Equal(t, rating.Neutral, cat.ratingOf("dQw4w9WgXcQ"))
}

func TestRateCommandRejectsBadInput(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	env.start(t)

	tests := []struct {
		name string
		cmd  string
		want string
	}{
		{"missing args", "rate dQw4w9WgXcQ", "usage: rate"},
		{"short id", "rate short like", "invalid video id"},
		{"bad action", "rate dQw4w9WgXcQ meh", "unknown rating action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := env.send(t, tt.cmd)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["message"], tt.want)
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	env.start(t)

	out := env.send(t, "frobnicate")
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "unknown command")
}

func TestQuitCommandShutsDown(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	env.start(t)

	out := env.send(t, "quit")
	assert.Equal(t, true, out["success"])

	select {
	case err := <-env.runErr:
		assert.NoError(t, err)
		// Re-buffer the result so the start() cleanup, which also waits on
		// runErr, can observe the shutdown instead of timing out.
		env.runErr <- err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down after quit")
	}

	// Shutdown hooks ran: socket removed, proxy drained, MPD closed.
	_, err := os.Stat(env.socket)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, env.mpd.closed.Load())

	// Final state was persisted.
	_, err = os.Stat(env.state)
	assert.NoError(t, err)
}

func TestTriggerSyncAtMostOne(t *testing.T) {
	syncer := &fakeSyncer{block: make(chan struct{})}
	env := newDaemonEnv(t, syncer, nil)

	started, _ := env.daemon.TriggerSync("test")
	require.True(t, started)
	assert.True(t, env.daemon.SyncInProgress())

	started, msg := env.daemon.TriggerSync("test")
	assert.False(t, started)
	assert.Equal(t, "sync already in progress", msg)

	close(syncer.block)
	require.Eventually(t, func() bool {
		return !env.daemon.SyncInProgress()
	}, 2*time.Second, 10*time.Millisecond)

	// The gate reopens once the run finishes.
	started, _ = env.daemon.TriggerSync("test")
	assert.True(t, started)
	require.Eventually(t, func() bool {
		return env.syncer.callCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestApplyReloadsUpdatesScheduler(t *testing.T) {
	env := newDaemonEnv(t, nil, nil)
	require.False(t, env.daemon.autoSync.Load())

	applied := make(chan config.AppConfig, 1)
	env.daemon.applyReload = func(cfg config.AppConfig) { applied <- cfg }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan config.AppConfig, 1)
	go env.daemon.applyReloads(ctx, ch)

	ch <- config.AppConfig{AutoSyncEnabled: true, SyncInterval: 5 * time.Minute}

	select {
	case got := <-applied:
		assert.Equal(t, 5*time.Minute, got.SyncInterval)
	case <-time.After(2 * time.Second):
		t.Fatal("reload hook never called")
	}

	assert.True(t, env.daemon.autoSync.Load())
	select {
	case interval := <-env.daemon.intervalCh:
		assert.Equal(t, 5*time.Minute, interval)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never received the new interval")
	}
}
