// SPDX-License-Identifier: MIT

// Package daemon supervises the long-lived process: it owns the sync
// scheduler, the ICY proxy lifecycle, the Unix command socket and the
// persisted daemon state, and it coordinates graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ytmpd/ytmpd/internal/catalog"
	"github.com/ytmpd/ytmpd/internal/config"
	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/mpd"
	"github.com/ytmpd/ytmpd/internal/store"
	syncengine "github.com/ytmpd/ytmpd/internal/sync"
)

// shutdownGrace bounds the whole shutdown sequence: in-flight sync, proxy
// drain and resource closing.
const shutdownGrace = 30 * time.Second

// Syncer is the slice of the sync engine the daemon drives.
type Syncer interface {
	SyncAll(ctx context.Context) *syncengine.Result
	Preview(ctx context.Context) (*syncengine.Preview, error)
}

// StreamServer is the proxy lifecycle as the daemon sees it.
type StreamServer interface {
	Listen() error
	Serve() error
	Stop(ctx context.Context) error
}

// DisabledProxy returns a no-op StreamServer for configurations that turn
// the ICY proxy off. Playlists then carry raw stream URLs.
func DisabledProxy() StreamServer { return nopProxy{} }

type nopProxy struct{}

func (nopProxy) Listen() error              { return nil }
func (nopProxy) Serve() error               { return nil }
func (nopProxy) Stop(context.Context) error { return nil }

// Deps wires the daemon's collaborators.
type Deps struct {
	Config  config.AppConfig
	Engine  Syncer
	Catalog catalog.Catalog
	Proxy   StreamServer
	Store   *store.Store
	MPD     mpd.Wire

	// Holder enables SIGHUP and file-watcher config reloads. Optional.
	Holder *config.Holder

	// ApplyReload pushes reloaded settings into components the daemon does
	// not own (engine prefix, proxy TTL, resolver pacing, catalog
	// credentials). The daemon itself applies scheduler settings. Optional.
	ApplyReload func(config.AppConfig)
}

// Daemon is the process supervisor. Create with New, drive with Run.
type Daemon struct {
	engine      Syncer
	catalog     catalog.Catalog
	proxy       StreamServer
	store       *store.Store
	mpd         mpd.Wire
	holder      *config.Holder
	applyReload func(config.AppConfig)
	logger      zerolog.Logger

	socketPath      string
	statePath       string
	initialInterval time.Duration

	autoSync   atomic.Bool
	intervalCh chan time.Duration

	mu             sync.Mutex
	syncInProgress bool
	state          *State
	runCtx         context.Context
	cancelRun      context.CancelFunc

	syncWG sync.WaitGroup
}

// New validates the wiring and loads persisted state. Corrupt state is
// replaced with a fresh one, never an error.
func New(deps Deps) (*Daemon, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("daemon: sync engine is required")
	case deps.Catalog == nil:
		return nil, errors.New("daemon: catalog client is required")
	case deps.Proxy == nil:
		return nil, errors.New("daemon: proxy server is required")
	case deps.Store == nil:
		return nil, errors.New("daemon: track store is required")
	case deps.MPD == nil:
		return nil, errors.New("daemon: mpd client is required")
	case deps.Config.CommandSocketPath == "":
		return nil, errors.New("daemon: command socket path is required")
	}

	logger := log.WithComponent("daemon")
	d := &Daemon{
		engine:          deps.Engine,
		catalog:         deps.Catalog,
		proxy:           deps.Proxy,
		store:           deps.Store,
		mpd:             deps.MPD,
		holder:          deps.Holder,
		applyReload:     deps.ApplyReload,
		logger:          logger,
		socketPath:      deps.Config.CommandSocketPath,
		statePath:       deps.Config.StateFilePath,
		initialInterval: deps.Config.SyncInterval,
		intervalCh:      make(chan time.Duration, 1),
		state:           LoadState(deps.Config.StateFilePath, logger),
	}
	d.autoSync.Store(deps.Config.AutoSyncEnabled)
	return d, nil
}

// Run starts every subsystem and blocks until the context is canceled, a
// quit command arrives or a component fails. Binds happen first and
// fail fast; everything after runs under one errgroup.
func (d *Daemon) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	d.mu.Lock()
	d.runCtx = ctx
	d.cancelRun = cancel
	d.mu.Unlock()

	ln, err := d.bindSocket()
	if err != nil {
		return err
	}
	if err := d.proxy.Listen(); err != nil {
		d.closeSocket(ln)
		return err
	}

	d.logger.Info().
		Str("event", "daemon.started").
		Str("socket", d.socketPath).
		Bool("auto_sync", d.autoSync.Load()).
		Msg("daemon started")

	g, gctx := errgroup.WithContext(ctx)

	if d.holder != nil {
		// Best effort: a broken watcher must not keep the daemon down.
		if err := d.holder.StartWatcher(gctx); err != nil {
			d.logger.Warn().
				Err(err).
				Str("event", "config.watcher_start_failed").
				Msg("failed to start config watcher")
		}

		reloadCh := make(chan config.AppConfig, 1)
		d.holder.RegisterListener(reloadCh)
		g.Go(func() error {
			d.applyReloads(gctx, reloadCh)
			return nil
		})

		g.Go(func() error {
			d.watchSIGHUP(gctx)
			return nil
		})
	}

	g.Go(func() error {
		d.runScheduler(gctx)
		return nil
	})

	g.Go(func() error {
		return d.serveSocket(gctx, ln)
	})

	g.Go(func() error {
		return d.proxy.Serve()
	})

	// Shutdown driver: once gctx dies (signal, quit command or a failed
	// component) the hooks run in reverse start order under a bounded,
	// detached grace context.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancelShutdown()
		d.shutdown(shutdownCtx, ln)
		return nil
	})

	werr := g.Wait()
	d.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	return werr
}

// shutdown runs the teardown hooks: stop accepting commands, let an
// in-flight sync reach its checkpoint, drain the proxy, then release
// resources and persist final state.
func (d *Daemon) shutdown(ctx context.Context, ln net.Listener) {
	d.logger.Info().Str("event", "daemon.stopping").Msg("shutting down")

	d.closeSocket(ln)
	d.waitForSync(ctx)

	if err := d.proxy.Stop(ctx); err != nil {
		d.logger.Warn().Err(err).Str("event", "daemon.proxy_stop_failed").Msg("proxy shutdown incomplete")
	}
	if err := d.mpd.Close(); err != nil {
		d.logger.Warn().Err(err).Str("event", "daemon.mpd_close_failed").Msg("mpd connection close failed")
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Str("event", "daemon.store_close_failed").Msg("track store close failed")
	}

	d.saveState()
}

// waitForSync blocks until the in-flight sync goroutine (if any) finishes
// or the grace context expires. A canceled run context already told the
// engine to stop at its next playlist boundary.
func (d *Daemon) waitForSync(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.syncWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().
			Str("event", "daemon.sync_abandoned").
			Msg("grace period expired with sync still running")
	}
}

// requestShutdown cancels the run context; Run's shutdown driver does the
// rest. Used by the quit command.
func (d *Daemon) requestShutdown() {
	d.mu.Lock()
	cancel := d.cancelRun
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// saveState persists a snapshot of the daemon state.
func (d *Daemon) saveState() {
	d.mu.Lock()
	snapshot := *d.state
	d.mu.Unlock()

	if err := SaveState(d.statePath, &snapshot); err != nil {
		d.logger.Error().
			Err(err).
			Str("event", "daemon.state_save_failed").
			Str("path", d.statePath).
			Msg("failed to persist daemon state")
		return
	}
	d.logger.Debug().Str("event", "daemon.state_saved").Msg("daemon state persisted")
}

// applyReloads consumes successful config reloads. The daemon applies its
// own scheduler settings and delegates component settings to the
// ApplyReload hook.
func (d *Daemon) applyReloads(ctx context.Context, ch <-chan config.AppConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-ch:
			d.autoSync.Store(cfg.AutoSyncEnabled)
			select {
			case d.intervalCh <- cfg.SyncInterval:
			default:
			}
			if d.applyReload != nil {
				d.applyReload(cfg)
			}
			d.logger.Info().Str("event", "config.applied").Msg("reloaded configuration applied")
		}
	}
}

// watchSIGHUP triggers a config reload on SIGHUP, the classic daemon
// convention.
func (d *Daemon) watchSIGHUP(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			d.logger.Info().
				Str("event", "config.reload_signal").
				Msg("received SIGHUP, reloading config")
			if err := d.holder.Reload(context.Background()); err != nil {
				d.logger.Warn().
					Err(err).
					Str("event", "config.reload_failed").
					Msg("config reload failed")
			}
		}
	}
}
