// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"time"

	"github.com/ytmpd/ytmpd/internal/metrics"
	syncengine "github.com/ytmpd/ytmpd/internal/sync"
)

// runScheduler fires periodic syncs. An immediate run happens at startup
// when auto-sync is enabled; afterwards the ticker takes over. Interval
// changes from config reloads reset the ticker in place.
func (d *Daemon) runScheduler(ctx context.Context) {
	interval := d.initialInterval
	if interval <= 0 {
		interval = time.Hour
	}

	if d.autoSync.Load() {
		d.TriggerSync("startup")
	} else {
		d.logger.Info().
			Str("event", "daemon.autosync_disabled").
			Msg("auto-sync disabled, waiting for manual triggers")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-d.intervalCh:
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				d.logger.Info().
					Str("event", "daemon.interval_changed").
					Dur("interval", interval).
					Msg("sync interval updated")
			}
		case <-ticker.C:
			if !d.autoSync.Load() {
				continue
			}
			d.TriggerSync("timer")
		}
	}
}

// TriggerSync starts a sync in the background unless one is already
// running; at most one sync is in flight at any time. The bool reports
// whether a run was started.
func (d *Daemon) TriggerSync(source string) (bool, string) {
	d.mu.Lock()
	if d.syncInProgress {
		d.mu.Unlock()
		metrics.RecordSyncSkipped()
		d.logger.Warn().
			Str("event", "daemon.sync_skipped").
			Str("source", source).
			Msg("sync already in progress, skipping")
		return false, "sync already in progress"
	}
	d.syncInProgress = true
	runCtx := d.runCtx
	d.mu.Unlock()

	if runCtx == nil {
		// TriggerSync before Run; only tests do this.
		runCtx = context.Background()
	}

	d.logger.Info().
		Str("event", "daemon.sync_triggered").
		Str("source", source).
		Msg("sync started")

	d.syncWG.Add(1)
	go func() {
		defer d.syncWG.Done()
		d.completeSync(d.engine.SyncAll(runCtx))
	}()

	return true, "sync started"
}

// completeSync records the outcome, clears the in-progress flag and
// persists state.
func (d *Daemon) completeSync(res *syncengine.Result) {
	d.mu.Lock()
	completed := res.CompletedAt
	d.state.LastSync = &completed
	d.state.LastSyncResult = res
	d.syncInProgress = false
	d.mu.Unlock()

	d.saveState()
}

// SyncInProgress reports whether a sync is currently running.
func (d *Daemon) SyncInProgress() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncInProgress
}
