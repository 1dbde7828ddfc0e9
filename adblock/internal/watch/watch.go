// Package watch polls the page database and runs a reload once a change
// has settled. It drives the hot reload of the sweep_pages table.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// Detector reads a version token. Two different tokens mean the database
// changed in between.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval is the polling period. Default: 2s.
	Interval time.Duration
	// Debounce is the quiet period a change must survive before the reload
	// runs. A new change during the window restarts it. Zero reloads on
	// the poll that saw the change.
	Debounce time.Duration
	// Detector defaults to PragmaDataVersion.
	Detector Detector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Detector == nil {
		o.Detector = PragmaDataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a database for changes.
type Watcher struct {
	db      *sql.DB
	opts    Options
	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// New creates a Watcher. PragmaDataVersion is per connection, so db should
// be limited to one open connection.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// OnChange polls until ctx is done and calls reload after each settled
// change. A failed reload leaves the version unchanged so the next poll
// retries it.
func (w *Watcher) OnChange(ctx context.Context, reload func(ctx context.Context) error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var settle *time.Timer
	var settleC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(ctx, reload, pending)
				pending = -1
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(w.opts.Debounce)
			settleC = settle.C

		case <-settleC:
			settleC = nil
			if pending >= 0 {
				w.fire(ctx, reload, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, reload func(ctx context.Context) error, ver int64) {
	start := time.Now()
	if err := reload(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: reload failed", "error", err, "version", ver)
		return
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	w.opts.Logger.Info("watch: reloaded", "version", ver, "duration", time.Since(start))
}

// PragmaDataVersion changes whenever another connection commits to the
// database file.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// PragmaUserVersion reads the application-controlled user_version.
func PragmaUserVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
