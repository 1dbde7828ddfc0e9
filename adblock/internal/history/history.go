// Package history keeps sweep reports in SQLite so the status API can show
// more than the last sweep of a page.
//
// Writes are buffered and flushed in batches by a background goroutine, on
// a full buffer, before every read and on Close. With a retention set, the
// same goroutine deletes reports older than it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/dbopen"
)

// Schema for the sweep_reports table.
const Schema = `
CREATE TABLE IF NOT EXISTS sweep_reports (
	id           TEXT PRIMARY KEY,
	page_id      TEXT NOT NULL,
	page_url     TEXT NOT NULL,
	trigger      TEXT NOT NULL,
	matched      INTEGER NOT NULL,
	suppressed   INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	rejected     INTEGER NOT NULL,
	errors       INTEGER NOT NULL,
	skip_clicked INTEGER NOT NULL,
	timestamp    INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sweep_reports_page ON sweep_reports(page_id, timestamp);
`

// Config for a Store.
type Config struct {
	BufferSize    int           // default 100
	FlushInterval time.Duration // default 5s
	// Retention is the age past which reports are deleted. Zero keeps
	// everything.
	Retention       time.Duration
	CleanupInterval time.Duration // default 1h
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is a sink that persists reports.
type Store struct {
	db     *sql.DB
	ownsDB bool
	cfg    Config

	mu     sync.Mutex
	buffer []dom.Report

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Open opens (or creates) the report database at path.
func Open(path string, cfg Config) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s := New(db, cfg)
	s.ownsDB = true
	return s, nil
}

// New wraps a database that already has Schema applied.
func New(db *sql.DB, cfg Config) *Store {
	cfg.defaults()
	s := &Store{
		db:     db,
		cfg:    cfg,
		buffer: make([]dom.Report, 0, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Send queues rep. It never blocks on the database unless the buffer is full.
func (s *Store) Send(ctx context.Context, rep dom.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, rep)
	if len(s.buffer) >= s.cfg.BufferSize {
		return s.flushLocked(ctx)
	}
	return nil
}

// Recent returns up to limit reports of a page, newest first.
func (s *Store) Recent(ctx context.Context, pageID string, limit int) ([]dom.Report, error) {
	s.mu.Lock()
	err := s.flushLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, page_url, trigger, matched, suppressed, skipped,
		       rejected, errors, skip_clicked, timestamp, duration_ns
		FROM sweep_reports
		WHERE page_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []dom.Report
	for rows.Next() {
		var r dom.Report
		var dur int64
		if err := rows.Scan(&r.ID, &r.PageID, &r.PageURL, &r.Trigger,
			&r.Matched, &r.Suppressed, &r.Skipped, &r.Rejected, &r.Errors,
			&r.SkipClicked, &r.Timestamp, &dur); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Duration = time.Duration(dur)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes reports older than maxAge and returns how many went.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM sweep_reports WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close flushes what is buffered and stops the flush loop. The database is
// closed only if the Store opened it.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var cleanupC <-chan time.Time
	if s.cfg.Retention > 0 {
		s.expire()
		cleanup := time.NewTicker(s.cfg.CleanupInterval)
		defer cleanup.Stop()
		cleanupC = cleanup.C
	}

	for {
		select {
		case <-s.stop:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		case <-cleanupC:
			s.expire()
		}
	}
}

func (s *Store) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.Cleanup(ctx, s.cfg.Retention)
	if err != nil {
		s.cfg.Logger.Error("history: retention", "error", err)
		return
	}
	if n > 0 {
		s.cfg.Logger.Info("history: expired reports", "deleted", n, "retention", s.cfg.Retention)
	}
}

func (s *Store) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(ctx); err != nil {
		s.cfg.Logger.Error("history: flush", "error", err, "pending", len(s.buffer))
	}
}

// flushLocked must be called with s.mu held. On failure the buffer is kept
// for the next attempt.
func (s *Store) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO sweep_reports (id, page_id, page_url, trigger,
				matched, suppressed, skipped, rejected, errors, skip_clicked,
				timestamp, duration_ns)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return fmt.Errorf("history: prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range s.buffer {
			if _, err := stmt.ExecContext(ctx, r.ID, r.PageID, r.PageURL, string(r.Trigger),
				r.Matched, r.Suppressed, r.Skipped, r.Rejected, r.Errors, r.SkipClicked,
				r.Timestamp, int64(r.Duration)); err != nil {
				return fmt.Errorf("history: insert %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.buffer = s.buffer[:0]
	return nil
}
