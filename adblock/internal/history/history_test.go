package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
	"github.com/hazyhaar/adsweep/dbopen"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func report(page string, i int, ts int64) dom.Report {
	return dom.Report{
		ID:          fmt.Sprintf("rpt_%s_%02d", page, i),
		PageID:      page,
		PageURL:     "https://www.youtube.com/" + page,
		Trigger:     dom.TriggerFallback,
		Matched:     i,
		Suppressed:  i,
		SkipClicked: i%2 == 1,
		Timestamp:   ts,
		Duration:    time.Duration(i) * time.Millisecond,
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{FlushInterval: time.Hour, Logger: quiet})
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Send(ctx, report("watch", i, int64(1000+i))); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	s.Send(ctx, report("home", 0, 2000))

	got, err := s.Recent(ctx, "watch", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent: got %d reports, want 3", len(got))
	}
	if got[0].ID != "rpt_watch_04" || got[2].ID != "rpt_watch_02" {
		t.Errorf("order: got %s .. %s", got[0].ID, got[2].ID)
	}
	if got[0].Trigger != dom.TriggerFallback || got[0].Duration != 4*time.Millisecond || got[1].SkipClicked {
		t.Errorf("round trip: got %+v / %+v", got[0], got[1])
	}
}

func TestStore_FlushOnFullBuffer(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{BufferSize: 2, FlushInterval: time.Hour, Logger: quiet})
	defer s.Close()
	ctx := context.Background()

	s.Send(ctx, report("watch", 0, 1))
	s.Send(ctx, report("watch", 1, 2))

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sweep_reports`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows after full buffer: got %d, want 2", n)
	}
}

func TestStore_CloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.db")
	s, err := Open(path, Config{FlushInterval: time.Hour, Logger: quiet})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Send(context.Background(), report("watch", 0, 1))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM sweep_reports`).Scan(&n)
	if n != 1 {
		t.Errorf("rows after Close: got %d, want 1", n)
	}
}

func TestStore_Cleanup(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{FlushInterval: time.Hour, Logger: quiet})
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.Send(ctx, report("watch", 0, now.Add(-48*time.Hour).UnixMilli()))
	s.Send(ctx, report("watch", 1, now.UnixMilli()))
	if _, err := s.Recent(ctx, "watch", 0); err != nil {
		t.Fatal(err)
	}

	n, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup removed %d, want 1", n)
	}
}

func TestStore_RetentionExpiresInBackground(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	s := New(db, Config{
		FlushInterval:   10 * time.Millisecond,
		Retention:       24 * time.Hour,
		CleanupInterval: 20 * time.Millisecond,
		Logger:          quiet,
	})
	defer s.Close()
	ctx := context.Background()

	now := time.Now()
	s.Send(ctx, report("watch", 0, now.Add(-48*time.Hour).UnixMilli()))
	s.Send(ctx, report("watch", 1, now.UnixMilli()))

	// Both rows land in one flush, so a single row left means the old one
	// was expired.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sweep_reports`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rows: got %d, want 1 after retention", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var id string
	if err := db.QueryRow(`SELECT id FROM sweep_reports`).Scan(&id); err != nil {
		t.Fatal(err)
	}
	if id != "rpt_watch_01" {
		t.Errorf("kept report: got %s, want rpt_watch_01", id)
	}
}
