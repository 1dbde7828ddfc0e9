package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/adsweep/dbopen"
)

func TestOpen_Pragmas(t *testing.T) {
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "a", "adsweep.db"), dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 10_000 {
		t.Errorf("busy_timeout = %d, want 10000", bt)
	}
}

func TestOpen_Schema(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithBusyTimeout(500),
		dbopen.WithSchema(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`),
	)
	if _, err := db.Exec(`INSERT INTO t (v) VALUES ('x')`); err != nil {
		t.Fatalf("insert into schema table: %v", err)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	_, err := dbopen.Open(":memory:", dbopen.WithSchema("CREATE TABLE ("))
	if err == nil {
		t.Fatal("Open: expected error for invalid schema")
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (v TEXT)`))
	ctx := context.Background()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t VALUES ('committed')`)
		return err
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	boom := errors.New("boom")
	err = dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO t VALUES ('rolled back')`)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx: got %v, want boom", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n)
	if n != 1 {
		t.Errorf("rows: got %d, want 1", n)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table: t"), false},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
