package reldoc

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relspace/reldoc/dialect"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// newTestStore opens a fresh in-memory SQLite database, bootstraps the
// given schema against it, and returns a Store over it (the *sql.DB is
// closed automatically via t.Cleanup).
func newTestStore(t testing.TB, scm *Schema) *Store {
	t.Helper()
	db := must(sql.Open("sqlite3", "file::memory:?cache=shared&_busy_timeout=5000"))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := New(db, dialect.SQLite{}, scm, Options{Verbose: testing.Verbose()})
	if err := st.InitializeAsync(context.Background()); err != nil {
		t.Fatalf("InitializeAsync: %v", err)
	}
	return st
}
