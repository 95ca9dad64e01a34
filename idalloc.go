package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/relspace/reldoc/dialect"
)

// idBlockSize is the number of Ids reserved per allocator round-trip.
const idBlockSize = 64

// idDimension is the single row of the Identifiers table this library
// uses; a hosting application is free to add other dimensions to the same
// table for its own id spaces, but reldoc only ever allocates this one.
const idDimension = "Document"

// idAllocator reserves blocks of Ids from the Identifiers table so that a
// session does not need a round-trip per saved document. It is the one
// piece of mutable shared state a Store holds. Across processes, access is
// serialized by the dialect-rendered upsert on the Identifiers row, run in
// its own transaction; the mutex below is held for that whole round trip
// and only keeps two goroutines of the same Store from running it at once.
type idAllocator struct {
	db      *sql.DB
	dia     dialect.Dialect
	table   string
	mu      sync.Mutex
}

func newIDAllocator(db *sql.DB, dia dialect.Dialect, identifiersTable string) *idAllocator {
	return &idAllocator{db: db, dia: dia, table: identifiersTable}
}

// reserve grabs the next idBlockSize Ids and returns the first one; the
// caller owns [first, first+idBlockSize).
func (a *idAllocator) reserve(ctx context.Context) (first int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &TransientError{Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, a.dia.UpsertIdentifierSQL(a.table), idDimension, int64(idBlockSize), int64(idBlockSize))
	if err != nil {
		return 0, &TransientError{Err: fmt.Errorf("reserving id block: %w", err)}
	}

	var next int64
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
			a.dia.QuoteIdent("NextValue"), a.dia.QuoteIdent(a.table), a.dia.QuoteIdent("Dimension"), a.dia.Placeholder(1)),
		idDimension)
	if err := row.Scan(&next); err != nil {
		return 0, &TransientError{Err: fmt.Errorf("reading id block: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return 0, &TransientError{Err: err}
	}
	// Ids start at 1, never 0: Document.DocID() == 0 is the sentinel Save
	// uses to recognize an unassigned document.
	return next - idBlockSize + 1, nil
}
