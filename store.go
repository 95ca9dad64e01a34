package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/relspace/reldoc/dialect"
)

// Options configures a Store: a pluggable log function plus a verbose
// flag, not a config file or flag parser — reldoc has no CLI, and none is
// added.
type Options struct {
	// Logf receives one line per document INSERT, UPDATE or DELETE and per
	// map-index row change written during a flush, when Verbose is set;
	// reduce-index maintenance is not logged. Defaults to log/slog at Info
	// level when nil.
	Logf func(format string, args ...any)

	// Verbose turns on the per-flush logging described above.
	Verbose bool

	// Codec overrides the default MsgpackCodec.
	Codec Codec

	// TablePrefix is prepended to every table name reldoc creates or
	// queries (Document, Identifiers, and every index table). Empty by
	// default.
	TablePrefix string
}

// Store is the process-wide (per configured database) entry point: it
// holds the dialect, the caller's already-pooled *sql.DB, the codec, the
// schema registry, and the Id allocator. Sessions are produced by
// CreateSession and never outlive their Store. Store is safe for
// concurrent use by multiple goroutines once constructed.
type Store struct {
	db     *sql.DB
	dia    dialect.Dialect
	schema *Schema
	codec  Codec
	prefix string

	logf    func(format string, args ...any)
	verbose bool

	ids *idAllocator
}

// New constructs a Store over an already-open, already-pooled *sql.DB. The
// Schema must be fully registered (all AddDocumentType / AddMapIndex /
// AddReduceIndex calls made) before this call; the registry is immutable
// afterward.
func New(db *sql.DB, dia dialect.Dialect, schema *Schema, opt Options) *Store {
	codec := opt.Codec
	if codec == nil {
		codec = MsgpackCodec{}
	}
	logf := opt.Logf
	if logf == nil {
		logf = func(format string, args ...any) { slog.Info(fmt.Sprintf(format, args...)) }
	}
	st := &Store{
		db:      db,
		dia:     dia,
		schema:  schema,
		codec:   codec,
		prefix:  opt.TablePrefix,
		logf:    logf,
		verbose: opt.Verbose,
	}
	st.ids = newIDAllocator(db, dia, st.table("Identifiers"))
	return st
}

func (st *Store) table(name string) string {
	return st.prefix + name
}

func (st *Store) log(format string, args ...any) {
	if st.verbose {
		st.logf(format, args...)
	}
}

// Dialect returns the dialect the Store was constructed with.
func (st *Store) Dialect() dialect.Dialect { return st.dia }

// Schema returns the Store's registry.
func (st *Store) Schema() *Schema { return st.schema }

// DB returns the underlying connection pool, for callers that need to run
// ad-hoc SQL alongside reldoc (migrations owned by the host application,
// diagnostics, and so on).
func (st *Store) DB() *sql.DB { return st.db }

// InitializeAsync bootstraps the schema: a Document table for every
// collection a registered document type uses (the bare Document table when
// no type is registered), the Identifiers table, and, for every
// registered index, its target table(s). Bootstrap is idempotent —
// existing tables are left untouched.
func (st *Store) InitializeAsync(ctx context.Context) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer tx.Rollback()

	if err := st.bootstrapSchema(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateSession returns a new, independent unit-of-work over this Store.
// Sessions do not share identity maps or pending state.
func (st *Store) CreateSession() *Session {
	return &Session{
		store:   st,
		entries: newIdentityMap(),
	}
}
