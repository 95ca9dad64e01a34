package reldoc

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
)

// SaveChangesAsync flushes every pending mutation in this session as a
// single transaction: change detection for Clean entries, then inserts,
// then updates, then index maintenance, then deletes, in that order. A
// second call with no intervening mutation issues zero DML.
func (s *Session) SaveChangesAsync(ctx context.Context) error {
	if s.cancelled {
		return &ConcurrencyError{Err: fmt.Errorf("session was cancelled by a previous failed flush")}
	}

	newBytes, err := s.detectMutations()
	if err != nil {
		return err
	}

	var toWrite []*entry
	for _, e := range s.entries.all() {
		switch e.state {
		case NewState, Modified, Deleted:
			toWrite = append(toWrite, e)
		}
	}
	if len(toWrite) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.store.dia.IsolationLevel()})
	if err != nil {
		return &TransientError{Err: err}
	}
	s.tx = tx

	if err := s.flushWrites(ctx, tx, toWrite, newBytes); err != nil {
		_ = tx.Rollback()
		s.tx = nil
		s.cancelled = true
		return err
	}

	if err := tx.Commit(); err != nil {
		s.tx = nil
		s.cancelled = true
		return &TransientError{Err: err}
	}
	s.tx = nil

	for _, e := range toWrite {
		switch e.state {
		case NewState, Modified:
			e.snapshot = newBytes[e]
			if e.version != versionUnknown {
				e.version++
			}
			e.state = Clean
		case Deleted:
			s.entries.remove(e)
		}
	}
	return nil
}

// detectMutations re-serializes every tracked, non-Deleted, non-read-only
// entry and marks Clean entries whose bytes changed as Modified. It
// returns the freshly marshaled bytes for every entry that will be
// written, keyed by entry, so the caller does not re-marshal a second time
// during the flush.
func (s *Session) detectMutations() (map[*entry][]byte, error) {
	out := make(map[*entry][]byte)
	for _, e := range s.entries.all() {
		if e.state == Deleted || e.state == Detached || e.readOnly {
			continue
		}
		b, err := s.store.codec.Marshal(e.obj)
		if err != nil {
			return nil, &SerializationError{Type: e.typeName, Err: err}
		}
		switch e.state {
		case Clean:
			if !bytes.Equal(b, e.snapshot) {
				e.state = Modified
				out[e] = b
			}
		case NewState, Modified:
			out[e] = b
		}
	}
	return out, nil
}

func (s *Session) flushWrites(ctx context.Context, tx *sql.Tx, entries []*entry, newBytes map[*entry][]byte) error {
	for _, e := range entries {
		if e.state == NewState {
			if err := s.insertDocument(ctx, tx, e, newBytes[e]); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		if e.state == Modified {
			if err := s.updateDocument(ctx, tx, e, newBytes[e]); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		if err := s.flushIndexesForEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if e.state == Deleted {
			if err := s.deleteDocument(ctx, tx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) insertDocument(ctx context.Context, tx *sql.Tx, e *entry, content []byte) error {
	dt := s.store.schema.docTypeNamed(e.typeName)
	dia := s.store.dia
	table := s.store.table(dt.collection.documentTableName())

	cols := []string{"Id", "Type", "ContentType", "Content", "Version"}
	row := [][]any{{e.id, e.typeName, s.store.codec.ContentType(), content, int64(1)}}
	for _, st := range insertStatements(dia, table, cols, row) {
		if err := st.exec(ctx, tx); err != nil {
			return err
		}
	}
	s.store.log("reldoc: INSERT %s/%d", e.typeName, e.id)
	return nil
}

func (s *Session) updateDocument(ctx context.Context, tx *sql.Tx, e *entry, content []byte) error {
	dt := s.store.schema.docTypeNamed(e.typeName)
	dia := s.store.dia
	table := s.store.table(dt.collection.documentTableName())

	// An entry attached by Save with a pre-existing, never-loaded Id has
	// no known Version to CAS against; write unconditionally and let zero
	// rows affected mean "the Id did not exist" rather than a conflict.
	if e.version == versionUnknown {
		q := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %s",
			dia.QuoteIdent(table),
			dia.QuoteIdent("Content"), dia.Placeholder(1),
			dia.QuoteIdent("ContentType"), dia.Placeholder(2),
			dia.QuoteIdent("Id"), dia.Placeholder(3),
		)
		if _, err := tx.ExecContext(ctx, q, content, s.store.codec.ContentType(), e.id); err != nil {
			return &TransientError{Err: err}
		}
		s.store.log("reldoc: UPDATE %s/%d (version unknown)", e.typeName, e.id)
		return nil
	}

	q := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
		dia.QuoteIdent(table),
		dia.QuoteIdent("Content"), dia.Placeholder(1),
		dia.QuoteIdent("ContentType"), dia.Placeholder(2),
		dia.QuoteIdent("Version"), dia.Placeholder(3),
		dia.QuoteIdent("Id"), dia.Placeholder(4),
		dia.QuoteIdent("Version"), dia.Placeholder(5),
	)
	res, err := tx.ExecContext(ctx, q, content, s.store.codec.ContentType(), e.version+1, e.id, e.version)
	if err != nil {
		return &TransientError{Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &TransientError{Err: err}
	}
	if n == 0 {
		return &ConcurrencyError{Type: e.typeName, ID: e.id}
	}
	s.store.log("reldoc: UPDATE %s/%d", e.typeName, e.id)
	return nil
}

func (s *Session) deleteDocument(ctx context.Context, tx *sql.Tx, e *entry) error {
	dt := s.store.schema.docTypeNamed(e.typeName)
	dia := s.store.dia
	table := s.store.table(dt.collection.documentTableName())

	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", dia.QuoteIdent(table), dia.QuoteIdent("Id"), dia.Placeholder(1))
	if _, err := tx.ExecContext(ctx, q, e.id); err != nil {
		return &TransientError{Err: err}
	}
	s.store.log("reldoc: DELETE %s/%d", e.typeName, e.id)
	return nil
}
