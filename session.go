package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
)

// Document is the interface every document type passed to Save / Delete /
// Get must implement: a stable 64-bit Id, settable once by the session
// when a new document is first saved.
type Document interface {
	DocID() int64
	SetDocID(id int64)
}

// Session is a unit-of-work: it tracks document identity, detects
// mutations at flush, and commits all pending writes as one transaction.
// A Session is single-context — never use one from more than one goroutine
// at a time, handed-off sequentially is fine, concurrent use is not; the
// library does not guard against it.
type Session struct {
	store   *Store
	entries *identityMap

	tx        *sql.Tx
	cancelled bool

	idNext int64
	idEnd  int64
}

// Save tracks doc as part of this session's pending writes. A document
// with no Id (DocID() == 0) is assigned one immediately from the session's
// reserved block and tracked as New. A document that already has an Id and
// is not yet tracked is attached and will be written as an UPDATE at
// flush — per the Open Question resolution in DESIGN.md, attaching a
// pre-existing Id this way does not round-trip the database inside Save.
// Its true Version is unknown, so the flush UPDATE skips the
// optimistic-concurrency check for this entry and simply affects no rows
// if the Id turns out not to exist. If doc is already Deleted in this
// session, Save is a no-op: Deleted overrides Save regardless of call
// order.
func (s *Session) Save(doc Document) error {
	_, typeName, err := s.docTypeOf(doc)
	if err != nil {
		return err
	}

	if id := doc.DocID(); id != 0 {
		if e, ok := s.entries.tryGet(typeName, id); ok {
			if e.state == Deleted {
				return nil
			}
			e.obj = doc
			return nil
		}
		if _, err := s.store.codec.Marshal(doc); err != nil {
			return &SerializationError{Type: typeName, Err: err}
		}
		e := &entry{typeName: typeName, id: id, obj: doc, snapshot: nil, version: versionUnknown, state: Modified}
		s.entries.add(e)
		return nil
	}

	id, err := s.nextID()
	if err != nil {
		return err
	}
	doc.SetDocID(id)
	snap, err := s.store.codec.Marshal(doc)
	if err != nil {
		return &SerializationError{Type: typeName, Err: err}
	}
	e := &entry{typeName: typeName, id: id, obj: doc, snapshot: snap, state: NewState}
	s.entries.add(e)
	return nil
}

// Delete marks a tracked document for removal at the next flush. If doc is
// not yet tracked, it is attached first (as Save would) and immediately
// marked Deleted.
func (s *Session) Delete(doc Document) error {
	_, typeName, err := s.docTypeOf(doc)
	if err != nil {
		return err
	}
	id := doc.DocID()
	if id == 0 {
		return &ConfigError{Msg: "cannot delete a document with no Id"}
	}
	e, ok := s.entries.tryGet(typeName, id)
	if !ok {
		e = &entry{typeName: typeName, id: id, obj: doc}
		s.entries.add(e)
	}
	e.state = Deleted
	return nil
}

// Get returns the tracked instance for (T, id) if one is already in this
// session's identity map; otherwise it loads the row, snapshots it, and
// tracks it as Clean. A not-found id returns a nil *T and no error.
func Get[T any](ctx context.Context, s *Session, id int64) (*T, error) {
	return getImpl[T](ctx, s, id, false)
}

// GetReadOnly behaves like Get but flags the tracked entry as read-only:
// it is excluded from the mutation scan at flush, an escape hatch for
// loading a document this session will never write back.
func GetReadOnly[T any](ctx context.Context, s *Session, id int64) (*T, error) {
	return getImpl[T](ctx, s, id, true)
}

func getImpl[T any](ctx context.Context, s *Session, id int64, readOnly bool) (*T, error) {
	goType := reflect.TypeOf((*T)(nil)).Elem()
	dt := s.store.schema.docTypeFor(goType)

	if e, ok := s.entries.tryGet(dt.typeName, id); ok {
		if e.state == Deleted || e.state == Detached {
			return nil, nil
		}
		return e.obj.(*T), nil
	}

	content, version, err := s.loadDocumentRow(ctx, dt, id)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, nil
	}
	var doc T
	if err := s.store.codec.Unmarshal(content, &doc); err != nil {
		return nil, &SerializationError{Type: dt.typeName, Err: err}
	}
	// Id lives in the Document table's Id column, not the payload, so it
	// never round-trips through the codec; restore it onto the hydrated
	// value before anything else sees it.
	if d, ok := any(&doc).(Document); ok {
		d.SetDocID(id)
	}
	e := &entry{typeName: dt.typeName, id: id, obj: &doc, snapshot: content, version: version, state: Clean, readOnly: readOnly}
	s.entries.add(e)
	return &doc, nil
}

func (s *Session) loadDocumentRow(ctx context.Context, dt *docType, id int64) ([]byte, int64, error) {
	dia := s.store.dia
	table := s.store.table(dt.collection.documentTableName())
	q := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = %s",
		dia.QuoteIdent("Content"), dia.QuoteIdent("Version"), dia.QuoteIdent(table), dia.QuoteIdent("Id"), dia.Placeholder(1))

	conn := s.conn()
	row := conn.QueryRowContext(ctx, q, id)
	var content []byte
	var version int64
	err := row.Scan(&content, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, &TransientError{Err: err}
	}
	return content, version, nil
}

// conn returns the session's open transaction if one exists, otherwise a
// pooled connection via the Store's *sql.DB — reads that don't need to
// observe the session's own uncommitted writes use the short-lived path.
func (s *Session) conn() interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.store.db
}

func (s *Session) docTypeOf(doc Document) (*docType, string, error) {
	goType := reflect.TypeOf(doc)
	if goType.Kind() == reflect.Ptr {
		goType = goType.Elem()
	}
	dt := s.store.schema.docsByGoTyp[goType]
	if dt == nil {
		return nil, "", &ConfigError{Msg: fmt.Sprintf("document type %v is not registered (call AddDocumentType first)", goType)}
	}
	return dt, dt.typeName, nil
}

// nextID hands out the next Id from the session's reserved block,
// refilling from the Store's allocator when exhausted. Refilling is an
// ordinary blocking call on the calling goroutine; see DESIGN.md for why
// this stays synchronous rather than exposed as a separately awaited step.
func (s *Session) nextID() (int64, error) {
	if s.idNext >= s.idEnd {
		first, err := s.store.ids.reserve(context.Background())
		if err != nil {
			return 0, err
		}
		s.idNext = first
		s.idEnd = first + idBlockSize
	}
	id := s.idNext
	s.idNext++
	return id, nil
}

// Close rolls back any open transaction that was never committed by
// SaveChangesAsync and detaches every identity-map entry. Callers invoke
// it via defer.
func (s *Session) Close() error {
	if s.tx != nil && !s.cancelled {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	s.entries.detachAll()
	return nil
}
