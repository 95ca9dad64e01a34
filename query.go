package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/relspace/reldoc/dialect"
)

// CmpOp is a predicate-tree comparison operator.
type CmpOp int

const (
	Eq CmpOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
	Like
	In
)

func (op CmpOp) sql() string {
	switch op {
	case Eq:
		return "="
	case Ne:
		return "<>"
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	case Like:
		return "LIKE"
	default:
		panic(fmt.Errorf("reldoc: CmpOp %d has no infix rendering", op))
	}
}

type predKind int

const (
	predAnd predKind = iota
	predOr
	predNot
	predCmp
	predBetween
	predIsNull
)

// Predicate is a node of the query compiler's predicate tree: And/Or/Not,
// a comparison (=, ≠, <, ≤, >, ≥, Like, In), Between, or IsNull. Build one
// with the And/Or/Not/Cmp/Between/IsNull constructors, not by filling the
// struct directly.
type Predicate struct {
	kind     predKind
	column   string
	op       CmpOp
	value    any
	values   []any // In
	lo, hi   any    // Between
	children []Predicate
}

func And(preds ...Predicate) Predicate { return Predicate{kind: predAnd, children: preds} }
func Or(preds ...Predicate) Predicate  { return Predicate{kind: predOr, children: preds} }
func Not(p Predicate) Predicate        { return Predicate{kind: predNot, children: []Predicate{p}} }

func Cmp(column string, op CmpOp, value any) Predicate {
	return Predicate{kind: predCmp, column: column, op: op, value: value}
}
func InValues(column string, values ...any) Predicate {
	return Predicate{kind: predCmp, column: column, op: In, values: values}
}
func Between(column string, lo, hi any) Predicate {
	return Predicate{kind: predBetween, column: column, lo: lo, hi: hi}
}
func IsNull(column string) Predicate {
	return Predicate{kind: predIsNull, column: column}
}

// columns reports every column name the predicate references, for
// validation against an index's declared columns at compile time.
func (p Predicate) columns() []string {
	switch p.kind {
	case predAnd, predOr, predNot:
		var out []string
		for _, c := range p.children {
			out = append(out, c.columns()...)
		}
		return out
	default:
		return []string{p.column}
	}
}

// Order is one ORDER BY clause entry.
type Order struct {
	Column string
	Desc   bool
}

// Page is a skip/take pagination window.
type Page struct {
	Skip, Take int
}

// Builder builds a query against a map index's table and compiles it to
// dialect-correct SQL. T is the document type the index targets; results
// hydrate through the session's identity map so repeated reads within one
// session return the same instance.
type Builder[T any] struct {
	sess  *Session
	idx   *Map[T]
	pred  *Predicate
	joins []anyIndex
	order []Order
	page  Page
}

// Query returns a query builder for document type T bound to idx and to
// sess. The query runs on the Store's connection pool, or on sess's
// transaction while one is open inside SaveChangesAsync; documents saved,
// changed or deleted in sess but not yet flushed are not reflected in its
// results.
func Query[T any](sess *Session, idx *Map[T]) *Builder[T] {
	return &Builder[T]{sess: sess, idx: idx}
}

func (b *Builder[T]) Where(p Predicate) *Builder[T] { b.pred = &p; return b }

// Join adds an INNER JOIN against another index's table on DocumentId: a
// document only matches if a row exists in every joined index's table
// too.
func (b *Builder[T]) Join(idx anyIndex) *Builder[T] {
	b.joins = append(b.joins, idx)
	return b
}

func (b *Builder[T]) OrderBy(column string) *Builder[T] {
	b.order = append(b.order, Order{Column: column})
	return b
}
func (b *Builder[T]) OrderByDesc(column string) *Builder[T] {
	b.order = append(b.order, Order{Column: column, Desc: true})
	return b
}
func (b *Builder[T]) Skip(n int) *Builder[T] { b.page.Skip = n; return b }
func (b *Builder[T]) Take(n int) *Builder[T] { b.page.Take = n; return b }

// Compiled is a predicate tree rendered to parameterized SQL: the SQL
// text and its positional argument list. The SQL selects DocumentId from
// the primary index table under the alias t0.
type Compiled struct {
	SQL  string
	Args []any
}

// Compile validates the predicate's column references against the primary
// index (and any joined index) and renders the full SELECT DocumentId ...
// statement, including joins, WHERE, ORDER BY, and paging. A column not
// declared on any referenced index is a CompileError, reported here
// rather than at execution time.
func (b *Builder[T]) Compile(dia dialect.Dialect) (*Compiled, error) {
	return b.compile(dia, true)
}

// compile renders the query, optionally suppressing a caller-set ORDER BY
// that isn't paired with paging. Count wraps the rendered SQL in a COUNT(*)
// subquery, and an ORDER BY with no OFFSET/FETCH (or TOP) is invalid inside
// a derived table on SQL Server; the paging-driven tie-break ORDER BY added
// below is unaffected, since it always comes with a LimitOffset clause.
func (b *Builder[T]) compile(dia dialect.Dialect, includeOrder bool) (*Compiled, error) {
	primaryTable := b.sess.store.table(mapTableName(primaryCollectionOf(b.sess, b.idx), b.idx.name()))
	known := map[string]bool{}
	for _, c := range b.idx.columns() {
		known[c.Name] = true
	}

	var sqlb strings.Builder
	fmt.Fprintf(&sqlb, "SELECT t0.%s FROM %s t0", dia.QuoteIdent("DocumentId"), dia.QuoteIdent(primaryTable))

	for i, j := range b.joins {
		for _, c := range j.columns() {
			known[c.Name] = true
		}
		jTable := b.sess.store.table(mapTableName(primaryCollectionOf(b.sess, j), j.name()))
		alias := fmt.Sprintf("t%d", i+1)
		fmt.Fprintf(&sqlb, " INNER JOIN %s %s ON %s.%s = t0.%s",
			dia.QuoteIdent(jTable), alias, alias, dia.QuoteIdent("DocumentId"), dia.QuoteIdent("DocumentId"))
	}

	var args []any
	if b.pred != nil {
		for _, c := range b.pred.columns() {
			if !known[c] {
				return nil, &CompileError{Column: c, Msg: "not a column of this index or any joined index"}
			}
		}
		w := &sqlWriter{dia: dia}
		writeNode(w, *b.pred, "t0")
		sqlb.WriteString(" WHERE ")
		sqlb.WriteString(w.b.String())
		args = w.args
	}

	paging := b.page.Take != 0 || b.page.Skip != 0
	switch {
	case includeOrder && len(b.order) > 0:
		sqlb.WriteString(" ORDER BY ")
		for i, o := range b.order {
			if i > 0 {
				sqlb.WriteString(", ")
			}
			fmt.Fprintf(&sqlb, "t0.%s", dia.QuoteIdent(o.Column))
			if o.Desc {
				sqlb.WriteString(" DESC")
			}
		}
	case paging:
		// SQL Server's OFFSET/FETCH requires a preceding ORDER BY; fall back
		// to a deterministic tie-break on DocumentId so paging is always
		// well-formed regardless of dialect.
		fmt.Fprintf(&sqlb, " ORDER BY t0.%s", dia.QuoteIdent("DocumentId"))
	}

	if lo := dia.LimitOffset(b.page.Take, b.page.Skip); lo != "" {
		sqlb.WriteByte(' ')
		sqlb.WriteString(lo)
	}

	return &Compiled{SQL: sqlb.String(), Args: args}, nil
}

// sqlWriter accumulates WHERE-clause fragments and their positional
// parameters: a visitor over tagged predicate-tree variants writing into a
// shared buffer plus parameter list, rather than open recursion returning
// strings.
type sqlWriter struct {
	dia  dialect.Dialect
	b    strings.Builder
	args []any
}

func (w *sqlWriter) bind(v any) string {
	ph := w.dia.Placeholder(len(w.args) + 1)
	w.args = append(w.args, v)
	return ph
}

func colRef(dia dialect.Dialect, alias, column string) string {
	if alias == "" {
		return dia.QuoteIdent(column)
	}
	return alias + "." + dia.QuoteIdent(column)
}

func writeNode(w *sqlWriter, p Predicate, alias string) {
	switch p.kind {
	case predAnd, predOr:
		if len(p.children) == 0 {
			w.b.WriteString("1=1")
			return
		}
		w.b.WriteByte('(')
		for i, c := range p.children {
			if i > 0 {
				if p.kind == predAnd {
					w.b.WriteString(" AND ")
				} else {
					w.b.WriteString(" OR ")
				}
			}
			writeNode(w, c, alias)
		}
		w.b.WriteByte(')')
	case predNot:
		w.b.WriteString("NOT (")
		writeNode(w, p.children[0], alias)
		w.b.WriteByte(')')
	case predIsNull:
		fmt.Fprintf(&w.b, "%s IS NULL", colRef(w.dia, alias, p.column))
	case predBetween:
		fmt.Fprintf(&w.b, "%s BETWEEN %s AND %s", colRef(w.dia, alias, p.column), w.bind(p.lo), w.bind(p.hi))
	case predCmp:
		if p.op == In {
			if len(p.values) == 0 {
				w.b.WriteString("1=0")
				return
			}
			fmt.Fprintf(&w.b, "%s IN (", colRef(w.dia, alias, p.column))
			for i, v := range p.values {
				if i > 0 {
					w.b.WriteString(", ")
				}
				w.b.WriteString(w.bind(v))
			}
			w.b.WriteByte(')')
			return
		}
		fmt.Fprintf(&w.b, "%s %s %s", colRef(w.dia, alias, p.column), p.op.sql(), w.bind(p.value))
	}
}

func primaryCollectionOf(s *Session, idx anyIndex) *Collection {
	return s.store.schema.docTypeNamed(idx.docTypeName()).collection
}

// List executes the compiled query and hydrates full documents through the
// session's identity map.
func (b *Builder[T]) List(ctx context.Context) ([]*T, error) {
	ids, err := b.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		doc, err := Get[T](ctx, b.sess, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

// ListIDs executes the compiled query and returns matching document ids
// without hydrating documents.
func (b *Builder[T]) ListIDs(ctx context.Context) ([]int64, error) {
	compiled, err := b.Compile(b.sess.store.dia)
	if err != nil {
		return nil, err
	}
	rows, err := b.sess.conn().QueryContext(ctx, compiled.SQL, compiled.Args...)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &TransientError{Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count executes the compiled query as a row count instead of materializing
// ids.
func (b *Builder[T]) Count(ctx context.Context) (int64, error) {
	compiled, err := b.compile(b.sess.store.dia, false)
	if err != nil {
		return 0, err
	}
	countSQL := "SELECT COUNT(*) FROM (" + compiled.SQL + ") reldoc_count"
	var n int64
	if err := b.sess.conn().QueryRowContext(ctx, countSQL, compiled.Args...).Scan(&n); err != nil {
		return 0, &TransientError{Err: err}
	}
	return n, nil
}

// ReducedQuery reads scalar aggregate columns directly off a reduce
// index's "_Reduced" table.
type ReducedQuery[T any] struct {
	sess *Session
	idx  *Reduce[T]
	pred *Predicate
}

func QueryReduced[T any](sess *Session, idx *Reduce[T]) *ReducedQuery[T] {
	return &ReducedQuery[T]{sess: sess, idx: idx}
}

func (q *ReducedQuery[T]) Where(p Predicate) *ReducedQuery[T] { q.pred = &p; return q }

// Sum returns the value of an aggregated column in the first _Reduced row
// matching the predicate (normally a single group-key equality), or 0 when
// no row matches or the value is NULL. Further matching rows are not added.
func (q *ReducedQuery[T]) Sum(ctx context.Context, column string) (int64, error) {
	dia := q.sess.store.dia
	table := q.sess.store.table(reducedTableName(primaryCollectionOf(q.sess, q.idx), q.idx.name()))

	var sqlb strings.Builder
	fmt.Fprintf(&sqlb, "SELECT %s FROM %s", dia.QuoteIdent(column), dia.QuoteIdent(table))
	var args []any
	if q.pred != nil {
		w := &sqlWriter{dia: dia}
		writeNode(w, *q.pred, "")
		sqlb.WriteString(" WHERE ")
		sqlb.WriteString(w.b.String())
		args = w.args
	}
	var n sql.NullInt64
	err := q.sess.conn().QueryRowContext(ctx, sqlb.String(), args...).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &TransientError{Err: err}
	}
	return n.Int64, nil
}
