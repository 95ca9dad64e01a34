package reldoc

import (
	"fmt"
	"math"

	"github.com/relspace/reldoc/dialect"
)

// Row is one output row of an index's projection function, with values
// aligned positionally to the index's declared columns (DocumentId / group
// key linkage is added by the engine, not by the caller).
type Row []any

// AggFunc is a reduce index's per-column aggregator. Sum and Count are
// invertible (Unmerge undoes a Merge exactly); Max and Min are not, and a
// removal affecting them forces the engine to re-read and re-aggregate the
// whole group from the bridge table, per the reduce invertibility rule.
type AggFunc struct {
	Name       string
	Invertible bool
	Zero       any
	Merge      func(acc, contribution any) any
	Unmerge    func(acc, contribution any) any
}

// SumInt64 sums an int64 contribution column. Invertible.
func SumInt64() *AggFunc {
	return &AggFunc{
		Name:       "sum",
		Invertible: true,
		Zero:       int64(0),
		Merge:      func(acc, v any) any { return acc.(int64) + v.(int64) },
		Unmerge:    func(acc, v any) any { return acc.(int64) - v.(int64) },
	}
}

// CountInt64 counts contributing rows (each contribution value is ignored;
// conventionally the map function emits int64(1)). Invertible.
func CountInt64() *AggFunc {
	return &AggFunc{
		Name:       "count",
		Invertible: true,
		Zero:       int64(0),
		Merge:      func(acc, v any) any { return acc.(int64) + 1 },
		Unmerge:    func(acc, v any) any { return acc.(int64) - 1 },
	}
}

// MaxInt64 keeps the maximum contribution seen. Not invertible: a removal of
// the current maximum forces a full re-aggregation of the group.
func MaxInt64() *AggFunc {
	return &AggFunc{
		Name: "max",
		Zero: int64(math.MinInt64),
		Merge: func(acc, v any) any {
			if v.(int64) > acc.(int64) {
				return v
			}
			return acc
		},
	}
}

// MinInt64 keeps the minimum contribution seen. Not invertible.
func MinInt64() *AggFunc {
	return &AggFunc{
		Name: "min",
		Zero: int64(math.MaxInt64),
		Merge: func(acc, v any) any {
			if v.(int64) < acc.(int64) {
				return v
			}
			return acc
		},
	}
}

// ReduceColumn describes one column of a reduce index's "_Reduced" table.
// Key columns form the grouping key; all other columns carry an Agg.
type ReduceColumn struct {
	Column dialect.Column
	Key    bool
	Agg    *AggFunc
}

// anyIndex is the type-erased view of Map[T] / Reduce[T] that the schema
// registry, schema manager, and index engine operate on without knowing T.
// The source dispatches per-index behavior via runtime type information; we
// dispatch via this narrow interface instead of an inheritance hierarchy.
type anyIndex interface {
	name() string
	docTypeName() string
	isReduce() bool
	columns() []dialect.Column
	keyColumnIndexes() []int
	aggAt(i int) *AggFunc
	computeRows(doc any) []Row
	uniqueColumns() []string
}

// Map is a map index: it contributes zero or more independent rows per
// document, with no aggregation.
type Map[T any] struct {
	idxName  string
	docType  string
	cols     []dialect.Column
	mapFn    func(doc *T) []Row
	unique   bool
	uniqueOn []string
}

// AddMapIndex registers a map index over document type docTypeName. mapFn
// is called with the live document object and returns its current set of
// output rows, each aligned to cols.
func AddMapIndex[T any](scm *Schema, docTypeName, indexName string, cols []dialect.Column, mapFn func(doc *T) []Row) *Map[T] {
	idx := &Map[T]{
		idxName: indexName,
		docType: docTypeName,
		cols:    cols,
		mapFn:   mapFn,
	}
	scm.addIndex(idx)
	return idx
}

// Unique marks the index's row set as logically unique on the given
// columns; the schema manager creates a UNIQUE index accordingly.
func (idx *Map[T]) Unique(cols ...string) *Map[T] {
	idx.unique = true
	idx.uniqueOn = cols
	return idx
}

func (idx *Map[T]) name() string         { return idx.idxName }
func (idx *Map[T]) docTypeName() string  { return idx.docType }
func (idx *Map[T]) isReduce() bool       { return false }
func (idx *Map[T]) columns() []dialect.Column {
	return idx.cols
}
func (idx *Map[T]) keyColumnIndexes() []int { return nil }
func (idx *Map[T]) aggAt(i int) *AggFunc    { return nil }
func (idx *Map[T]) uniqueColumns() []string {
	if !idx.unique {
		return nil
	}
	if len(idx.uniqueOn) > 0 {
		return idx.uniqueOn
	}
	return columnNames(idx.cols)
}

func (idx *Map[T]) computeRows(doc any) []Row {
	d, ok := doc.(*T)
	if !ok {
		panic(fmt.Errorf("reldoc: index %q: expected %T, got %T", idx.idxName, (*T)(nil), doc))
	}
	return idx.mapFn(d)
}

// Reduce is a reduce index: many documents' contribution rows are grouped
// by the Key columns and merged into a single row per group via each
// non-key column's AggFunc.
type Reduce[T any] struct {
	idxName string
	docType string
	cols    []ReduceColumn
	mapFn   func(doc *T) []Row
}

// AddReduceIndex registers a reduce index over document type docTypeName.
// mapFn returns, per document, the contribution rows it adds to the groups
// it belongs to (normally one row, naming its group key and the raw
// per-column contribution the AggFuncs will merge).
func AddReduceIndex[T any](scm *Schema, docTypeName, indexName string, cols []ReduceColumn, mapFn func(doc *T) []Row) *Reduce[T] {
	for _, c := range cols {
		if !c.Key && c.Agg == nil {
			panic(fmt.Errorf("reldoc: reduce index %q: column %q is neither a key nor has an AggFunc", indexName, c.Column.Name))
		}
	}
	idx := &Reduce[T]{
		idxName: indexName,
		docType: docTypeName,
		cols:    cols,
		mapFn:   mapFn,
	}
	scm.addIndex(idx)
	return idx
}

func (idx *Reduce[T]) name() string        { return idx.idxName }
func (idx *Reduce[T]) docTypeName() string { return idx.docType }
func (idx *Reduce[T]) isReduce() bool      { return true }

func (idx *Reduce[T]) columns() []dialect.Column {
	cols := make([]dialect.Column, len(idx.cols))
	for i, c := range idx.cols {
		cols[i] = c.Column
	}
	return cols
}

func (idx *Reduce[T]) keyColumnIndexes() []int {
	var out []int
	for i, c := range idx.cols {
		if c.Key {
			out = append(out, i)
		}
	}
	return out
}

func (idx *Reduce[T]) aggAt(i int) *AggFunc     { return idx.cols[i].Agg }
func (idx *Reduce[T]) uniqueColumns() []string { return nil }

func (idx *Reduce[T]) computeRows(doc any) []Row {
	d, ok := doc.(*T)
	if !ok {
		panic(fmt.Errorf("reldoc: index %q: expected %T, got %T", idx.idxName, (*T)(nil), doc))
	}
	return idx.mapFn(d)
}

// mapTableName and reducedTableName apply the owning document type's
// collection suffix to an index's generated table names.
func mapTableName(coll *Collection, idxName string) string {
	return coll.indexTableName(idxName + "_Document")
}

func reducedTableName(coll *Collection, idxName string) string {
	return coll.indexTableName(idxName + "_Reduced")
}
