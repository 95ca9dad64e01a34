// Package dialect renders backend-specific SQL for the four engines reldoc
// supports. A Dialect is stateless and is selected once, at Store
// construction; nothing in this package touches a *sql.DB.
package dialect

import (
	"database/sql"
	"fmt"
	"strings"
)

// ColumnType is a backend-neutral scalar type for a relational column.
type ColumnType int

const (
	Int64 ColumnType = iota
	Int32
	Bool
	VarString // needs Column.Length
	Text
	DateTime
	GUID
	Blob
	Decimal // needs Column.Precision, Column.Scale
)

// Column describes one column of an index table or the Document table.
type Column struct {
	Name      string
	Type      ColumnType
	Length    int // VarString(n)
	Precision int // Decimal(p,s)
	Scale     int
	Nullable  bool
}

// Dialect is the capability interface every backend-specific renderer
// implements. Implementations are zero-size value types and must not hold
// per-call state.
type Dialect interface {
	// Name identifies the dialect for logging and error messages.
	Name() string

	// QuoteIdent quotes a single identifier (table or column name).
	QuoteIdent(name string) string

	// Placeholder renders the n-th (1-based) bound parameter.
	Placeholder(n int) string

	// LimitOffset renders a paging clause, or "" if limit and offset are
	// both zero.
	LimitOffset(limit, offset int) string

	// ColumnTypeName renders the backend type name for c.
	ColumnTypeName(c Column) string

	// MaxBatchParams is the largest number of bound parameters a single
	// statement may carry on this backend.
	MaxBatchParams() int

	// CreateTableSQL renders CREATE TABLE IF NOT EXISTS (or the backend
	// equivalent) for a table with the given columns and primary key.
	CreateTableSQL(table string, cols []Column, pk []string) string

	// AddColumnSQL renders ALTER TABLE ... ADD COLUMN.
	AddColumnSQL(table string, col Column) string

	// DropColumnSQL renders ALTER TABLE ... DROP COLUMN.
	DropColumnSQL(table, col string) string

	// CreateIndexSQL renders CREATE [UNIQUE] INDEX, guarded against an
	// existing index of the same name where the backend can say so in one
	// statement (IF NOT EXISTS, or SQL Server's sys.indexes check). MySQL's
	// rendering carries no guard.
	CreateIndexSQL(indexName, table string, cols []string, unique bool) string

	// CreateForeignKeySQL renders an ADD CONSTRAINT ... FOREIGN KEY clause,
	// or "" if the dialect cannot express it as a separate statement (in
	// which case the caller must fold it into CreateTableSQL; of the four
	// built-in dialects, SQLite is the one that returns "").
	CreateForeignKeySQL(table, column, refTable, refColumn string) string

	// UpsertIdentifierSQL renders the upsert the Id allocator uses to
	// atomically bump Identifiers.NextValue. Its three bound parameters are
	// the Dimension, the NextValue to insert when the row is missing, and
	// the delta added to an existing row's NextValue. The statement returns
	// no rows; the allocator reads the new NextValue back with a separate
	// SELECT in the same transaction.
	UpsertIdentifierSQL(table string) string

	// IsolationLevel is the default transaction isolation used for a
	// session's write transaction.
	IsolationLevel() sql.IsolationLevel
}

func quoteWith(open, close byte, name string) string {
	var b strings.Builder
	b.WriteByte(open)
	b.WriteString(name)
	b.WriteByte(close)
	return b.String()
}

func createTableSQL(d Dialect, table string, cols []Column, pk []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.QuoteIdent(table))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  %s %s", d.QuoteIdent(c.Name), d.ColumnTypeName(c))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, n := range pk {
			quoted[i] = d.QuoteIdent(n)
		}
		fmt.Fprintf(&b, ",\n  PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString("\n)")
	return b.String()
}

func createIndexSQL(d Dialect, indexName, table string, cols []string, unique bool) string {
	quoted := make([]string, len(cols))
	for i, n := range cols {
		quoted[i] = d.QuoteIdent(n)
	}
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kw, d.QuoteIdent(indexName), d.QuoteIdent(table), strings.Join(quoted, ", "))
}
