package dialect

import (
	"database/sql"
	"fmt"
)

// SQLite renders SQL for github.com/mattn/go-sqlite3. It is the dialect the
// test suite runs against by default, using an in-memory database.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(name string) string { return quoteWith('"', '"', name) }

func (SQLite) Placeholder(n int) string { return "?" }

func (SQLite) LimitOffset(limit, offset int) string {
	switch {
	case limit == 0 && offset == 0:
		return ""
	case offset == 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case limit == 0:
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	default:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
}

func (SQLite) ColumnTypeName(c Column) string {
	switch c.Type {
	case Int64, Int32, Bool:
		return "INTEGER"
	case VarString, Text, GUID:
		return "TEXT"
	case DateTime:
		return "DATETIME"
	case Blob:
		return "BLOB"
	case Decimal:
		return "NUMERIC"
	default:
		panic(fmt.Errorf("sqlite: unsupported column type %v", c.Type))
	}
}

// MaxBatchParams is SQLite's default SQLITE_LIMIT_VARIABLE_NUMBER.
func (SQLite) MaxBatchParams() int { return 999 }

func (d SQLite) CreateTableSQL(table string, cols []Column, pk []string) string {
	return createTableSQL(d, table, cols, pk)
}

func (d SQLite) AddColumnSQL(table string, col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.QuoteIdent(table), d.QuoteIdent(col.Name), d.ColumnTypeName(col))
}

func (d SQLite) DropColumnSQL(table, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(col))
}

func (d SQLite) CreateIndexSQL(indexName, table string, cols []string, unique bool) string {
	return createIndexSQL(d, indexName, table, cols, unique)
}

func (d SQLite) CreateForeignKeySQL(table, column, refTable, refColumn string) string {
	// SQLite cannot ADD a foreign key to an existing table; callers must
	// fold this into CreateTableSQL's column list. Returning "" signals
	// the schema manager to skip the separate statement.
	return ""
}

func (d SQLite) UpsertIdentifierSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (Dimension, NextValue) VALUES (?, ?)
ON CONFLICT(Dimension) DO UPDATE SET NextValue = NextValue + ?`, d.QuoteIdent(table))
}

func (SQLite) IsolationLevel() sql.IsolationLevel { return sql.LevelSerializable }
