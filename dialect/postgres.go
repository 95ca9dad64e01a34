package dialect

import (
	"database/sql"
	"fmt"
)

// Postgres renders SQL for github.com/lib/pq, targeting PostgreSQL 11+.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(name string) string { return quoteWith('"', '"', name) }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) LimitOffset(limit, offset int) string {
	switch {
	case limit == 0 && offset == 0:
		return ""
	case offset == 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case limit == 0:
		return fmt.Sprintf("OFFSET %d", offset)
	default:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
}

func (Postgres) ColumnTypeName(c Column) string {
	switch c.Type {
	case Int64:
		return "BIGINT"
	case Int32:
		return "INTEGER"
	case Bool:
		return "BOOLEAN"
	case VarString:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case Text:
		return "TEXT"
	case DateTime:
		return "TIMESTAMPTZ"
	case GUID:
		return "UUID"
	case Blob:
		return "BYTEA"
	case Decimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
	default:
		panic(fmt.Errorf("postgres: unsupported column type %v", c.Type))
	}
}

// MaxBatchParams reflects PostgreSQL's 16-bit parameter count limit.
func (Postgres) MaxBatchParams() int { return 65535 }

func (d Postgres) CreateTableSQL(table string, cols []Column, pk []string) string {
	return createTableSQL(d, table, cols, pk)
}

func (d Postgres) AddColumnSQL(table string, col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", d.QuoteIdent(table), d.QuoteIdent(col.Name), d.ColumnTypeName(col))
}

func (d Postgres) DropColumnSQL(table, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", d.QuoteIdent(table), d.QuoteIdent(col))
}

func (d Postgres) CreateIndexSQL(indexName, table string, cols []string, unique bool) string {
	return createIndexSQL(d, indexName, table, cols, unique)
}

func (d Postgres) CreateForeignKeySQL(table, column, refTable, refColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdent(table), d.QuoteIdent(fmt.Sprintf("fk_%s_%s", table, column)),
		d.QuoteIdent(column), d.QuoteIdent(refTable), d.QuoteIdent(refColumn))
}

func (d Postgres) UpsertIdentifierSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2)
ON CONFLICT (%s) DO UPDATE SET %s = %s.%s + $3`,
		d.QuoteIdent(table), d.QuoteIdent("Dimension"), d.QuoteIdent("NextValue"),
		d.QuoteIdent("Dimension"),
		d.QuoteIdent("NextValue"), d.QuoteIdent(table), d.QuoteIdent("NextValue"))
}

func (Postgres) IsolationLevel() sql.IsolationLevel { return sql.LevelReadCommitted }
