package dialect

import (
	"database/sql"
	"fmt"
)

// MySQL renders SQL for github.com/go-sql-driver/mysql, targeting MySQL 8+.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(name string) string { return quoteWith('`', '`', name) }

func (MySQL) Placeholder(n int) string { return "?" }

func (MySQL) LimitOffset(limit, offset int) string {
	switch {
	case limit == 0 && offset == 0:
		return ""
	case offset == 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case limit == 0:
		// MySQL has no OFFSET-only form; a very large limit stands in for
		// "no limit" the way MySQL's own docs recommend.
		return fmt.Sprintf("LIMIT 18446744073709551615 OFFSET %d", offset)
	default:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
}

func (MySQL) ColumnTypeName(c Column) string {
	switch c.Type {
	case Int64:
		return "BIGINT"
	case Int32:
		return "INT"
	case Bool:
		return "TINYINT(1)"
	case VarString:
		return fmt.Sprintf("VARCHAR(%d)", c.Length)
	case Text:
		return "TEXT"
	case DateTime:
		return "DATETIME(6)"
	case GUID:
		return "CHAR(36)"
	case Blob:
		return "BLOB"
	case Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
	default:
		panic(fmt.Errorf("mysql: unsupported column type %v", c.Type))
	}
}

// MaxBatchParams reflects the MySQL wire protocol's parameter count limit.
func (MySQL) MaxBatchParams() int { return 65535 }

func (d MySQL) CreateTableSQL(table string, cols []Column, pk []string) string {
	return createTableSQL(d, table, cols, pk)
}

func (d MySQL) AddColumnSQL(table string, col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", d.QuoteIdent(table), d.QuoteIdent(col.Name), d.ColumnTypeName(col))
}

func (d MySQL) DropColumnSQL(table, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", d.QuoteIdent(table), d.QuoteIdent(col))
}

func (d MySQL) CreateIndexSQL(indexName, table string, cols []string, unique bool) string {
	// MySQL has no "CREATE INDEX IF NOT EXISTS", so this renders
	// an unconditional CREATE INDEX. Bootstrap's createIndexIdempotent probes
	// information_schema.statistics before calling this on MySQL; callers
	// that invoke CreateIndexSQL directly (Store.CreateIndex, for
	// application-owned tables) must not repeat a call that already
	// succeeded.
	quoted := make([]string, len(cols))
	for i, n := range cols {
		quoted[i] = d.QuoteIdent(n)
	}
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	joined := ""
	for i, c := range quoted {
		if i > 0 {
			joined += ", "
		}
		joined += c
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kw, d.QuoteIdent(indexName), d.QuoteIdent(table), joined)
}

func (d MySQL) CreateForeignKeySQL(table, column, refTable, refColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdent(table), d.QuoteIdent(fmt.Sprintf("fk_%s_%s", table, column)),
		d.QuoteIdent(column), d.QuoteIdent(refTable), d.QuoteIdent(refColumn))
}

func (d MySQL) UpsertIdentifierSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (Dimension, NextValue) VALUES (?, ?)
ON DUPLICATE KEY UPDATE NextValue = NextValue + ?`, d.QuoteIdent(table))
}

func (MySQL) IsolationLevel() sql.IsolationLevel { return sql.LevelReadCommitted }
