package dialect

import (
	"database/sql"
	"fmt"
	"strings"
)

// SQLServer renders SQL for github.com/microsoft/go-mssqldb, targeting
// SQL Server 2019+ (OFFSET/FETCH paging, no "CREATE TABLE IF NOT EXISTS").
type SQLServer struct{}

func (SQLServer) Name() string { return "sqlserver" }

func (SQLServer) QuoteIdent(name string) string { return quoteWith('[', ']', name) }

func (SQLServer) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// LimitOffset renders SQL Server's OFFSET/FETCH form, which requires an
// ORDER BY clause to precede it; the query compiler enforces that by
// always emitting a deterministic tie-break order when paging.
func (SQLServer) LimitOffset(limit, offset int) string {
	switch {
	case limit == 0 && offset == 0:
		return ""
	case limit == 0:
		return fmt.Sprintf("OFFSET %d ROWS", offset)
	default:
		return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
	}
}

func (SQLServer) ColumnTypeName(c Column) string {
	switch c.Type {
	case Int64:
		return "BIGINT"
	case Int32:
		return "INT"
	case Bool:
		return "BIT"
	case VarString:
		return fmt.Sprintf("NVARCHAR(%d)", c.Length)
	case Text:
		return "NVARCHAR(MAX)"
	case DateTime:
		return "DATETIME2"
	case GUID:
		return "UNIQUEIDENTIFIER"
	case Blob:
		return "VARBINARY(MAX)"
	case Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
	default:
		panic(fmt.Errorf("sqlserver: unsupported column type %v", c.Type))
	}
}

// MaxBatchParams reflects the tds protocol's 2100 parameter ceiling.
func (SQLServer) MaxBatchParams() int { return 2100 }

func (d SQLServer) CreateTableSQL(table string, cols []Column, pk []string) string {
	inner := strings.Replace(createTableSQL(d, table, cols, pk), "CREATE TABLE IF NOT EXISTS", "CREATE TABLE", 1)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\n%s", table, inner)
}

func (d SQLServer) AddColumnSQL(table string, col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", d.QuoteIdent(table), d.QuoteIdent(col.Name), d.ColumnTypeName(col))
}

func (d SQLServer) DropColumnSQL(table, col string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuoteIdent(table), d.QuoteIdent(col))
}

func (d SQLServer) CreateIndexSQL(indexName, table string, cols []string, unique bool) string {
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
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s')\nCREATE %s %s ON %s (%s)",
		indexName, kw, d.QuoteIdent(indexName), d.QuoteIdent(table), joined)
}

func (d SQLServer) CreateForeignKeySQL(table, column, refTable, refColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdent(table), d.QuoteIdent(fmt.Sprintf("fk_%s_%s", table, column)),
		d.QuoteIdent(column), d.QuoteIdent(refTable), d.QuoteIdent(refColumn))
}

func (d SQLServer) UpsertIdentifierSQL(table string) string {
	return fmt.Sprintf(`MERGE %s AS target
USING (SELECT @p1 AS Dimension, @p2 AS NextValue) AS src
ON target.Dimension = src.Dimension
WHEN MATCHED THEN UPDATE SET NextValue = target.NextValue + @p3
WHEN NOT MATCHED THEN INSERT (Dimension, NextValue) VALUES (src.Dimension, src.NextValue);`, d.QuoteIdent(table))
}

func (SQLServer) IsolationLevel() sql.IsolationLevel { return sql.LevelReadCommitted }
