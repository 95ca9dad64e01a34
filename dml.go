package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/relspace/reldoc/dialect"
)

// stmt is one rendered DML statement, SQL text plus bound arguments, ready
// to run inside the flush transaction; exec wraps a driver error in a
// TransientError. Callers execute each stmt as soon as it is built.
type stmt struct {
	sql  string
	args []any
}

func (s stmt) exec(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, s.sql, s.args...)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("%s: %w", s.sql, err)}
	}
	return nil
}

// insertStatements renders one or more multi-row INSERT statements for
// rows, chunked so that no single statement exceeds the dialect's
// MaxBatchParams.
func insertStatements(dia dialect.Dialect, table string, colNames []string, rows [][]any) []stmt {
	if len(rows) == 0 {
		return nil
	}
	width := len(colNames)
	maxRowsPerBatch := dia.MaxBatchParams() / width
	if maxRowsPerBatch < 1 {
		maxRowsPerBatch = 1
	}

	quotedCols := make([]string, width)
	for i, c := range colNames {
		quotedCols[i] = dia.QuoteIdent(c)
	}

	var out []stmt
	for start := 0; start < len(rows); start += maxRowsPerBatch {
		end := start + maxRowsPerBatch
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", dia.QuoteIdent(table), strings.Join(quotedCols, ", "))
		args := make([]any, 0, len(batch)*width)
		n := 1
		for i, row := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('(')
			for j := 0; j < width; j++ {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(dia.Placeholder(n))
				n++
			}
			b.WriteByte(')')
			args = append(args, row...)
		}
		out = append(out, stmt{sql: b.String(), args: args})
	}
	return out
}

// deleteRowStatement deletes one map-index row by exact equality on
// DocumentId plus every column value — map rows have no identity beyond
// their contents, so equality is the only way to address one for removal.
func deleteRowStatement(dia dialect.Dialect, table string, docID int64, colNames []string, row Row) stmt {
	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE %s = %s", dia.QuoteIdent(table), dia.QuoteIdent("DocumentId"), dia.Placeholder(1))
	args := []any{docID}
	n := 2
	for i, c := range colNames {
		fmt.Fprintf(&b, " AND %s = %s", dia.QuoteIdent(c), dia.Placeholder(n))
		args = append(args, row[i])
		n++
	}
	return stmt{sql: b.String(), args: args}
}
