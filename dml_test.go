package reldoc

import (
	"testing"

	"github.com/relspace/reldoc/dialect"
)

func TestInsertStatementsChunksAtMaxBatchParams(t *testing.T) {
	dia := fakeNarrowDialect{max: 10}
	cols := []string{"a", "b"}
	rows := make([][]any, 12)
	for i := range rows {
		rows[i] = []any{i, i * 2}
	}

	stmts := insertStatements(dia, "T", cols, rows)
	if len(stmts) != 3 {
		t.Fatalf("got %d statements, want 3 (12 rows / 5 rows-per-batch at 10 params / 2 cols)", len(stmts))
	}
	total := 0
	for _, s := range stmts {
		if len(s.args) > 10 {
			t.Errorf("statement carries %d args, exceeds MaxBatchParams=10", len(s.args))
		}
		total += len(s.args) / 2
	}
	if total != 12 {
		t.Errorf("chunked statements cover %d rows total, want 12", total)
	}
}

func TestInsertStatementsEmptyRowsIsNoOp(t *testing.T) {
	stmts := insertStatements(dialect.SQLite{}, "T", []string{"a"}, nil)
	if stmts != nil {
		t.Errorf("expected nil for zero rows, got %v", stmts)
	}
}

// fakeNarrowDialect wraps SQLite but reports an artificially small
// MaxBatchParams, so the chunking boundary in insertStatements can be
// exercised without needing 999+ rows.
type fakeNarrowDialect struct {
	dialect.SQLite
	max int
}

func (d fakeNarrowDialect) MaxBatchParams() int { return d.max }
