package reldoc

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relspace/reldoc/dialect"
)

// AlterOp is one operation in an AlterTable call.
type AlterOp struct {
	AddColumn  *dialect.Column
	DropColumn string
}

// CreateTable renders and executes a CREATE TABLE (IF NOT EXISTS, where the
// dialect supports it) for an application-owned table, inside its own
// transaction. Hosting applications use this (and AlterTable / CreateIndex
// / DropTable / CreateForeignKey) to manage tables reldoc itself does not
// own, through the same Dialect reldoc uses for its own bootstrap.
func (st *Store) CreateTable(ctx context.Context, name string, cols []dialect.Column, pk []string) error {
	return st.exec(ctx, st.dia.CreateTableSQL(st.table(name), cols, pk))
}

// AlterTable applies a sequence of add/drop column operations, in order,
// each in its own statement. SQLite and SQL Server render ADD/DROP COLUMN
// without an existence guard (neither engine supports one); callers on
// those two backends must not repeat an AlterTable call that already
// succeeded, exactly as the raw SQL would behave by hand.
func (st *Store) AlterTable(ctx context.Context, name string, ops []AlterOp) error {
	for _, op := range ops {
		var stmt string
		switch {
		case op.AddColumn != nil:
			stmt = st.dia.AddColumnSQL(st.table(name), *op.AddColumn)
		case op.DropColumn != "":
			stmt = st.dia.DropColumnSQL(st.table(name), op.DropColumn)
		default:
			continue
		}
		if err := st.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndex renders and executes CREATE [UNIQUE] INDEX through the
// dialect's CreateIndexSQL: guarded against an existing index on every
// dialect but MySQL, where the statement is unconditional and fails if the
// index already exists.
func (st *Store) CreateIndex(ctx context.Context, indexName, table string, cols []string, unique bool) error {
	return st.exec(ctx, st.dia.CreateIndexSQL(indexName, st.table(table), cols, unique))
}

// DropTable drops a table unconditionally.
func (st *Store) DropTable(ctx context.Context, name string) error {
	return st.exec(ctx, fmt.Sprintf("DROP TABLE %s", st.dia.QuoteIdent(st.table(name))))
}

// CreateForeignKey adds a foreign key constraint, where the dialect can
// express it as a separate ALTER TABLE statement (SQLite cannot; see
// dialect.SQLite.CreateForeignKeySQL).
func (st *Store) CreateForeignKey(ctx context.Context, table, column, refTable, refColumn string) error {
	stmt := st.dia.CreateForeignKeySQL(st.table(table), column, st.table(refTable), refColumn)
	if stmt == "" {
		return nil
	}
	return st.exec(ctx, stmt)
}

func (st *Store) exec(ctx context.Context, stmt string) error {
	_, err := st.db.ExecContext(ctx, stmt)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("executing %q: %w", stmt, err)}
	}
	return nil
}

func (st *Store) execTx(ctx context.Context, tx *sql.Tx, stmt string) error {
	_, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("executing %q: %w", stmt, err)}
	}
	return nil
}

// createIndexIdempotent issues a CREATE [UNIQUE] INDEX for table/indexName,
// skipping it if the index already exists. Every dialect but MySQL renders
// its own existence guard (CREATE INDEX IF NOT EXISTS, or SQL Server's
// sys.indexes check) directly into the statement; MySQL has no equivalent
// single-statement form for indexes, so this probes
// information_schema.statistics first and only issues the CREATE when the
// probe comes back empty.
func (st *Store) createIndexIdempotent(ctx context.Context, tx *sql.Tx, indexName, table string, cols []string, unique bool) error {
	if st.dia.Name() == "mysql" {
		exists, err := st.mysqlIndexExists(ctx, tx, table, indexName)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	return st.execTx(ctx, tx, st.dia.CreateIndexSQL(indexName, table, cols, unique))
}

func (st *Store) mysqlIndexExists(ctx context.Context, tx *sql.Tx, table, indexName string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?",
		table, indexName,
	).Scan(&n)
	if err != nil {
		return false, &TransientError{Err: fmt.Errorf("probing information_schema.statistics for index %q on %q: %w", indexName, table, err)}
	}
	return n > 0, nil
}

// bootstrapSchema creates, in order, the Document table (one per
// registered collection that is actually in use), the Identifiers table,
// and every registered index's table(s). Everything runs inside the
// caller's transaction so bootstrap is all-or-nothing.
func (st *Store) bootstrapSchema(ctx context.Context, tx *sql.Tx) error {
	for _, coll := range st.collectionsInUse() {
		cols := []dialect.Column{
			{Name: "Id", Type: dialect.Int64},
			{Name: "Type", Type: dialect.VarString, Length: 128},
			{Name: "ContentType", Type: dialect.VarString, Length: 64},
			{Name: "Content", Type: dialect.Blob},
			{Name: "Version", Type: dialect.Int64},
		}
		stmt := st.dia.CreateTableSQL(st.table(coll.documentTableName()), cols, []string{"Id"})
		if err := st.execTx(ctx, tx, stmt); err != nil {
			return err
		}
	}

	idCols := []dialect.Column{
		{Name: "Dimension", Type: dialect.VarString, Length: 64},
		{Name: "NextValue", Type: dialect.Int64},
	}
	if err := st.execTx(ctx, tx, st.dia.CreateTableSQL(st.table("Identifiers"), idCols, []string{"Dimension"})); err != nil {
		return err
	}

	for _, idx := range st.schema.Indexes() {
		if err := st.bootstrapIndex(ctx, tx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) bootstrapIndex(ctx context.Context, tx *sql.Tx, idx anyIndex) error {
	dt := st.schema.docTypeNamed(idx.docTypeName())
	coll := dt.collection

	if idx.isReduce() {
		reducedCols := idx.columns()
		keyNames := make([]string, 0, len(idx.keyColumnIndexes()))
		for _, i := range idx.keyColumnIndexes() {
			keyNames = append(keyNames, reducedCols[i].Name)
		}
		stmt := st.dia.CreateTableSQL(st.table(reducedTableName(coll, idx.name())), reducedCols, keyNames)
		if err := st.execTx(ctx, tx, stmt); err != nil {
			return err
		}

		bridgeCols := []dialect.Column{{Name: "DocumentId", Type: dialect.Int64}}
		for _, i := range idx.keyColumnIndexes() {
			bridgeCols = append(bridgeCols, reducedCols[i])
		}
		bridgeStmt := st.dia.CreateTableSQL(st.table(mapTableName(coll, idx.name())), bridgeCols, nil)
		if err := st.execTx(ctx, tx, bridgeStmt); err != nil {
			return err
		}
		return st.createIndexIdempotent(ctx, tx, "ix_"+idx.name()+"_doc", st.table(mapTableName(coll, idx.name())), []string{"DocumentId"}, false)
	}

	cols := append([]dialect.Column{{Name: "DocumentId", Type: dialect.Int64}}, idx.columns()...)
	stmt := st.dia.CreateTableSQL(st.table(mapTableName(coll, idx.name())), cols, nil)
	if err := st.execTx(ctx, tx, stmt); err != nil {
		return err
	}
	if err := st.createIndexIdempotent(ctx, tx, "ix_"+idx.name()+"_doc", st.table(mapTableName(coll, idx.name())), []string{"DocumentId"}, false); err != nil {
		return err
	}
	if uniq := idx.uniqueColumns(); len(uniq) > 0 {
		if err := st.createIndexIdempotent(ctx, tx, "ux_"+idx.name(), st.table(mapTableName(coll, idx.name())), uniq, true); err != nil {
			return err
		}
	}
	return nil
}

func (st *Store) collectionsInUse() []*Collection {
	seen := map[*Collection]bool{}
	var out []*Collection
	for _, dt := range st.schema.docsByType {
		if !seen[dt.collection] {
			seen[dt.collection] = true
			out = append(out, dt.collection)
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultCollection)
	}
	return out
}
