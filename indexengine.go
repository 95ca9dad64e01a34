package reldoc

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/relspace/reldoc/dialect"
)

// rowKey renders a Row into a string suitable for map-row set-equality and
// for grouping reduce contributions by key. %#v gives a stable, type-aware
// representation without requiring every column value to be Stringer.
func rowKey(row Row) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%#v", v)
	}
	return b.String()
}

func groupKeyOf(row Row, keyIdx []int) string {
	var b strings.Builder
	for i, idx := range keyIdx {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%#v", row[idx])
	}
	return b.String()
}

// diffRows splits the current (new) and previous (old) row sets of a
// single document into rows added and rows removed, by full row equality.
func diffRows(oldRows, newRows []Row) (added, removed []Row) {
	oldSeen := make(map[string]bool, len(oldRows))
	for _, r := range oldRows {
		oldSeen[rowKey(r)] = true
	}
	newSeen := make(map[string]bool, len(newRows))
	for _, r := range newRows {
		newSeen[rowKey(r)] = true
	}
	for _, r := range newRows {
		if !oldSeen[rowKey(r)] {
			added = append(added, r)
		}
	}
	for _, r := range oldRows {
		if !newSeen[rowKey(r)] {
			removed = append(removed, r)
		}
	}
	return added, removed
}

// oldRowsFor recomputes the index output the document produced before this
// flush, by unmarshaling its pre-flush snapshot into a scratch instance and
// running the index's map function over it. Map-row sets are not cached
// from load; the snapshot is already held for change detection, so this
// adds one unmarshal per tracked-index per affected document instead of a
// second in-memory cache to keep consistent.
func oldRowsFor(st *Store, dt *docType, idx anyIndex, snapshot []byte) []Row {
	if snapshot == nil {
		return nil
	}
	scratch := reflect.New(dt.goType).Interface()
	if err := st.codec.Unmarshal(snapshot, scratch); err != nil {
		panic(&SerializationError{Type: dt.typeName, Err: err})
	}
	return idx.computeRows(scratch)
}

// flushIndexesForEntry maintains every index registered against e's
// document type, in dependency order (bridge inserts/deletes before
// reduce row upserts).
func (s *Session) flushIndexesForEntry(ctx context.Context, tx *sql.Tx, e *entry) error {
	dt := s.store.schema.docTypeNamed(e.typeName)

	var oldSnapshot []byte
	if e.state != NewState {
		oldSnapshot = e.snapshot
	}

	var newObj any
	if e.state != Deleted {
		newObj = e.obj
	}

	for _, idx := range dt.indexes {
		var oldRows, newRows []Row
		if oldSnapshot != nil {
			oldRows = oldRowsFor(s.store, dt, idx, oldSnapshot)
		}
		if newObj != nil {
			newRows = idx.computeRows(newObj)
		}

		if idx.isReduce() {
			if err := s.flushReduceIndex(ctx, tx, dt, idx, e.id, oldRows, newRows); err != nil {
				return err
			}
			continue
		}
		if err := s.flushMapIndex(ctx, tx, dt, idx, e.id, oldRows, newRows); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) flushMapIndex(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, docID int64, oldRows, newRows []Row) error {
	added, removed := diffRows(oldRows, newRows)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	dia := s.store.dia
	table := s.store.table(mapTableName(dt.collection, idx.name()))
	colNames := columnNames(idx.columns())

	for _, r := range removed {
		st := deleteRowStatement(dia, table, docID, colNames, r)
		if err := st.exec(ctx, tx); err != nil {
			return err
		}
	}
	if len(added) > 0 {
		allCols := append([]string{"DocumentId"}, colNames...)
		rows := make([][]any, len(added))
		for i, r := range added {
			rows[i] = append([]any{docID}, r...)
		}
		for _, st := range insertStatements(dia, table, allCols, rows) {
			if err := st.exec(ctx, tx); err != nil {
				return err
			}
		}
	}
	s.store.log("reldoc: index %s: doc %d: +%d -%d rows", idx.name(), docID, len(added), len(removed))
	return nil
}

func columnNames(cols []dialect.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// flushReduceIndex maintains the bridge table and the _Reduced row for
// every group key this document's contribution touched.
func (s *Session) flushReduceIndex(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, docID int64, oldRows, newRows []Row) error {
	keyIdx := idx.keyColumnIndexes()

	oldByGroup := groupRowsByKey(oldRows, keyIdx)
	newByGroup := groupRowsByKey(newRows, keyIdx)

	groups := map[string]bool{}
	for g := range oldByGroup {
		groups[g] = true
	}
	for g := range newByGroup {
		groups[g] = true
	}
	// Stable order makes the emitted DML (and thus tests asserting on it)
	// deterministic across runs.
	ordered := make([]string, 0, len(groups))
	for g := range groups {
		ordered = append(ordered, g)
	}
	sort.Strings(ordered)

	for _, g := range ordered {
		oldContribs := oldByGroup[g]
		newContribs := newByGroup[g]
		var keyRow Row
		if len(newContribs) > 0 {
			keyRow = newContribs[0]
		} else {
			keyRow = oldContribs[0]
		}

		needsFullReaggregate := len(oldContribs) > 0 && !allInvertible(idx)

		if err := s.updateBridgeMembership(ctx, tx, dt, idx, docID, keyRow, keyIdx, len(newContribs) > 0); err != nil {
			return err
		}

		if needsFullReaggregate {
			if err := s.reaggregateGroup(ctx, tx, dt, idx, keyRow, keyIdx); err != nil {
				return err
			}
			continue
		}
		if err := s.incrementalMergeGroup(ctx, tx, dt, idx, keyRow, keyIdx, oldContribs, newContribs); err != nil {
			return err
		}
	}
	return nil
}

func groupRowsByKey(rows []Row, keyIdx []int) map[string][]Row {
	out := map[string][]Row{}
	for _, r := range rows {
		g := groupKeyOf(r, keyIdx)
		out[g] = append(out[g], r)
	}
	return out
}

func allInvertible(idx anyIndex) bool {
	cols := idx.columns()
	keySet := map[int]bool{}
	for _, i := range idx.keyColumnIndexes() {
		keySet[i] = true
	}
	for i := range cols {
		if keySet[i] {
			continue
		}
		agg := idx.aggAt(i)
		if agg == nil || !agg.Invertible {
			return false
		}
	}
	return true
}

func (s *Session) updateBridgeMembership(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, docID int64, keyRow Row, keyIdx []int, stillMember bool) error {
	dia := s.store.dia
	table := s.store.table(mapTableName(dt.collection, idx.name()))
	keyColNames := keyColumnNames(idx, keyIdx)

	del := bridgeDeleteForDocStatement(dia, table, docID, keyColNames, keyRow, keyIdx)
	if err := del.exec(ctx, tx); err != nil {
		return err
	}
	if stillMember {
		allCols := append([]string{"DocumentId"}, keyColNames...)
		keyVals := valuesAt(keyRow, keyIdx)
		row := append([]any{docID}, keyVals...)
		for _, st := range insertStatements(dia, table, allCols, [][]any{row}) {
			if err := st.exec(ctx, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

func keyColumnNames(idx anyIndex, keyIdx []int) []string {
	cols := idx.columns()
	out := make([]string, len(keyIdx))
	for i, ci := range keyIdx {
		out[i] = cols[ci].Name
	}
	return out
}

func valuesAt(row Row, idxs []int) []any {
	out := make([]any, len(idxs))
	for i, ci := range idxs {
		out[i] = row[ci]
	}
	return out
}

func bridgeDeleteForDocStatement(dia dialect.Dialect, table string, docID int64, keyCols []string, keyRow Row, keyIdx []int) stmt {
	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s WHERE %s = %s", dia.QuoteIdent(table), dia.QuoteIdent("DocumentId"), dia.Placeholder(1))
	args := []any{docID}
	n := 2
	for i, c := range keyCols {
		fmt.Fprintf(&b, " AND %s = %s", dia.QuoteIdent(c), dia.Placeholder(n))
		args = append(args, keyRow[keyIdx[i]])
		n++
	}
	return stmt{sql: b.String(), args: args}
}

func (s *Session) reaggregateGroup(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, keyRow Row, keyIdx []int) error {
	bridgeTable := s.store.table(mapTableName(dt.collection, idx.name()))
	keyColNames := keyColumnNames(idx, keyIdx)

	docIDs, err := s.bridgeDocIDsForGroup(ctx, tx, bridgeTable, keyColNames, keyRow, keyIdx)
	if err != nil {
		return err
	}
	if len(docIDs) == 0 {
		return s.deleteReducedRow(ctx, tx, dt, idx, keyRow, keyIdx)
	}

	cols := idx.columns()
	acc := make([]any, len(cols))
	for i := range cols {
		if agg := idx.aggAt(i); agg != nil {
			acc[i] = agg.Zero
		} else {
			acc[i] = keyRow[i]
		}
	}

	docTable := s.store.table(dt.collection.documentTableName())
	for _, docID := range docIDs {
		content, err := s.loadDocumentContent(ctx, tx, docTable, docID)
		if err != nil {
			return err
		}
		if content == nil {
			continue
		}
		scratch := reflect.New(dt.goType).Interface()
		if err := s.store.codec.Unmarshal(content, scratch); err != nil {
			return &SerializationError{Type: dt.typeName, Err: err}
		}
		for _, row := range idx.computeRows(scratch) {
			if groupKeyOf(row, keyIdx) != groupKeyOf(keyRow, keyIdx) {
				continue
			}
			for i := range cols {
				if agg := idx.aggAt(i); agg != nil {
					acc[i] = agg.Merge(acc[i], row[i])
				}
			}
		}
	}

	return s.upsertReducedRow(ctx, tx, dt, idx, acc)
}

func (s *Session) incrementalMergeGroup(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, keyRow Row, keyIdx []int, oldContribs, newContribs []Row) error {
	cols := idx.columns()
	bridgeTable := s.store.table(mapTableName(dt.collection, idx.name()))
	keyColNames := keyColumnNames(idx, keyIdx)

	remaining, err := s.bridgeCountForGroup(ctx, tx, bridgeTable, keyColNames, keyRow, keyIdx)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return s.deleteReducedRow(ctx, tx, dt, idx, keyRow, keyIdx)
	}

	acc, exists, err := s.readReducedRow(ctx, tx, dt, idx, keyRow, keyIdx)
	if err != nil {
		return err
	}
	if !exists {
		acc = make([]any, len(cols))
		for i := range cols {
			if agg := idx.aggAt(i); agg != nil {
				acc[i] = agg.Zero
			} else {
				acc[i] = keyRow[i]
			}
		}
	}

	for _, row := range oldContribs {
		for i := range cols {
			if agg := idx.aggAt(i); agg != nil {
				acc[i] = agg.Unmerge(acc[i], row[i])
			}
		}
	}
	for _, row := range newContribs {
		for i := range cols {
			if agg := idx.aggAt(i); agg != nil {
				acc[i] = agg.Merge(acc[i], row[i])
			}
		}
	}

	return s.upsertReducedRow(ctx, tx, dt, idx, acc)
}

func (s *Session) bridgeDocIDsForGroup(ctx context.Context, tx *sql.Tx, table string, keyCols []string, keyRow Row, keyIdx []int) ([]int64, error) {
	dia := s.store.dia
	where, args := equalityClause(dia, keyCols, keyRow, keyIdx, 1)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", dia.QuoteIdent("DocumentId"), dia.QuoteIdent(table), where)
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &TransientError{Err: err}
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Session) bridgeCountForGroup(ctx context.Context, tx *sql.Tx, table string, keyCols []string, keyRow Row, keyIdx []int) (int, error) {
	dia := s.store.dia
	where, args := equalityClause(dia, keyCols, keyRow, keyIdx, 1)
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", dia.QuoteIdent(table), where)
	var n int
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, &TransientError{Err: err}
	}
	return n, nil
}

func (s *Session) readReducedRow(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, keyRow Row, keyIdx []int) ([]any, bool, error) {
	dia := s.store.dia
	table := s.store.table(reducedTableName(dt.collection, idx.name()))
	cols := idx.columns()
	keyColNames := keyColumnNames(idx, keyIdx)

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = dia.QuoteIdent(c.Name)
	}
	where, args := equalityClause(dia, keyColNames, keyRow, keyIdx, 1)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(quoted, ", "), dia.QuoteIdent(table), where)

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	err := tx.QueryRowContext(ctx, q, args...).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &TransientError{Err: err}
	}
	return dest, true, nil
}

func (s *Session) upsertReducedRow(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, values []any) error {
	dia := s.store.dia
	table := s.store.table(reducedTableName(dt.collection, idx.name()))
	cols := idx.columns()
	keyIdx := idx.keyColumnIndexes()
	keyColNames := keyColumnNames(idx, keyIdx)

	where, args := equalityClause(dia, keyColNames, Row(values), keyIdx, 1)
	delSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", dia.QuoteIdent(table), where)
	if _, err := tx.ExecContext(ctx, delSQL, args...); err != nil {
		return &TransientError{Err: err}
	}

	allCols := columnNames(cols)
	for _, st := range insertStatements(dia, table, allCols, [][]any{values}) {
		if err := st.exec(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) deleteReducedRow(ctx context.Context, tx *sql.Tx, dt *docType, idx anyIndex, keyRow Row, keyIdx []int) error {
	dia := s.store.dia
	table := s.store.table(reducedTableName(dt.collection, idx.name()))
	keyColNames := keyColumnNames(idx, keyIdx)
	where, args := equalityClause(dia, keyColNames, keyRow, keyIdx, 1)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", dia.QuoteIdent(table), where)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return &TransientError{Err: err}
	}
	return nil
}

func (s *Session) loadDocumentContent(ctx context.Context, tx *sql.Tx, docTable string, docID int64) ([]byte, error) {
	dia := s.store.dia
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		dia.QuoteIdent("Content"), dia.QuoteIdent(docTable), dia.QuoteIdent("Id"), dia.Placeholder(1))
	var content []byte
	err := tx.QueryRowContext(ctx, q, docID).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return content, nil
}

func equalityClause(dia dialect.Dialect, colNames []string, row Row, idxs []int, startN int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(colNames))
	n := startN
	for i, c := range colNames {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = %s", dia.QuoteIdent(c), dia.Placeholder(n))
		if idxs != nil {
			args = append(args, row[idxs[i]])
		} else {
			args = append(args, row[i])
		}
		n++
	}
	return b.String(), args
}
