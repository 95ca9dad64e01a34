package reldoc

import (
	"context"
	"strings"
	"testing"

	"github.com/relspace/reldoc/dialect"
)

func TestBuilderListRestoresDocumentId(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	o := &testOrder{Customer: "hank", Status: "open", Total: 3}
	saveAndFlush(t, ctx, sess, o)

	sess2 := st.CreateSession()
	defer sess2.Close()
	got, err := Query[testOrder](sess2, ordersByStatus).
		Where(Cmp("Status", Eq, "open")).
		List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var found *testOrder
	for _, d := range got {
		if d.ID == o.ID {
			found = d
		}
	}
	if found == nil {
		t.Fatalf("List did not return order %d among %v", o.ID, got)
	}
	if found.ID == 0 {
		t.Fatalf("hydrated document has Id 0, want %d", o.ID)
	}

	// A caller using a List result directly (not a Get result) must be
	// able to Delete it without hitting the "no Id" ConfigError.
	if err := sess2.Delete(found); err != nil {
		t.Fatalf("Delete on a List result: %v", err)
	}
}

func TestCompileDefaultOrderByForPaging(t *testing.T) {
	st := newTestStore(t, orderSchema)
	sess := st.CreateSession()
	defer sess.Close()

	for _, dia := range []dialect.Dialect{dialect.SQLServer{}, dialect.SQLite{}, dialect.Postgres{}, dialect.MySQL{}} {
		b := Query[testOrder](sess, ordersByStatus).Take(10)
		compiled, err := b.Compile(dia)
		if err != nil {
			t.Fatalf("%s: Compile: %v", dia.Name(), err)
		}
		if !strings.Contains(compiled.SQL, "ORDER BY") {
			t.Errorf("%s: paged query with no explicit OrderBy has no ORDER BY: %s", dia.Name(), compiled.SQL)
		}
	}

	// No paging, no explicit order: no ORDER BY should be emitted at all.
	unpaged, err := Query[testOrder](sess, ordersByStatus).Compile(dialect.SQLServer{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(unpaged.SQL, "ORDER BY") {
		t.Errorf("unpaged query with no explicit OrderBy should not get a default order: %s", unpaged.SQL)
	}

	// An explicit OrderBy is never overridden by the paging default.
	explicit, err := Query[testOrder](sess, ordersByStatus).
		OrderByDesc("Status").
		Take(5).
		Compile(dialect.SQLServer{})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(explicit.SQL, "ORDER BY") != 1 || !strings.Contains(explicit.SQL, "[Status] DESC") {
		t.Errorf("explicit OrderBy was not preserved: %s", explicit.SQL)
	}
}

// TestCountCompileDropsOrderByWithoutPaging guards the subquery Count
// wraps its compiled SQL in: an ORDER BY with no OFFSET/FETCH is invalid
// inside a SQL Server derived table, so the unpaged count path must not
// carry a caller's OrderBy into the inner SELECT.
func TestCountCompileDropsOrderByWithoutPaging(t *testing.T) {
	st := newTestStore(t, orderSchema)
	sess := st.CreateSession()
	defer sess.Close()

	b := Query[testOrder](sess, ordersByStatus).OrderByDesc("Status")
	countSQL, err := b.compile(dialect.SQLServer{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(countSQL.SQL, "ORDER BY") {
		t.Errorf("count compile should drop an unpaged OrderBy: %s", countSQL.SQL)
	}

	listSQL, err := b.Compile(dialect.SQLServer{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(listSQL.SQL, "ORDER BY") {
		t.Errorf("List's own Compile must still keep the explicit OrderBy: %s", listSQL.SQL)
	}

	// Paging still gets its tie-break ORDER BY in the count path, since it
	// always comes with an OFFSET/FETCH clause.
	paged := Query[testOrder](sess, ordersByStatus).Take(5)
	pagedCount, err := paged.compile(dialect.SQLServer{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(pagedCount.SQL, "ORDER BY") {
		t.Errorf("paged count compile should keep its tie-break ORDER BY: %s", pagedCount.SQL)
	}
}
