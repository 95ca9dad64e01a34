package reldoc

import (
	"context"
	"sort"
	"testing"

	"github.com/relspace/reldoc/dialect"
)

type testOrder struct {
	ID       int64  `msgpack:"-"`
	Customer string `msgpack:"c"`
	Status   string `msgpack:"s"`
	Total    int64  `msgpack:"t"`
}

func (o *testOrder) DocID() int64      { return o.ID }
func (o *testOrder) SetDocID(id int64) { o.ID = id }

var (
	orderSchema           *Schema
	ordersByStatus        *Map[testOrder]
	ordersTotalByCustomer *Reduce[testOrder]
	ordersMaxByCustomer   *Reduce[testOrder]
)

func init() {
	orderSchema = NewSchema()
	AddDocumentType[testOrder](orderSchema, "Order", DocumentOpts{})
	ordersByStatus = AddMapIndex[testOrder](orderSchema, "Order", "by_status",
		[]dialect.Column{{Name: "Status", Type: dialect.VarString, Length: 32}},
		func(o *testOrder) []Row {
			return []Row{{o.Status}}
		})
	ordersTotalByCustomer = AddReduceIndex[testOrder](orderSchema, "Order", "total_by_customer",
		[]ReduceColumn{
			{Column: dialect.Column{Name: "Customer", Type: dialect.VarString, Length: 64}, Key: true},
			{Column: dialect.Column{Name: "Total", Type: dialect.Int64}, Agg: SumInt64()},
		},
		func(o *testOrder) []Row {
			return []Row{{o.Customer, o.Total}}
		})
	ordersMaxByCustomer = AddReduceIndex[testOrder](orderSchema, "Order", "max_by_customer",
		[]ReduceColumn{
			{Column: dialect.Column{Name: "Customer", Type: dialect.VarString, Length: 64}, Key: true},
			{Column: dialect.Column{Name: "Total", Type: dialect.Int64}, Agg: MaxInt64()},
		},
		func(o *testOrder) []Row {
			return []Row{{o.Customer, o.Total}}
		})
}

func TestMapIndexQuery(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()

	open1 := &testOrder{Customer: "alice", Status: "open", Total: 10}
	open2 := &testOrder{Customer: "bob", Status: "open", Total: 20}
	closed := &testOrder{Customer: "alice", Status: "closed", Total: 5}
	for _, o := range []*testOrder{open1, open2, closed} {
		if err := sess.Save(o); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync: %v", err)
	}

	ids, err := Query[testOrder](sess, ordersByStatus).
		Where(Cmp("Status", Eq, "open")).
		ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	want := []int64{open1.ID, open2.ID}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ListIDs = %v, want %v", ids, want)
	}
}

func TestMapIndexUpdatesOnStatusChange(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	o := &testOrder{Customer: "carol", Status: "open", Total: 1}
	saveAndFlush(t, ctx, sess, o)

	o.Status = "closed"
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync: %v", err)
	}

	sess2 := st.CreateSession()
	defer sess2.Close()
	openIDs, err := Query[testOrder](sess2, ordersByStatus).Where(Cmp("Status", Eq, "open")).ListIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range openIDs {
		if id == o.ID {
			t.Errorf("order %d still indexed under status=open after changing to closed", id)
		}
	}
	closedIDs, err := Query[testOrder](sess2, ordersByStatus).Where(Cmp("Status", Eq, "closed")).ListIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, id := range closedIDs {
		if id == o.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("order %d not indexed under status=closed", o.ID)
	}
}

func TestReduceIndexSumAggregation(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	a1 := &testOrder{Customer: "dana", Status: "open", Total: 10}
	a2 := &testOrder{Customer: "dana", Status: "open", Total: 25}
	b1 := &testOrder{Customer: "erin", Status: "open", Total: 7}
	for _, o := range []*testOrder{a1, a2, b1} {
		if err := sess.Save(o); err != nil {
			t.Fatal(err)
		}
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatal(err)
	}

	sum, err := QueryReduced[testOrder](sess, ordersTotalByCustomer).
		Where(Cmp("Customer", Eq, "dana")).
		Sum(ctx, "Total")
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if sum != 35 {
		t.Errorf("Sum(dana) = %d, want 35", sum)
	}

	// Removing one of dana's orders unmerges it from the running total.
	if err := sess.Delete(a1); err != nil {
		t.Fatal(err)
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatal(err)
	}

	sum2, err := QueryReduced[testOrder](sess, ordersTotalByCustomer).
		Where(Cmp("Customer", Eq, "dana")).
		Sum(ctx, "Total")
	if err != nil {
		t.Fatal(err)
	}
	if sum2 != 25 {
		t.Errorf("Sum(dana) after delete = %d, want 25", sum2)
	}
}

func TestReduceIndexGroupDisappearsWhenEmpty(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	o := &testOrder{Customer: "frank", Status: "open", Total: 42}
	saveAndFlush(t, ctx, sess, o)

	if err := sess.Delete(o); err != nil {
		t.Fatal(err)
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatal(err)
	}

	sum, err := QueryReduced[testOrder](sess, ordersTotalByCustomer).
		Where(Cmp("Customer", Eq, "frank")).
		Sum(ctx, "Total")
	if err != nil {
		t.Fatal(err)
	}
	if sum != 0 {
		t.Errorf("Sum(frank) after deleting its only order = %d, want 0", sum)
	}
}

// TestReduceIndexMaxForcesFullReaggregation exercises the non-invertible
// aggregator path: Max cannot be undone by an Unmerge, so removing the
// order that held the current maximum must re-derive the group's max from
// the remaining bridge members instead of silently keeping the stale value.
func TestReduceIndexMaxForcesFullReaggregation(t *testing.T) {
	st := newTestStore(t, orderSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	low := &testOrder{Customer: "gina", Status: "open", Total: 10}
	high := &testOrder{Customer: "gina", Status: "open", Total: 99}
	mid := &testOrder{Customer: "gina", Status: "open", Total: 50}
	for _, o := range []*testOrder{low, high, mid} {
		if err := sess.Save(o); err != nil {
			t.Fatal(err)
		}
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatal(err)
	}

	max1, err := QueryReduced[testOrder](sess, ordersMaxByCustomer).
		Where(Cmp("Customer", Eq, "gina")).
		Sum(ctx, "Total")
	if err != nil {
		t.Fatal(err)
	}
	if max1 != 99 {
		t.Fatalf("max before delete = %d, want 99", max1)
	}

	if err := sess.Delete(high); err != nil {
		t.Fatal(err)
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatal(err)
	}

	max2, err := QueryReduced[testOrder](sess, ordersMaxByCustomer).
		Where(Cmp("Customer", Eq, "gina")).
		Sum(ctx, "Total")
	if err != nil {
		t.Fatal(err)
	}
	if max2 != 50 {
		t.Errorf("max after removing the maximum = %d, want 50 (re-aggregated from remaining orders)", max2)
	}
}
