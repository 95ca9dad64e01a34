package reldoc

import (
	"context"
	"testing"

	"github.com/relspace/reldoc/dialect"
)

type testWidget struct {
	ID   int64  `msgpack:"-"`
	SKU  string `msgpack:"k"`
	Name string `msgpack:"n"`
}

func (w *testWidget) DocID() int64      { return w.ID }
func (w *testWidget) SetDocID(id int64) { w.ID = id }

func TestBootstrapCreatesUniqueIndexForDeclaredUniqueMapIndex(t *testing.T) {
	scm := NewSchema()
	AddDocumentType[testWidget](scm, "Widget", DocumentOpts{})
	AddMapIndex[testWidget](scm, "Widget", "by_sku",
		[]dialect.Column{{Name: "SKU", Type: dialect.VarString, Length: 64}},
		func(w *testWidget) []Row { return []Row{{w.SKU}} }).
		Unique("SKU")

	st := newTestStore(t, scm)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	a := &testWidget{SKU: "ABC", Name: "first"}
	saveAndFlush(t, ctx, sess, a)

	b := &testWidget{SKU: "ABC", Name: "second"}
	if err := sess.Save(b); err != nil {
		t.Fatal(err)
	}
	err := sess.SaveChangesAsync(ctx)
	if err == nil {
		t.Fatalf("expected a unique-constraint violation inserting a duplicate SKU, got nil")
	}
}

// TestInitializeAsyncIsIdempotent guards bootstrap against re-running on an
// already-provisioned database: a second call must leave every table and
// index untouched rather than erroring on a duplicate create.
func TestInitializeAsyncIsIdempotent(t *testing.T) {
	scm := NewSchema()
	AddDocumentType[testWidget](scm, "Widget", DocumentOpts{})
	AddMapIndex[testWidget](scm, "Widget", "by_sku",
		[]dialect.Column{{Name: "SKU", Type: dialect.VarString, Length: 64}},
		func(w *testWidget) []Row { return []Row{{w.SKU}} }).
		Unique("SKU")

	st := newTestStore(t, scm)
	ctx := context.Background()

	if err := st.InitializeAsync(ctx); err != nil {
		t.Fatalf("second InitializeAsync: %v", err)
	}
	if err := st.InitializeAsync(ctx); err != nil {
		t.Fatalf("third InitializeAsync: %v", err)
	}

	sess := st.CreateSession()
	defer sess.Close()
	w := &testWidget{SKU: "XYZ", Name: "still works"}
	saveAndFlush(t, ctx, sess, w)
}
