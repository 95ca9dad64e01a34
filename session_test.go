package reldoc

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testAccount struct {
	ID      int64  `msgpack:"-"`
	Owner   string `msgpack:"o"`
	Balance int64  `msgpack:"b"`
}

func (a *testAccount) DocID() int64     { return a.ID }
func (a *testAccount) SetDocID(id int64) { a.ID = id }

var accountSchema = func() *Schema {
	scm := NewSchema()
	AddDocumentType[testAccount](scm, "Account", DocumentOpts{})
	return scm
}()

func diff(t testing.TB, got, want any) {
	t.Helper()
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}

func TestSessionSaveAndGetRoundTrip(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()

	acc := &testAccount{Owner: "alice", Balance: 100}
	if err := sess.Save(acc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if acc.ID == 0 {
		t.Fatalf("Save did not assign an Id")
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync: %v", err)
	}

	sess2 := st.CreateSession()
	defer sess2.Close()
	got, err := Get[testAccount](ctx, sess2, acc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatalf("Get returned nil for id %d", acc.ID)
	}
	diff(t, got, acc)
}

func TestSessionGetReturnsSameInstanceWithinSession(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	acc := &testAccount{Owner: "bob", Balance: 5}
	saveAndFlush(t, ctx, sess, acc)

	a, err := Get[testAccount](ctx, sess, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Get[testAccount](ctx, sess, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Get returned two different instances for the same id within one session")
	}
}

func TestSessionUpdateAndDelete(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	acc := &testAccount{Owner: "carol", Balance: 10}
	saveAndFlush(t, ctx, sess, acc)

	acc.Balance = 20
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync (update): %v", err)
	}

	sess2 := st.CreateSession()
	defer sess2.Close()
	got, err := Get[testAccount](ctx, sess2, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 20 {
		t.Errorf("Balance = %d, want 20", got.Balance)
	}

	if err := sess2.Delete(got); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := sess2.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync (delete): %v", err)
	}

	sess3 := st.CreateSession()
	defer sess3.Close()
	gone, err := Get[testAccount](ctx, sess3, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Errorf("document still present after delete: %+v", gone)
	}
}

func TestSaveChangesAsyncIsIdempotentWithNoMutation(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	acc := &testAccount{Owner: "dana", Balance: 1}
	saveAndFlush(t, ctx, sess, acc)

	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("second no-op SaveChangesAsync: %v", err)
	}
}

func TestConcurrencyConflictOnStaleVersion(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	acc := &testAccount{Owner: "erin", Balance: 1}
	saveAndFlush(t, ctx, sess, acc)

	sessA := st.CreateSession()
	defer sessA.Close()
	a, err := Get[testAccount](ctx, sessA, acc.ID)
	if err != nil {
		t.Fatal(err)
	}

	sessB := st.CreateSession()
	defer sessB.Close()
	b, err := Get[testAccount](ctx, sessB, acc.ID)
	if err != nil {
		t.Fatal(err)
	}

	a.Balance = 2
	if err := sessA.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("sessA SaveChangesAsync: %v", err)
	}

	b.Balance = 3
	err = sessB.SaveChangesAsync(ctx)
	if err == nil {
		t.Fatalf("expected a ConcurrencyError, got nil")
	}
	if _, ok := err.(*ConcurrencyError); !ok {
		t.Fatalf("expected *ConcurrencyError, got %T: %v", err, err)
	}
}

func TestSaveAttachesPreexistingIdAndUpdatesDespiteUnknownVersion(t *testing.T) {
	st := newTestStore(t, accountSchema)
	ctx := context.Background()

	sess := st.CreateSession()
	defer sess.Close()
	acc := &testAccount{Owner: "frank", Balance: 1}
	saveAndFlush(t, ctx, sess, acc)

	// A second flush bumps the stored Version to 2, well past the zero
	// value a freshly attached, never-loaded entry would otherwise carry.
	acc.Balance = 2
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync (bump version): %v", err)
	}

	sess2 := st.CreateSession()
	defer sess2.Close()
	detached := &testAccount{Owner: "frank", Balance: 99}
	detached.SetDocID(acc.ID)
	if err := sess2.Save(detached); err != nil {
		t.Fatalf("Save (attach pre-existing Id): %v", err)
	}
	if err := sess2.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync (attach update): %v", err)
	}

	sess3 := st.CreateSession()
	defer sess3.Close()
	got, err := Get[testAccount](ctx, sess3, acc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 99 {
		t.Errorf("Balance = %d, want 99", got.Balance)
	}
}

func saveAndFlush(t testing.TB, ctx context.Context, sess *Session, doc Document) {
	t.Helper()
	if err := sess.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := sess.SaveChangesAsync(ctx); err != nil {
		t.Fatalf("SaveChangesAsync: %v", err)
	}
}
