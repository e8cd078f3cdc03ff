// Package conformance provides a shared test suite every storage.Store
// backend (memory, sql, a future adapter) runs against, grounded on
// dex's own storage/conformance package — generalized the same way
// storage.Store itself was: CRUD against dex's fixed AuthRequest/Client/
// RefreshToken/Password/Keys shape becomes CRUD against an arbitrary
// model name and Record, since this module's Store has no fixed schema.
package conformance

import (
	"context"
	"testing"

	"github.com/better-auth/authd/storage"
)

const testModel = "conformance_widget"

type subTest struct {
	name string
	run  func(t *testing.T, s storage.Store)
}

func runTests(t *testing.T, newStorage func() storage.Store, tests []subTest) {
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newStorage()
			defer s.Close()
			test.run(t, s)
		})
	}
}

// RunTests runs the conformance suite against a storage.Store. newStorage
// must return an initialized but empty store; it is called once per
// sub-test so each runs against a clean slate.
func RunTests(t *testing.T, newStorage func() storage.Store) {
	runTests(t, newStorage, []subTest{
		{"CreateAndFindOne", testCreateAndFindOne},
		{"FindOneNotFound", testFindOneNotFound},
		{"FindMany", testFindMany},
		{"Count", testCount},
		{"Update", testUpdate},
		{"UpdateMany", testUpdateMany},
		{"Delete", testDelete},
		{"DeleteMany", testDeleteMany},
		{"ConsumeOne", testConsumeOne},
		{"Transaction", testTransaction},
		{"TransactionRollback", testTransactionRollback},
	})
}

func mustCreate(t *testing.T, s storage.Store, rec storage.Record) storage.Record {
	t.Helper()
	out, err := s.Create(context.Background(), testModel, rec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.ID() == "" {
		t.Fatalf("Create: no id assigned: %#v", out)
	}
	return out
}

func testCreateAndFindOne(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, storage.Record{"name": "widget-a", "count": int64(1)})

	got, err := s.FindOne(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}, nil)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got["name"] != "widget-a" {
		t.Errorf("FindOne: name = %v, want widget-a", got["name"])
	}
}

func testFindOneNotFound(t *testing.T, s storage.Store) {
	_, err := s.FindOne(context.Background(), testModel, []storage.Where{storage.Eq("id", "does-not-exist")}, nil)
	if err != storage.ErrNotFound {
		t.Errorf("FindOne: err = %v, want storage.ErrNotFound", err)
	}
}

func testFindMany(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, storage.Record{"name": "widget-a", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-b", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-c", "group": "y"})

	got, err := s.FindMany(ctx, testModel, []storage.Where{storage.Eq("group", "x")}, nil)
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FindMany: got %d records, want 2", len(got))
	}
}

func testCount(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, storage.Record{"name": "widget-a", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-b", "group": "x"})

	n, err := s.Count(ctx, testModel, []storage.Where{storage.Eq("group", "x")})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, storage.Record{"name": "widget-a", "count": int64(1)})

	updated, err := s.Update(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}, storage.Record{"count": int64(2)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated["count"] != int64(2) {
		t.Errorf("Update: count = %v, want 2", updated["count"])
	}

	_, err = s.Update(ctx, testModel, []storage.Where{storage.Eq("id", "does-not-exist")}, storage.Record{"count": int64(3)})
	if err != storage.ErrNotFound {
		t.Errorf("Update on missing row: err = %v, want storage.ErrNotFound", err)
	}
}

func testUpdateMany(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, storage.Record{"name": "widget-a", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-b", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-c", "group": "y"})

	n, err := s.UpdateMany(ctx, testModel, []storage.Where{storage.Eq("group", "x")}, storage.Record{"group": "z"})
	if err != nil {
		t.Fatalf("UpdateMany: %v", err)
	}
	if n != 2 {
		t.Errorf("UpdateMany: affected %d rows, want 2", n)
	}

	count, err := s.Count(ctx, testModel, []storage.Where{storage.Eq("group", "z")})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count after UpdateMany: got %d, want 2", count)
	}
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, storage.Record{"name": "widget-a"})

	if err := s.Delete(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.FindOne(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}, nil); err != storage.ErrNotFound {
		t.Errorf("FindOne after Delete: err = %v, want storage.ErrNotFound", err)
	}

	if err := s.Delete(ctx, testModel, []storage.Where{storage.Eq("id", "does-not-exist")}); err != storage.ErrNotFound {
		t.Errorf("Delete on missing row: err = %v, want storage.ErrNotFound", err)
	}
}

func testConsumeOne(t *testing.T, s storage.Store) {
	ctx := context.Background()
	created := mustCreate(t, s, storage.Record{"name": "widget-a"})

	rec, err := s.ConsumeOne(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())})
	if err != nil {
		t.Fatalf("ConsumeOne: %v", err)
	}
	if rec.ID() != created.ID() {
		t.Errorf("ConsumeOne returned id %q, want %q", rec.ID(), created.ID())
	}

	if _, err := s.FindOne(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}, nil); err != storage.ErrNotFound {
		t.Errorf("FindOne after ConsumeOne: err = %v, want storage.ErrNotFound", err)
	}

	if _, err := s.ConsumeOne(ctx, testModel, []storage.Where{storage.Eq("id", created.ID())}); err != storage.ErrNotFound {
		t.Errorf("second ConsumeOne on the same row: err = %v, want storage.ErrNotFound", err)
	}

	if _, err := s.ConsumeOne(ctx, testModel, []storage.Where{storage.Eq("id", "does-not-exist")}); err != storage.ErrNotFound {
		t.Errorf("ConsumeOne on missing row: err = %v, want storage.ErrNotFound", err)
	}
}

func testDeleteMany(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, storage.Record{"name": "widget-a", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-b", "group": "x"})
	mustCreate(t, s, storage.Record{"name": "widget-c", "group": "y"})

	n, err := s.DeleteMany(ctx, testModel, []storage.Where{storage.Eq("group", "x")})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteMany: removed %d rows, want 2", n)
	}

	remaining, err := s.Count(ctx, testModel, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if remaining != 1 {
		t.Errorf("Count after DeleteMany: got %d, want 1", remaining)
	}
}

func testTransaction(t *testing.T, s storage.Store) {
	ctx := context.Background()

	err := s.Transaction(ctx, func(ctx context.Context, tx storage.Store) error {
		_, err := tx.Create(ctx, testModel, storage.Record{"name": "widget-a"})
		return err
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	n, err := s.Count(ctx, testModel, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after committed Transaction: got %d, want 1", n)
	}
}

// testTransactionRollback only checks backends that support atomic
// rollback; storage.Store's contract allows a backend with no
// transactional primitive to run fn directly and skip rollback (see
// storage.Store.Transaction's doc comment), so this sub-test logs rather
// than fails when the write survives.
func testTransactionRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sentinel := storage.ErrNotFound

	err := s.Transaction(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := tx.Create(ctx, testModel, storage.Record{"name": "widget-a"}); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("Transaction: err = %v, want sentinel", err)
	}

	n, err := s.Count(ctx, testModel, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Logf("backend does not roll back on error (row count after failed Transaction: %d)", n)
	}
}
