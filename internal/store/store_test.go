package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/averros/scanstage/internal/store"
)

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesSchema(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	// A known table must exist after open.
	var n int
	err := db.Querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bundles`).Scan(&n)
	if err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
	// The single push-lock row is seeded empty.
	var holder sql.NullString
	err = db.Querier().QueryRowContext(ctx,
		`SELECT bundle_id FROM push_lock WHERE id = 1`).Scan(&holder)
	if err != nil {
		t.Fatalf("push_lock row missing: %v", err)
	}
	if holder.Valid {
		t.Errorf("push lock seeded held by %s, want empty", holder.String)
	}
}

func TestWithTxCommit(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bundles (id, name, hash, pdf_path, page_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			"b1", "a.pdf", "h1", "/tmp/a.pdf", 3, store.Now())
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	var n int
	if err := db.Querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bundles WHERE id = 'b1'`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestWithTxRollback(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bundles (id, name, hash, pdf_path, page_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			"b1", "a.pdf", "h1", "/tmp/a.pdf", 3, store.Now())
		if err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	var n int
	if err := db.Querier().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bundles`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0 after rollback", n)
	}
}
