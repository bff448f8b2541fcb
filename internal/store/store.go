// Package store provides the durable transactional store backing bundles,
// staging images, chores, and the papers tables. Domain packages own their
// records and SQL; this package owns the connection, the schema, and the
// transaction discipline.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	_ "modernc.org/sqlite"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository functions take a Querier so they run identically inside or
// outside an explicit unit of work.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the sqlite handle.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// schema migration. Transactions are opened immediate so every mutating
// unit of work takes the write lock up front, giving select-for-update
// semantics within the transaction.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; a single connection avoids spurious
	// SQLITE_BUSY between our own transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{sql: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Querier returns the raw handle for single-statement reads.
func (d *DB) Querier() Querier {
	return d.sql
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. Transient SQLITE_BUSY failures are retried with backoff.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry.Do(
		func() error {
			tx, err := d.sql.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			if err := fn(tx); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
				}
				return err
			}
			return tx.Commit()
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
	)
}

// isBusy reports whether err is a transient sqlite lock failure.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Now returns the timestamp format used across all tables.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
