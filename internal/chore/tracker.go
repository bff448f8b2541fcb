package chore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// Tracker persists chores and advances their status machine. Every
// transition is a single conditional UPDATE guarded by the current status,
// so concurrent movers race non-destructively: exactly one wins, the loser
// changes nothing.
type Tracker struct {
	db     *store.DB
	logger *slog.Logger
}

// NewTracker creates a chore tracker.
func NewTracker(db *store.DB, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{db: db, logger: logger}
}

// Create supersedes any live chore of the same kind for the bundle and
// inserts a fresh one in Starting, ready for dispatch.
func (t *Tracker) Create(ctx context.Context, bundleID string, kind Kind, total int) (*Chore, error) {
	c := &Chore{
		ID:       uuid.New().String(),
		BundleID: bundleID,
		Kind:     kind,
		Status:   StatusStarting,
		Total:    total,
	}

	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := store.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE chores SET obsolete = 1, last_update = ? WHERE bundle_id = ? AND kind = ? AND obsolete = 0`,
			now, bundleID, string(kind)); err != nil {
			return fmt.Errorf("failed to supersede chores: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chores (id, bundle_id, kind, status, total, created_at, last_update)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.BundleID, string(c.Kind), string(c.Status), c.Total, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chore: %w", err)
	}

	t.logger.Info("chore created", "chore_id", c.ID, "bundle_id", bundleID, "kind", kind)
	return c, nil
}

// transition performs one guarded status move. It returns true when this
// caller won the update, false when the row was already past `from`.
func (t *Tracker) transition(ctx context.Context, id string, from []Status, to Status, set string, args ...any) (bool, error) {
	placeholders := ""
	fromArgs := make([]any, 0, len(from))
	for i, s := range from {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		fromArgs = append(fromArgs, string(s))
	}

	stmt := fmt.Sprintf(`UPDATE chores SET status = ?, last_update = ?%s WHERE id = ? AND status IN (%s)`, set, placeholders)
	all := append([]any{string(to), store.Now()}, args...)
	all = append(all, id)
	all = append(all, fromArgs...)

	var won bool
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, stmt, all...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = n > 0
		return nil
	})
	return won, err
}

// MarkQueued is the dispatcher's half of the accepted race: it moves
// Starting -> Queued only if the worker has not already advanced the chore
// to Running. Losing the race is not an error.
func (t *Tracker) MarkQueued(ctx context.Context, id string) error {
	won, err := t.transition(ctx, id, []Status{StatusStarting}, StatusQueued, "")
	if err != nil {
		return fmt.Errorf("failed to queue chore: %w", err)
	}
	if !won {
		t.logger.Debug("chore already advanced past starting", "chore_id", id)
	}
	return nil
}

// Start is the worker's claim: Starting or Queued -> Running, recording the
// worker id.
func (t *Tracker) Start(ctx context.Context, id, workerID string) error {
	won, err := t.transition(ctx, id,
		[]Status{StatusStarting, StatusQueued}, StatusRunning,
		", worker_id = ?", workerID)
	if err != nil {
		return fmt.Errorf("failed to start chore: %w", err)
	}
	if !won {
		return fmt.Errorf("chore %s is not startable", id)
	}
	return nil
}

// SetProgress updates the live progress counter and message.
func (t *Tracker) SetProgress(ctx context.Context, id string, done, total int, message string) error {
	return t.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE chores SET progress = ?, total = ?, message = ?, last_update = ? WHERE id = ?`,
			done, total, message, store.Now(), id)
		return err
	})
}

// Complete moves Running -> Complete. Only the worker calls this.
func (t *Tracker) Complete(ctx context.Context, id, message string) error {
	won, err := t.transition(ctx, id,
		[]Status{StatusRunning}, StatusComplete,
		", message = ?", message)
	if err != nil {
		return fmt.Errorf("failed to complete chore: %w", err)
	}
	if !won {
		return fmt.Errorf("chore %s is not running", id)
	}
	return nil
}

// Fail moves any non-terminal status to Error with a message.
func (t *Tracker) Fail(ctx context.Context, id, message string) error {
	won, err := t.transition(ctx, id,
		[]Status{StatusToDo, StatusStarting, StatusQueued, StatusRunning}, StatusError,
		", message = ?", message)
	if err != nil {
		return fmt.Errorf("failed to fail chore: %w", err)
	}
	if !won {
		t.logger.Warn("fail on terminal chore ignored", "chore_id", id)
	}
	return nil
}

// MarkObsolete flags every chore of a bundle as obsolete, preserving the
// records for audit.
func (t *Tracker) MarkObsolete(ctx context.Context, q store.Querier, bundleID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE chores SET obsolete = 1, last_update = ? WHERE bundle_id = ? AND obsolete = 0`,
		store.Now(), bundleID)
	return err
}

// Get returns one chore by id.
func (t *Tracker) Get(ctx context.Context, id string) (*Chore, error) {
	return scanChoreRow(t.db.Querier().QueryRowContext(ctx,
		choreSelect+` WHERE id = ?`, id))
}

// Live returns the non-obsolete chore of a kind for a bundle, or
// staging.ErrNotFound.
func (t *Tracker) Live(ctx context.Context, bundleID string, kind Kind) (*Chore, error) {
	return scanChoreRow(t.db.Querier().QueryRowContext(ctx,
		choreSelect+` WHERE bundle_id = ? AND kind = ? AND obsolete = 0`, bundleID, string(kind)))
}

// List returns chores, newest first, optionally filtered by bundle.
func (t *Tracker) List(ctx context.Context, bundleID string) ([]*Chore, error) {
	stmt := choreSelect
	var args []any
	if bundleID != "" {
		stmt += ` WHERE bundle_id = ?`
		args = append(args, bundleID)
	}
	stmt += ` ORDER BY created_at DESC`

	rows, err := t.db.Querier().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chores: %w", err)
	}
	defer rows.Close()

	var chores []*Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, err
		}
		chores = append(chores, c)
	}
	return chores, rows.Err()
}

const choreSelect = `SELECT id, bundle_id, kind, status, worker_id, message,
	progress, total, obsolete, created_at, last_update FROM chores`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChore(row rowScanner) (*Chore, error) {
	var (
		c                     Chore
		kind, status          string
		obsolete              int
		createdAt, lastUpdate string
	)
	err := row.Scan(&c.ID, &c.BundleID, &kind, &status, &c.WorkerID, &c.Message,
		&c.Progress, &c.Total, &obsolete, &createdAt, &lastUpdate)
	if err != nil {
		return nil, err
	}
	c.Kind = Kind(kind)
	c.Status = Status(status)
	c.Obsolete = obsolete != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.LastUpdate, _ = time.Parse(time.RFC3339Nano, lastUpdate)
	return &c, nil
}

func scanChoreRow(row *sql.Row) (*Chore, error) {
	c, err := scanChore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chore: %w", staging.ErrNotFound)
	}
	return c, err
}
