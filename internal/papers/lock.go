package papers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// AcquirePushLock claims the single system-wide push slot for a bundle and
// flags the bundle push-locked, in one transaction. Only one bundle may
// hold the slot; all pushes are serialized through it.
func AcquirePushLock(ctx context.Context, db *store.DB, bundleID string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := bundle.Get(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if b.Pushed {
			return &staging.LockedError{BundleID: bundleID, Pushed: true}
		}
		if b.PushLocked {
			return &staging.LockedError{BundleID: bundleID}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE push_lock SET bundle_id = ? WHERE id = 1 AND bundle_id IS NULL`, bundleID)
		if err != nil {
			return fmt.Errorf("failed to claim push lock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var holder sql.NullString
			_ = tx.QueryRowContext(ctx, `SELECT bundle_id FROM push_lock WHERE id = 1`).Scan(&holder)
			return &staging.LockedError{BundleID: holder.String}
		}

		return bundle.SetFlag(ctx, tx, bundleID, bundle.FlagPushLocked, true)
	})
}

// ReleasePushLock frees the push slot and clears the bundle's lock flag.
// Safe to call when the bundle no longer holds the slot.
func ReleasePushLock(ctx context.Context, db *store.DB, bundleID string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE push_lock SET bundle_id = NULL WHERE id = 1 AND bundle_id = ?`, bundleID); err != nil {
			return fmt.Errorf("failed to release push lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bundles SET is_push_locked = 0 WHERE id = ?`, bundleID); err != nil {
			return fmt.Errorf("failed to clear push lock flag: %w", err)
		}
		return nil
	})
}
