// Package papers owns the permanent paper record tables: one row per
// paper, fixed page slots keyed by page number, and mobile page slots keyed
// by question index. Staged pages are attached here only through the push
// boundary.
package papers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/store"
)

// Populate seeds the paper and fixed-page tables from the assessment spec.
// It is idempotent: a populated database is left untouched.
func Populate(ctx context.Context, db *store.DB, spec *assessment.Spec, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
			return fmt.Errorf("failed to count papers: %w", err)
		}
		if n > 0 {
			return nil
		}

		for paper := 1; paper <= spec.Papers; paper++ {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO papers (paper_number) VALUES (?)`, paper); err != nil {
				return fmt.Errorf("failed to insert paper %d: %w", paper, err)
			}
			version := spec.Version(paper)
			for page := 1; page <= spec.PagesPerPaper; page++ {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO fixed_pages (paper_number, page_number, version) VALUES (?, ?, ?)`,
					paper, page, version); err != nil {
					return fmt.Errorf("failed to insert paper %d page %d: %w", paper, page, err)
				}
			}
		}

		logger.Info("papers tables populated", "papers", spec.Papers, "pages_per_paper", spec.PagesPerPaper)
		return nil
	})
}

// RecordedVersion returns the version the fixed-page table records for a
// slot, or 0 when the slot does not exist.
func RecordedVersion(ctx context.Context, q store.Querier, paper, page int) (int, error) {
	var v int
	err := q.QueryRowContext(ctx,
		`SELECT version FROM fixed_pages WHERE paper_number = ? AND page_number = ?`,
		paper, page).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read recorded version: %w", err)
	}
	return v, nil
}

// FixedSlotTaken reports whether a fixed (paper, page) slot already holds
// an image.
func FixedSlotTaken(ctx context.Context, q store.Querier, paper, page int) (bool, error) {
	var imageID sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT image_id FROM fixed_pages WHERE paper_number = ? AND page_number = ?`,
		paper, page).Scan(&imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("paper %d page %d does not exist", paper, page)
	}
	if err != nil {
		return false, err
	}
	return imageID.Valid, nil
}

// MobileSlotTaken reports whether a (paper, question) slot already holds an
// image.
func MobileSlotTaken(ctx context.Context, q store.Querier, paper, question int) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mobile_pages WHERE paper_number = ? AND question_index = ?`,
		paper, question).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AttachFixed fills a fixed slot with an image. The update is guarded by
// "slot still empty" so a racing push can never overwrite.
func AttachFixed(ctx context.Context, q store.Querier, paper, page int, imageID string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE fixed_pages SET image_id = ? WHERE paper_number = ? AND page_number = ? AND image_id IS NULL`,
		imageID, paper, page)
	if err != nil {
		return fmt.Errorf("failed to attach fixed page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("paper %d page %d is already filled", paper, page)
	}
	return nil
}

// AttachMobile records an image against a (paper, question) slot.
func AttachMobile(ctx context.Context, q store.Querier, paper, question int, imageID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO mobile_pages (paper_number, question_index, image_id) VALUES (?, ?, ?)`,
		paper, question, imageID)
	if err != nil {
		return fmt.Errorf("failed to attach mobile page: %w", err)
	}
	return nil
}
