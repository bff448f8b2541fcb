// Package bundle manages uploaded scan bundles: validation and creation,
// deletion, status aggregation, and the push-eligibility predicate.
package bundle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// Bundle is one uploaded scanned document, staged before commit.
type Bundle struct {
	ID            string
	Name          string
	Hash          string
	PDFPath       string
	PageCount     int
	UploadedBy    string
	HasPageImages bool
	HasQRCodes    bool
	PushLocked    bool
	Pushed        bool
	CreatedAt     time.Time
}

// Flags returns the slice of bundle state the cast engine checks.
func (b *Bundle) Flags() staging.BundleFlags {
	return staging.BundleFlags{ID: b.ID, PushLocked: b.PushLocked, Pushed: b.Pushed}
}

// Insert persists a new bundle row.
func Insert(ctx context.Context, q store.Querier, b *Bundle) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO bundles (id, name, hash, pdf_path, page_count, uploaded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Hash, b.PDFPath, b.PageCount, b.UploadedBy, store.Now())
	if err != nil {
		return fmt.Errorf("failed to insert bundle: %w", err)
	}
	return nil
}

const bundleColumns = `id, name, hash, pdf_path, page_count, uploaded_by,
	has_page_images, has_qr_codes, is_push_locked, pushed, created_at`

// Get returns one bundle by id.
func Get(ctx context.Context, q store.Querier, id string) (*Bundle, error) {
	b, err := scanBundle(q.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM bundles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bundle %s: %w", id, staging.ErrNotFound)
	}
	return b, err
}

// ByHash returns any existing bundle with the given content hash.
func ByHash(ctx context.Context, q store.Querier, hash string) (*Bundle, error) {
	b, err := scanBundle(q.QueryRowContext(ctx,
		`SELECT `+bundleColumns+` FROM bundles WHERE hash = ? LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bundle with hash %s: %w", hash, staging.ErrNotFound)
	}
	return b, err
}

// List returns all bundles, newest first.
func List(ctx context.Context, q store.Querier) ([]*Bundle, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+bundleColumns+` FROM bundles ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return bundles, rows.Err()
}

// flag columns settable through SetFlag.
const (
	FlagHasPageImages = "has_page_images"
	FlagHasQRCodes    = "has_qr_codes"
	FlagPushLocked    = "is_push_locked"
	FlagPushed        = "pushed"
)

var flagColumns = map[string]bool{
	FlagHasPageImages: true,
	FlagHasQRCodes:    true,
	FlagPushLocked:    true,
	FlagPushed:        true,
}

// SetFlag sets one of the bundle's boolean flag columns.
func SetFlag(ctx context.Context, q store.Querier, id, column string, value bool) error {
	if !flagColumns[column] {
		return fmt.Errorf("unknown bundle flag %q", column)
	}
	v := 0
	if value {
		v = 1
	}
	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE bundles SET %s = ? WHERE id = ?`, column), v, id)
	if err != nil {
		return fmt.Errorf("failed to set bundle flag %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("bundle %s: %w", id, staging.ErrNotFound)
	}
	return nil
}

// Delete removes a bundle row; staging images cascade.
func Delete(ctx context.Context, q store.Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM bundles WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBundle(row rowScanner) (*Bundle, error) {
	var (
		b                                    Bundle
		hasImages, hasQR, pushLocked, pushed int
		createdAt                            string
	)
	err := row.Scan(&b.ID, &b.Name, &b.Hash, &b.PDFPath, &b.PageCount, &b.UploadedBy,
		&hasImages, &hasQR, &pushLocked, &pushed, &createdAt)
	if err != nil {
		return nil, err
	}
	b.HasPageImages = hasImages != 0
	b.HasQRCodes = hasQR != 0
	b.PushLocked = pushLocked != 0
	b.Pushed = pushed != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &b, nil
}
