package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/averros/scanstage/internal/store"
)

// InsertImages persists freshly-split pages. Callers run this inside one
// transaction so a bundle never exposes a partial page set.
func InsertImages(ctx context.Context, q store.Querier, imgs []*Image) error {
	const stmt = `INSERT INTO staging_images
		(id, bundle_id, bundle_order, image_path, thumb_path, image_hash,
		 image_type, rotation, qr_payloads, pushed,
		 paper_number, page_number, version, extra_paper, questions, reason, history)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, img := range imgs {
		if err := img.Validate(); err != nil {
			return err
		}
		cols, err := variantColumns(img)
		if err != nil {
			return err
		}
		payloads, err := json.Marshal(img.QRPayloads)
		if err != nil {
			return err
		}
		history, err := json.Marshal(img.History)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, stmt,
			img.ID, img.BundleID, img.BundleOrder, img.ImagePath, img.ThumbPath, img.ImageHash,
			string(img.Type), img.Rotation, string(payloads), boolInt(img.Pushed),
			cols.paper, cols.page, cols.version, cols.extraPaper, cols.questions, cols.reason, string(history),
		); err != nil {
			return fmt.Errorf("failed to insert page %d: %w", img.BundleOrder, err)
		}
	}
	return nil
}

// SaveImage writes back every mutable field of an image row.
func SaveImage(ctx context.Context, q store.Querier, img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	cols, err := variantColumns(img)
	if err != nil {
		return err
	}
	payloads, err := json.Marshal(img.QRPayloads)
	if err != nil {
		return err
	}
	history, err := json.Marshal(img.History)
	if err != nil {
		return err
	}

	const stmt = `UPDATE staging_images SET
		image_type = ?, rotation = ?, qr_payloads = ?, pushed = ?,
		paper_number = ?, page_number = ?, version = ?,
		extra_paper = ?, questions = ?, reason = ?, history = ?
		WHERE id = ?`
	res, err := q.ExecContext(ctx, stmt,
		string(img.Type), img.Rotation, string(payloads), boolInt(img.Pushed),
		cols.paper, cols.page, cols.version, cols.extraPaper, cols.questions, cols.reason, string(history),
		img.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save page %d: %w", img.BundleOrder, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %d: %w", img.BundleOrder, ErrNotFound)
	}
	return nil
}

const imageColumns = `id, bundle_id, bundle_order, image_path, thumb_path, image_hash,
	image_type, rotation, qr_payloads, pushed,
	paper_number, page_number, version, extra_paper, questions, reason, history`

// ImagesByBundle returns a bundle's pages in document order.
func ImagesByBundle(ctx context.Context, q store.Querier, bundleID string) ([]*Image, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+imageColumns+` FROM staging_images WHERE bundle_id = ? ORDER BY bundle_order`,
		bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var imgs []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
	}
	return imgs, rows.Err()
}

// ImageByOrder returns one page by its 1-based bundle position.
func ImageByOrder(ctx context.Context, q store.Querier, bundleID string, order int) (*Image, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+imageColumns+` FROM staging_images WHERE bundle_id = ? AND bundle_order = ?`,
		bundleID, order)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bundle %s page %d: %w", bundleID, order, ErrNotFound)
	}
	return img, err
}

// CountsByType tallies a bundle's pages by image type.
func CountsByType(ctx context.Context, q store.Querier, bundleID string) (TypeCounts, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT image_type, COUNT(*) FROM staging_images WHERE bundle_id = ? GROUP BY image_type`,
		bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	defer rows.Close()

	counts := make(TypeCounts)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[ImageType(t)] = n
	}
	return counts, rows.Err()
}

// SaveDecode writes one page's decoded QR payloads and rotation.
func SaveDecode(ctx context.Context, q store.Querier, imageID string, payloads []string, rotation int) error {
	if payloads == nil {
		payloads = []string{}
	}
	data, err := json.Marshal(payloads)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE staging_images SET qr_payloads = ?, rotation = ? WHERE id = ?`,
		string(data), rotation, imageID)
	if err != nil {
		return fmt.Errorf("failed to save decode result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
	}
	return nil
}

// MarkAllPushed flags every page of a bundle as pushed.
func MarkAllPushed(ctx context.Context, q store.Querier, bundleID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE staging_images SET pushed = 1 WHERE bundle_id = ?`, bundleID)
	return err
}

// variant holds the nullable per-type columns of one row.
type variant struct {
	paper, page, version sql.NullInt64
	extraPaper           sql.NullInt64
	questions            sql.NullString
	reason               sql.NullString
}

func variantColumns(img *Image) (variant, error) {
	var v variant
	switch img.Type {
	case TypeKnown:
		v.paper = sql.NullInt64{Int64: int64(img.Known.Paper), Valid: true}
		v.page = sql.NullInt64{Int64: int64(img.Known.Page), Valid: true}
		v.version = sql.NullInt64{Int64: int64(img.Known.Version), Valid: true}
	case TypeExtra:
		v.extraPaper = sql.NullInt64{Int64: int64(img.Extra.Paper), Valid: true}
		qs, err := json.Marshal(img.Extra.Questions)
		if err != nil {
			return v, err
		}
		v.questions = sql.NullString{String: string(qs), Valid: true}
	case TypeDiscard, TypeError:
		v.reason = sql.NullString{String: img.Reason, Valid: true}
	}
	return v, nil
}

// rowScanner lets scanImage accept *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var (
		img      Image
		typ      string
		payloads string
		pushed   int
		v        variant
		history  string
	)
	err := row.Scan(
		&img.ID, &img.BundleID, &img.BundleOrder, &img.ImagePath, &img.ThumbPath, &img.ImageHash,
		&typ, &img.Rotation, &payloads, &pushed,
		&v.paper, &v.page, &v.version, &v.extraPaper, &v.questions, &v.reason, &history,
	)
	if err != nil {
		return nil, err
	}

	img.Type = ImageType(typ)
	img.Pushed = pushed != 0
	if err := json.Unmarshal([]byte(payloads), &img.QRPayloads); err != nil {
		return nil, fmt.Errorf("page %d: corrupt qr payloads: %w", img.BundleOrder, err)
	}
	if err := json.Unmarshal([]byte(history), &img.History); err != nil {
		return nil, fmt.Errorf("page %d: corrupt history: %w", img.BundleOrder, err)
	}

	switch img.Type {
	case TypeKnown:
		img.Known = &KnownInfo{Paper: int(v.paper.Int64), Page: int(v.page.Int64), Version: int(v.version.Int64)}
	case TypeExtra:
		img.Extra = &ExtraInfo{Paper: int(v.extraPaper.Int64)}
		if v.questions.Valid {
			if err := json.Unmarshal([]byte(v.questions.String), &img.Extra.Questions); err != nil {
				return nil, fmt.Errorf("page %d: corrupt question list: %w", img.BundleOrder, err)
			}
		}
	case TypeDiscard, TypeError:
		img.Reason = v.reason.String
	}

	return &img, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// KnownSlots maps every Known page's (paper, page) key to its bundle order.
func KnownSlots(imgs []*Image) map[[2]int]int {
	slots := make(map[[2]int]int)
	for _, img := range imgs {
		if img.Type == TypeKnown && img.Known != nil {
			slots[img.Known.Key()] = img.BundleOrder
		}
	}
	return slots
}
