package bundle

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// ReservedPrefix marks file names reserved for system use; uploads with it
// are rejected.
const ReservedPrefix = "__"

// Service implements bundle lifecycle operations.
type Service struct {
	db     *store.DB
	home   *home.Dir
	chores *chore.Tracker
	logger *slog.Logger
}

// NewService creates the bundle service.
func NewService(db *store.DB, homeDir *home.Dir, chores *chore.Tracker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, home: homeDir, chores: chores, logger: logger}
}

// UploadRequest carries one bundle upload.
type UploadRequest struct {
	Name       string
	Data       []byte
	UploadedBy string
	// Force accepts a duplicate content hash with a warning instead of a
	// conflict.
	Force bool

	MaxBytes int64
	MaxPages int
}

// Upload validates the document, checks the hash against existing bundles,
// stores the PDF under the home directory, and inserts the bundle row.
// The caller dispatches the split chore.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Bundle, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, staging.Inputf("bundle name must not be empty")
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return nil, staging.Inputf("bundle name %q uses the reserved prefix %q", name, ReservedPrefix)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return nil, staging.Inputf("bundle %q is not a PDF", name)
	}
	if len(req.Data) == 0 {
		return nil, staging.Inputf("empty upload")
	}
	if req.MaxBytes > 0 && int64(len(req.Data)) > req.MaxBytes {
		return nil, staging.Inputf("upload is %d bytes, limit is %d", len(req.Data), req.MaxBytes)
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	id := uuid.New().String()
	if err := s.home.EnsureBundleDirs(id); err != nil {
		return nil, err
	}
	pdfPath := s.home.BundlePDF(id)
	if err := os.WriteFile(pdfPath, req.Data, 0o644); err != nil {
		s.home.RemoveBundleDir(id)
		return nil, fmt.Errorf("failed to store bundle: %w", err)
	}

	if err := api.ValidateFile(pdfPath, nil); err != nil {
		s.home.RemoveBundleDir(id)
		return nil, staging.Inputf("%q is not a well-formed PDF: %v", name, err)
	}
	pageCount, err := api.PageCountFile(pdfPath)
	if err != nil {
		s.home.RemoveBundleDir(id)
		return nil, staging.Inputf("failed to read page count of %q: %v", name, err)
	}
	if pageCount == 0 {
		s.home.RemoveBundleDir(id)
		return nil, staging.Inputf("bundle %q has no pages", name)
	}
	if req.MaxPages > 0 && pageCount > req.MaxPages {
		s.home.RemoveBundleDir(id)
		return nil, staging.Inputf("bundle %q has %d pages, limit is %d", name, pageCount, req.MaxPages)
	}

	b := &Bundle{
		ID:         id,
		Name:       name,
		Hash:       hash,
		PDFPath:    pdfPath,
		PageCount:  pageCount,
		UploadedBy: req.UploadedBy,
	}
	// The hash check and the insert share one transaction: two identical
	// concurrent uploads cannot both pass the check.
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := ByHash(ctx, tx, hash)
		if err != nil && !errors.Is(err, staging.ErrNotFound) {
			return err
		}
		if existing != nil {
			if !req.Force {
				return &staging.ConflictError{
					BundleID: existing.ID,
					Reason:   fmt.Sprintf("an identical bundle was already uploaded as %q", existing.Name),
				}
			}
			s.logger.Warn("duplicate bundle accepted by force", "name", name, "existing_id", existing.ID)
		}
		return Insert(ctx, tx, b)
	})
	if err != nil {
		s.home.RemoveBundleDir(id)
		return nil, err
	}

	s.logger.Info("bundle uploaded", "bundle_id", id, "name", name, "pages", pageCount)
	return b, nil
}

// Delete removes a bundle, its pages, and its files, and marks its chores
// obsolete. Locked and pushed bundles cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if b.Pushed {
			return &staging.LockedError{BundleID: id, Pushed: true}
		}
		if b.PushLocked {
			return &staging.LockedError{BundleID: id}
		}
		if err := s.chores.MarkObsolete(ctx, tx, id); err != nil {
			return err
		}
		return Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	if err := s.home.RemoveBundleDir(id); err != nil {
		s.logger.Warn("failed to remove bundle files", "bundle_id", id, "error", err)
	}
	s.logger.Info("bundle deleted", "bundle_id", id)
	return nil
}

// Perfect reports push-eligibility: every page split and QR-read, no page
// Unread, Unknown, or Error, and every Extra page fully specified. Computed
// fresh on every call; operators mutate page types asynchronously.
func Perfect(ctx context.Context, q store.Querier, b *Bundle) (bool, error) {
	if !b.HasPageImages || !b.HasQRCodes {
		return false, nil
	}
	imgs, err := staging.ImagesByBundle(ctx, q, b.ID)
	if err != nil {
		return false, err
	}
	if len(imgs) != b.PageCount {
		return false, nil
	}
	for _, img := range imgs {
		switch img.Type {
		case staging.TypeUnread, staging.TypeUnknown, staging.TypeError:
			return false, nil
		case staging.TypeExtra:
			if !img.Extra.Complete() {
				return false, nil
			}
		}
	}
	return true, nil
}

// ChoreProgress is the live view of one in-flight chore.
type ChoreProgress struct {
	ChoreID  string `json:"chore_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Total    int    `json:"total"`
	Message  string `json:"message,omitempty"`
}

// Status is the operator-facing view of one bundle.
type Status struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	PageCount  int            `json:"page_count"`
	Counts     map[string]int `json:"counts"`
	Splitting  *ChoreProgress `json:"splitting,omitempty"`
	QRReading  *ChoreProgress `json:"qr_reading,omitempty"`
	Perfect    bool           `json:"perfect"`
	PushLocked bool           `json:"push_locked"`
	Pushed     bool           `json:"pushed"`
}

// Status assembles the live status of one bundle.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	b, err := Get(ctx, s.db.Querier(), id)
	if err != nil {
		return nil, err
	}

	counts, err := staging.CountsByType(ctx, s.db.Querier(), id)
	if err != nil {
		return nil, err
	}
	// Pages that have not been split yet have no rows; they are unread.
	if missing := b.PageCount - counts.Total(); missing > 0 {
		counts[staging.TypeUnread] += missing
	}

	out := &Status{
		ID:         b.ID,
		Name:       b.Name,
		PageCount:  b.PageCount,
		Counts:     make(map[string]int),
		PushLocked: b.PushLocked,
		Pushed:     b.Pushed,
	}
	for _, t := range []staging.ImageType{
		staging.TypeUnread, staging.TypeKnown, staging.TypeUnknown,
		staging.TypeExtra, staging.TypeDiscard, staging.TypeError,
	} {
		out.Counts[string(t)] = counts[t]
	}

	out.Splitting = s.liveProgress(ctx, id, chore.KindSplit)
	out.QRReading = s.liveProgress(ctx, id, chore.KindQRRead)

	perfect, err := Perfect(ctx, s.db.Querier(), b)
	if err != nil {
		return nil, err
	}
	out.Perfect = perfect
	return out, nil
}

// liveProgress returns the live chore of a kind when it is still running.
func (s *Service) liveProgress(ctx context.Context, bundleID string, kind chore.Kind) *ChoreProgress {
	c, err := s.chores.Live(ctx, bundleID, kind)
	if err != nil || c.Status.Terminal() {
		return nil
	}
	return &ChoreProgress{
		ChoreID:  c.ID,
		Status:   string(c.Status),
		Progress: c.Progress,
		Total:    c.Total,
		Message:  c.Message,
	}
}
