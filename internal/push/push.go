// Package push is the commit boundary between staged bundles and the
// permanent paper records. A push runs classify -> verify perfect ->
// attach, serialized system-wide by the single push-lock slot, and either
// commits a whole bundle or leaves it untouched and unlocked.
package push

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/classify"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// FailureCode names the structured push failures.
type FailureCode string

const (
	CodeAlreadyPushed   FailureCode = "already_pushed"
	CodeStillProcessing FailureCode = "still_processing"
	CodeImperfect       FailureCode = "imperfect"
	CodeCollision       FailureCode = "collision"
)

// Failure is a structured push rejection. The bundle is left unmodified
// and unlocked.
type Failure struct {
	Code     FailureCode
	BundleID string
	Detail   string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("push of bundle %s failed (%s): %s", f.BundleID, f.Code, f.Detail)
}

// Pusher commits perfect bundles.
type Pusher struct {
	db     *store.DB
	spec   *assessment.Spec
	logger *slog.Logger
}

// New creates a pusher.
func New(db *store.DB, spec *assessment.Spec, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{db: db, spec: spec, logger: logger}
}

// Push runs the full classify-verify-commit sequence for one bundle.
func (p *Pusher) Push(ctx context.Context, bundleID string) error {
	b, err := bundle.Get(ctx, p.db.Querier(), bundleID)
	if err != nil {
		return err
	}
	if b.Pushed {
		return &Failure{Code: CodeAlreadyPushed, BundleID: bundleID, Detail: "bundle has already been pushed"}
	}
	if !b.HasPageImages || !b.HasQRCodes {
		return &Failure{Code: CodeStillProcessing, BundleID: bundleID, Detail: "bundle is still being processed"}
	}

	if err := papers.AcquirePushLock(ctx, p.db, bundleID); err != nil {
		return err
	}
	// The lock must clear on every path that does not end with a pushed
	// bundle.
	committed := false
	defer func() {
		if !committed {
			if rerr := papers.ReleasePushLock(context.WithoutCancel(ctx), p.db, bundleID); rerr != nil {
				p.logger.Error("failed to release push lock", "bundle_id", bundleID, "error", rerr)
			}
		}
	}()

	// Classify any pages still unread; harmless when none remain.
	if err := classify.Run(ctx, p.db, p.spec, bundleID, p.logger); err != nil {
		return err
	}

	err = p.db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := bundle.Get(ctx, tx, bundleID)
		if err != nil {
			return err
		}

		perfect, err := bundle.Perfect(ctx, tx, b)
		if err != nil {
			return err
		}
		if !perfect {
			return &Failure{Code: CodeImperfect, BundleID: bundleID, Detail: "bundle has unread, unknown, error, or incomplete extra pages"}
		}

		imgs, err := staging.ImagesByBundle(ctx, tx, bundleID)
		if err != nil {
			return err
		}

		// Re-check every target slot against previously-pushed images
		// before attaching anything; one collision aborts the whole push.
		for _, img := range imgs {
			switch img.Type {
			case staging.TypeKnown:
				taken, err := papers.FixedSlotTaken(ctx, tx, img.Known.Paper, img.Known.Page)
				if err != nil {
					return err
				}
				if taken {
					return &Failure{
						Code:     CodeCollision,
						BundleID: bundleID,
						Detail: fmt.Sprintf("page %d targets paper %d page %d, already filled by an earlier push",
							img.BundleOrder, img.Known.Paper, img.Known.Page),
					}
				}
			case staging.TypeExtra:
				for _, question := range img.Extra.Questions {
					taken, err := papers.MobileSlotTaken(ctx, tx, img.Extra.Paper, question)
					if err != nil {
						return err
					}
					if taken {
						return &Failure{
							Code:     CodeCollision,
							BundleID: bundleID,
							Detail: fmt.Sprintf("page %d targets paper %d question %d, already filled by an earlier push",
								img.BundleOrder, img.Extra.Paper, question),
						}
					}
				}
			}
		}

		for _, img := range imgs {
			switch img.Type {
			case staging.TypeKnown:
				if err := papers.AttachFixed(ctx, tx, img.Known.Paper, img.Known.Page, img.ID); err != nil {
					return err
				}
			case staging.TypeExtra:
				for _, question := range img.Extra.Questions {
					if err := papers.AttachMobile(ctx, tx, img.Extra.Paper, question, img.ID); err != nil {
						return err
					}
				}
			}
		}

		if err := staging.MarkAllPushed(ctx, tx, bundleID); err != nil {
			return err
		}
		if err := bundle.SetFlag(ctx, tx, bundleID, bundle.FlagPushed, true); err != nil {
			return err
		}
		if err := bundle.SetFlag(ctx, tx, bundleID, bundle.FlagPushLocked, false); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE push_lock SET bundle_id = NULL WHERE id = 1 AND bundle_id = ?`, bundleID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	committed = true
	p.logger.Info("bundle pushed", "bundle_id", bundleID)
	return nil
}
