package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/classify"
	"github.com/averros/scanstage/internal/qr"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// QRReadJob decodes the QR codes on every page of a bundle, then runs
// classification over the decoded payloads.
type QRReadJob struct {
	DB     *store.DB
	Chores *chore.Tracker
	Pool   *Pool
	Logger *slog.Logger
	Spec   *assessment.Spec

	Bundle *bundle.Bundle
}

// qrPageRequest is the payload for one qr_page unit.
type qrPageRequest struct {
	ImageID   string
	ImagePath string
}

// qrPageResult is the decode outcome for one page.
type qrPageResult struct {
	ImageID  string
	Payloads []string
	Rotation int
}

// Run implements Coordinator.
func (j *QRReadJob) Run(ctx context.Context, choreID string) error {
	log := j.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("bundle_id", j.Bundle.ID, "chore_id", choreID)

	imgs, err := staging.ImagesByBundle(ctx, j.DB.Querier(), j.Bundle.ID)
	if err != nil {
		return err
	}
	if len(imgs) == 0 {
		return fmt.Errorf("bundle %s has no page images", j.Bundle.ID)
	}

	total := len(imgs)
	results := make(chan Result, total)
	outstanding := make(map[string]bool, total)

	for _, img := range imgs {
		unit := &WorkUnit{
			ID:    uuid.New().String(),
			JobID: choreID,
			Task:  TaskQRPage,
			Payload: qrPageRequest{
				ImageID:   img.ID,
				ImagePath: img.ImagePath,
			},
			Results: results,
		}
		if err := j.Pool.Submit(unit); err != nil {
			return fmt.Errorf("failed to submit qr page: %w", err)
		}
		outstanding[unit.ID] = true
	}

	// Decoded payloads are persisted as they arrive, so a failed run
	// leaves the completed pages' codes behind for inspection.
	var failure error
	done := 0

	for len(outstanding) > 0 {
		var res Result
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-results:
		}
		delete(outstanding, res.UnitID)

		switch {
		case res.Revoked:
		case res.Err != nil:
			if failure == nil {
				failure = res.Err
				for id := range outstanding {
					j.Pool.Revoke(id)
				}
			}
		default:
			page := res.Value.(qrPageResult)
			if err := staging.SaveDecode(ctx, j.DB.Querier(), page.ImageID, page.Payloads, page.Rotation); err != nil {
				if failure == nil {
					failure = err
					for id := range outstanding {
						j.Pool.Revoke(id)
					}
				}
				continue
			}
			done++
			if err := j.Chores.SetProgress(ctx, choreID, done, total,
				fmt.Sprintf("decoded %d of %d pages", done, total)); err != nil {
				log.Warn("failed to update progress", "error", err)
			}
		}
	}

	if failure != nil {
		return fmt.Errorf("qr decoding failed: %w", failure)
	}

	if err := bundle.SetFlag(ctx, j.DB.Querier(), j.Bundle.ID, bundle.FlagHasQRCodes, true); err != nil {
		return err
	}
	log.Info("bundle qr codes read", "pages", total)

	if err := classify.Run(ctx, j.DB, j.Spec, j.Bundle.ID, log); err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	return nil
}

// RegisterQRHandler installs the qr_page handler on a pool.
func RegisterQRHandler(pool *Pool, dec qr.Decoder) {
	pool.RegisterHandler(TaskQRPage, func(ctx context.Context, unit *WorkUnit) (any, error) {
		req := unit.Payload.(qrPageRequest)
		payloads, rotation, err := qr.DecodeWithRetry(ctx, dec, req.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", req.ImageID, err)
		}
		return qrPageResult{
			ImageID:  req.ImageID,
			Payloads: payloads,
			Rotation: rotation,
		}, nil
	})
}
