package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/store"
)

// Pipeline wires the two-stage bundle processing chain: split the PDF into
// page images, then read and classify the QR codes. Each stage runs under
// its own chore.
type Pipeline struct {
	DB      *store.DB
	Home    *home.Dir
	Chores  *chore.Tracker
	Pool    *Pool
	Manager *Manager
	Spec    *assessment.Spec
	Logger  *slog.Logger

	Chunks    int
	RenderDPI int
}

// StartSplit creates the split chore for a freshly uploaded bundle and
// dispatches the split job. QR reading is chained automatically when the
// split finishes.
func (p *Pipeline) StartSplit(ctx context.Context, b *bundle.Bundle) (*chore.Chore, error) {
	ch, err := p.Chores.Create(ctx, b.ID, chore.KindSplit, b.PageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to create split chore: %w", err)
	}

	job := &SplitJob{
		DB:        p.DB,
		Home:      p.Home,
		Chores:    p.Chores,
		Pool:      p.Pool,
		Logger:    p.Logger,
		Bundle:    b,
		Chunks:    p.Chunks,
		RenderDPI: p.RenderDPI,
		OnComplete: func(ctx context.Context) {
			if err := p.startQRRead(ctx, b.ID); err != nil {
				p.Logger.Error("failed to chain qr read", "bundle_id", b.ID, "error", err)
			}
		},
	}
	if err := p.Manager.Dispatch(ch.ID, job); err != nil {
		return nil, err
	}
	return ch, nil
}

// startQRRead creates the QR read chore and dispatches its job. The bundle
// is re-read so the job sees the flags the split stage just set.
func (p *Pipeline) startQRRead(ctx context.Context, bundleID string) error {
	b, err := bundle.Get(ctx, p.DB.Querier(), bundleID)
	if err != nil {
		return err
	}

	ch, err := p.Chores.Create(ctx, b.ID, chore.KindQRRead, b.PageCount)
	if err != nil {
		return fmt.Errorf("failed to create qr read chore: %w", err)
	}

	job := &QRReadJob{
		DB:     p.DB,
		Chores: p.Chores,
		Pool:   p.Pool,
		Logger: p.Logger,
		Spec:   p.Spec,
		Bundle: b,
	}
	return p.Manager.Dispatch(ch.ID, job)
}
