package jobs

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	"github.com/google/uuid"

	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/chore"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// thumbnailDPI is the render resolution for page thumbnails.
const thumbnailDPI = 40

// SplitJob renders a bundle's pages to images across chunked workers and
// persists the resulting staging images in one transaction.
type SplitJob struct {
	DB     *store.DB
	Home   *home.Dir
	Chores *chore.Tracker
	Pool   *Pool
	Logger *slog.Logger

	Bundle    *bundle.Bundle
	Chunks    int
	RenderDPI int

	// OnComplete runs after the bundle is marked as having page images;
	// the server chains QR reading here.
	OnComplete func(ctx context.Context)
}

// splitChunkRequest is the payload for one split_chunk unit.
type splitChunkRequest struct {
	PDFPath   string
	BundleID  string
	StartPage int // 1-indexed, inclusive
	EndPage   int // inclusive
	DPI       int
	Home      *home.Dir
}

// renderedPage is one page rendered by a chunk worker.
type renderedPage struct {
	Order     int
	ImagePath string
	ThumbPath string
	Hash      string
}

// pageChunk is one contiguous page range.
type pageChunk struct {
	start, end int
}

// partitionPages splits 1..pages into at most n contiguous chunks of
// ceil(pages/n) pages each.
func partitionPages(pages, n int) []pageChunk {
	if n < 1 {
		n = 1
	}
	size := (pages + n - 1) / n
	var chunks []pageChunk
	for start := 1; start <= pages; start += size {
		end := start + size - 1
		if end > pages {
			end = pages
		}
		chunks = append(chunks, pageChunk{start: start, end: end})
	}
	return chunks
}

// Run implements Coordinator.
func (j *SplitJob) Run(ctx context.Context, choreID string) error {
	log := j.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("bundle_id", j.Bundle.ID, "chore_id", choreID)

	total := j.Bundle.PageCount
	chunks := partitionPages(total, j.Chunks)
	results := make(chan Result, len(chunks))

	outstanding := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		unit := &WorkUnit{
			ID:    uuid.New().String(),
			JobID: choreID,
			Task:  TaskSplitChunk,
			Payload: splitChunkRequest{
				PDFPath:   j.Bundle.PDFPath,
				BundleID:  j.Bundle.ID,
				StartPage: c.start,
				EndPage:   c.end,
				DPI:       j.RenderDPI,
				Home:      j.Home,
			},
			Results: results,
		}
		if err := j.Pool.Submit(unit); err != nil {
			return fmt.Errorf("failed to submit split chunk: %w", err)
		}
		outstanding[unit.ID] = true
	}

	// Collect every chunk, in whatever order workers finish. On the first
	// failure revoke the siblings that have not started; they come back
	// revoked and are drained here so nothing leaks.
	var pages []renderedPage
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
			// sibling cancelled after a failure
		case res.Err != nil:
			if failure == nil {
				failure = res.Err
				for id := range outstanding {
					j.Pool.Revoke(id)
				}
			}
		default:
			chunkPages := res.Value.([]renderedPage)
			pages = append(pages, chunkPages...)
			done += len(chunkPages)
			if err := j.Chores.SetProgress(ctx, choreID, done, total,
				fmt.Sprintf("rendered %d of %d pages", done, total)); err != nil {
				log.Warn("failed to update progress", "error", err)
			}
		}
	}

	if failure != nil {
		return fmt.Errorf("page rendering failed: %w", failure)
	}
	if len(pages) != total {
		return fmt.Errorf("rendered %d pages, expected %d", len(pages), total)
	}

	sort.Slice(pages, func(a, b int) bool { return pages[a].Order < pages[b].Order })

	imgs := make([]*staging.Image, len(pages))
	for i, p := range pages {
		imgs[i] = &staging.Image{
			ID:          uuid.New().String(),
			BundleID:    j.Bundle.ID,
			BundleOrder: p.Order,
			ImagePath:   p.ImagePath,
			ThumbPath:   p.ThumbPath,
			ImageHash:   p.Hash,
			Type:        staging.TypeUnread,
		}
	}

	err := j.DB.WithTx(ctx, func(tx *sql.Tx) error {
		if err := staging.InsertImages(ctx, tx, imgs); err != nil {
			return err
		}
		return bundle.SetFlag(ctx, tx, j.Bundle.ID, bundle.FlagHasPageImages, true)
	})
	if err != nil {
		return err
	}

	log.Info("bundle split", "pages", total)
	if j.OnComplete != nil {
		j.OnComplete(ctx)
	}
	return nil
}

// RegisterSplitHandler installs the split_chunk handler on a pool.
func RegisterSplitHandler(pool *Pool) {
	pool.RegisterHandler(TaskSplitChunk, func(ctx context.Context, unit *WorkUnit) (any, error) {
		req := unit.Payload.(splitChunkRequest)

		pages := make([]renderedPage, 0, req.EndPage-req.StartPage+1)
		for page := req.StartPage; page <= req.EndPage; page++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			imagePath := req.Home.PageImage(req.BundleID, page)
			thumbPath := req.Home.PageThumbnail(req.BundleID, page)

			if err := renderPage(ctx, req.PDFPath, imagePath, page, req.DPI); err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			if err := renderPage(ctx, req.PDFPath, thumbPath, page, thumbnailDPI); err != nil {
				return nil, fmt.Errorf("page %d thumbnail: %w", page, err)
			}

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			sum := sha256.Sum256(data)

			pages = append(pages, renderedPage{
				Order:     page,
				ImagePath: imagePath,
				ThumbPath: thumbPath,
				Hash:      hex.EncodeToString(sum[:]),
			})
		}
		return pages, nil
	})
}

// renderPage renders a single PDF page to PNG using pdftoppm
// (poppler-utils).
func renderPage(ctx context.Context, pdfPath, outPath string, page, dpi int) error {
	tmpDir, err := os.MkdirTemp("", "scanstage-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := tmpDir + "/page"
	pageStr := fmt.Sprintf("%d", page)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}
	return nil
}
