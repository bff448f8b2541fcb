// Package classify assigns a terminal image type to every unread page of a
// bundle from its decoded QR payloads. Classification is two-pass: pages
// are validated individually first, then validated ordinary pages are
// grouped by (paper, page, version) across the whole bundle so duplication
// collisions can be detected. The whole bundle is classified in one
// transaction or not at all.
package classify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/qr"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// Actor recorded in page history lines written by the classifier.
const Actor = "classifier"

// Run classifies every remaining Unread page of a bundle. It is a no-op on
// a bundle with no Unread pages, which makes re-running it after a
// completed classification harmless.
func Run(ctx context.Context, db *store.DB, spec *assessment.Spec, bundleID string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := bundle.Get(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		if b.Pushed {
			return &staging.LockedError{BundleID: bundleID, Pushed: true}
		}
		if !b.HasQRCodes {
			return staging.Inputf("bundle %s has not completed QR reading", bundleID)
		}

		imgs, err := staging.ImagesByBundle(ctx, tx, bundleID)
		if err != nil {
			return err
		}

		// First pass: per-page decisions for every unread page.
		// candidates holds pages that passed all per-page checks and want
		// to become Known.
		type candidate struct {
			img *staging.Image
			tpv qr.TPV
		}
		var candidates []candidate
		decided := 0

		for _, img := range imgs {
			if img.Type != staging.TypeUnread {
				continue
			}
			decided++

			payloads, perr := parseAll(img.QRPayloads)
			if perr != "" {
				setError(img, perr)
				continue
			}
			if len(payloads) == 0 {
				img.Type = staging.TypeUnknown
				img.AppendHistory(Actor, "no QR symbols decoded")
				continue
			}

			if reason := intraPageMismatch(payloads); reason != "" {
				setError(img, reason)
				continue
			}

			// All symbols agree; the first speaks for the page.
			switch payloads[0].Kind {
			case qr.KindExtra:
				img.Type = staging.TypeExtra
				img.Extra = &staging.ExtraInfo{}
				img.AppendHistory(Actor, "extra page marker")
				continue
			case qr.KindScrap:
				img.Type = staging.TypeDiscard
				img.Reason = "scrap paper marker"
				img.AppendHistory(Actor, "scrap paper marker")
				continue
			case qr.KindSeparator:
				img.Type = staging.TypeDiscard
				img.Reason = "bundle separator sheet"
				img.AppendHistory(Actor, "bundle separator sheet")
				continue
			}

			tpv := *payloads[0].TPV
			if tpv.Code != spec.MagicCode {
				setError(img, fmt.Sprintf("verification code %s does not match this assessment", tpv.Code))
				continue
			}
			if !spec.ValidPaper(tpv.Paper) || !spec.ValidPage(tpv.Page) {
				setError(img, fmt.Sprintf("paper %d page %d does not exist in this assessment", tpv.Paper, tpv.Page))
				continue
			}
			recorded, err := papers.RecordedVersion(ctx, tx, tpv.Paper, tpv.Page)
			if err != nil {
				return err
			}
			if tpv.Version != recorded {
				setError(img, fmt.Sprintf("declared version %d but paper %d page %d is version %d", tpv.Version, tpv.Paper, tpv.Page, recorded))
				continue
			}

			candidates = append(candidates, candidate{img: img, tpv: tpv})
		}

		// Second pass: group candidate keys across the whole bundle. A key
		// claimed more than once is a duplication collision; every claimant
		// becomes Error naming the others. Keys already held by a Known
		// page (a prior operator cast) collide the same way.
		existing := staging.KnownSlots(imgs)
		byKey := make(map[[3]int][]*candidate)
		for i := range candidates {
			c := &candidates[i]
			byKey[c.tpv.Triple()] = append(byKey[c.tpv.Triple()], c)
		}

		for key, claims := range byKey {
			positions := make([]int, 0, len(claims))
			for _, c := range claims {
				positions = append(positions, c.img.BundleOrder)
			}
			if held, ok := existing[[2]int{key[0], key[1]}]; ok {
				positions = append(positions, held)
			}
			sort.Ints(positions)

			if len(positions) > 1 {
				for _, c := range claims {
					others := otherPositions(positions, c.img.BundleOrder)
					setError(c.img, fmt.Sprintf(
						"paper %d page %d version %d is also claimed by bundle position(s) %s",
						key[0], key[1], key[2], joinInts(others)))
				}
				continue
			}

			c := claims[0]
			c.img.Type = staging.TypeKnown
			c.img.Known = &staging.KnownInfo{Paper: c.tpv.Paper, Page: c.tpv.Page, Version: c.tpv.Version}
			c.img.AppendHistory(Actor, fmt.Sprintf("known: paper %d page %d version %d", c.tpv.Paper, c.tpv.Page, c.tpv.Version))
		}

		// Persist every decision in this same transaction; either the whole
		// bundle classifies or none of it does.
		for _, img := range imgs {
			if err := staging.SaveImage(ctx, tx, img); err != nil {
				return err
			}
		}

		if decided > 0 {
			logger.Info("bundle classified", "bundle_id", bundleID, "pages", decided)
		}
		return nil
	})
}

// parseAll parses every raw payload; a parse failure returns a reason.
func parseAll(raw []string) ([]*qr.Payload, string) {
	payloads := make([]*qr.Payload, 0, len(raw))
	for _, r := range raw {
		p, err := qr.Parse(r)
		if err != nil {
			return nil, fmt.Sprintf("unreadable QR payload: %v", err)
		}
		payloads = append(payloads, p)
	}
	return payloads, ""
}

// intraPageMismatch checks that every symbol on a page agrees. Symbols
// disagreeing on kind, verification code, or TPV triple indicate a folded
// or double-exposed page. Corners legitimately differ.
func intraPageMismatch(payloads []*qr.Payload) string {
	first := payloads[0]
	for _, p := range payloads[1:] {
		if p.Kind != first.Kind {
			return fmt.Sprintf("symbols disagree on page type (%s vs %s)", first.Kind, p.Kind)
		}
		if p.Kind != qr.KindTPV {
			continue
		}
		if p.TPV.Code != first.TPV.Code {
			return "symbols disagree on verification code"
		}
		if p.TPV.Triple() != first.TPV.Triple() {
			return fmt.Sprintf("symbols disagree on paper/page/version (%v vs %v)", first.TPV.Triple(), p.TPV.Triple())
		}
	}
	return ""
}

func setError(img *staging.Image, reason string) {
	img.Type = staging.TypeError
	img.Reason = reason
	img.AppendHistory(Actor, "error: "+reason)
}

func otherPositions(all []int, self int) []int {
	out := make([]int, 0, len(all)-1)
	for _, p := range all {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
