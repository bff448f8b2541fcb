package classify_test

import (
	"context"
	"strings"
	"testing"

	"github.com/averros/scanstage/internal/classify"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/qr"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
	"github.com/averros/scanstage/internal/testutil"
)

func tpv(paper, page, version, corner int) string {
	return qr.Format(qr.TPV{Paper: paper, Page: page, Version: version, Corner: corner, Code: "12345"})
}

func setupClassify(t *testing.T, pages int) (*store.DB, string) {
	t.Helper()
	db := testutil.OpenDB(t)
	if err := papers.Populate(context.Background(), db, testutil.Spec(), nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	b := testutil.SeedBundle(t, db, pages)
	testutil.MarkScanned(t, db, b.ID)
	return db, b.ID
}

func pageType(t *testing.T, db *store.DB, bundleID string, order int) *staging.Image {
	t.Helper()
	img, err := staging.ImageByOrder(context.Background(), db.Querier(), bundleID, order)
	if err != nil {
		t.Fatalf("ImageByOrder(%d): %v", order, err)
	}
	return img
}

func TestRunClassifiesEachKind(t *testing.T) {
	db, bundleID := setupClassify(t, 4)
	ctx := context.Background()

	testutil.SetQRPayloads(t, db, bundleID, 1, []string{tpv(7, 2, 1, 1), tpv(7, 2, 1, 3)})
	testutil.SetQRPayloads(t, db, bundleID, 2, []string{qr.MarkerExtra})
	testutil.SetQRPayloads(t, db, bundleID, 3, []string{qr.MarkerScrap})
	// page 4: nothing decoded

	if err := classify.Run(ctx, db, testutil.Spec(), bundleID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p1 := pageType(t, db, bundleID, 1)
	if p1.Type != staging.TypeKnown {
		t.Fatalf("page 1 = %s (%s), want known", p1.Type, p1.Reason)
	}
	if p1.Known.Paper != 7 || p1.Known.Page != 2 || p1.Known.Version != 1 {
		t.Errorf("page 1 known = %+v", p1.Known)
	}

	p2 := pageType(t, db, bundleID, 2)
	if p2.Type != staging.TypeExtra {
		t.Errorf("page 2 = %s, want extra", p2.Type)
	}
	if p2.Extra == nil || p2.Extra.Complete() {
		t.Errorf("page 2 extra info should exist but be blank: %+v", p2.Extra)
	}

	p3 := pageType(t, db, bundleID, 3)
	if p3.Type != staging.TypeDiscard {
		t.Errorf("page 3 = %s, want discard", p3.Type)
	}

	p4 := pageType(t, db, bundleID, 4)
	if p4.Type != staging.TypeUnknown {
		t.Errorf("page 4 = %s, want unknown", p4.Type)
	}
}

func TestRunDuplicateCollision(t *testing.T) {
	db, bundleID := setupClassify(t, 3)
	ctx := context.Background()

	testutil.SetQRPayloads(t, db, bundleID, 1, []string{tpv(7, 2, 1, 1)})
	testutil.SetQRPayloads(t, db, bundleID, 2, []string{tpv(7, 2, 1, 2)})
	testutil.SetQRPayloads(t, db, bundleID, 3, []string{tpv(8, 1, 1, 1)})

	if err := classify.Run(ctx, db, testutil.Spec(), bundleID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	p1 := pageType(t, db, bundleID, 1)
	p2 := pageType(t, db, bundleID, 2)
	if p1.Type != staging.TypeError || p2.Type != staging.TypeError {
		t.Fatalf("colliding pages = %s, %s, want error, error", p1.Type, p2.Type)
	}
	if !strings.Contains(p1.Reason, "2") {
		t.Errorf("page 1 reason %q should name position 2", p1.Reason)
	}
	if !strings.Contains(p2.Reason, "1") {
		t.Errorf("page 2 reason %q should name position 1", p2.Reason)
	}

	p3 := pageType(t, db, bundleID, 3)
	if p3.Type != staging.TypeKnown {
		t.Errorf("page 3 = %s (%s), want known", p3.Type, p3.Reason)
	}
}

func TestRunErrorReasons(t *testing.T) {
	tests := []struct {
		name     string
		payloads []string
		wantWord string
	}{
		{
			name:     "wrong magic code",
			payloads: []string{qr.Format(qr.TPV{Paper: 7, Page: 2, Version: 1, Corner: 1, Code: "99999"})},
			wantWord: "verification code",
		},
		{
			name:     "paper out of range",
			payloads: []string{tpv(400, 2, 1, 1)},
			wantWord: "does not exist",
		},
		{
			name:     "version mismatch",
			payloads: []string{tpv(7, 2, 3, 1)},
			wantWord: "version",
		},
		{
			name:     "symbols disagree on triple",
			payloads: []string{tpv(7, 2, 1, 1), tpv(7, 3, 1, 2)},
			wantWord: "disagree",
		},
		{
			name:     "symbols disagree on kind",
			payloads: []string{tpv(7, 2, 1, 1), qr.MarkerExtra},
			wantWord: "disagree",
		},
		{
			name:     "unreadable payload",
			payloads: []string{"garbage"},
			wantWord: "unreadable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, bundleID := setupClassify(t, 1)
			testutil.SetQRPayloads(t, db, bundleID, 1, tt.payloads)

			if err := classify.Run(context.Background(), db, testutil.Spec(), bundleID, nil); err != nil {
				t.Fatalf("Run: %v", err)
			}
			img := pageType(t, db, bundleID, 1)
			if img.Type != staging.TypeError {
				t.Fatalf("page = %s, want error", img.Type)
			}
			if !strings.Contains(img.Reason, tt.wantWord) {
				t.Errorf("reason %q should mention %q", img.Reason, tt.wantWord)
			}
		})
	}
}

func TestRunPrintedVersionAccepted(t *testing.T) {
	// Paper 3 is printed as version 2 in the fixture spec.
	db, bundleID := setupClassify(t, 1)
	testutil.SetQRPayloads(t, db, bundleID, 1, []string{tpv(3, 1, 2, 1)})

	if err := classify.Run(context.Background(), db, testutil.Spec(), bundleID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	img := pageType(t, db, bundleID, 1)
	if img.Type != staging.TypeKnown {
		t.Fatalf("page = %s (%s), want known", img.Type, img.Reason)
	}
	if img.Known.Version != 2 {
		t.Errorf("version = %d, want 2", img.Known.Version)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db, bundleID := setupClassify(t, 1)
	testutil.SetQRPayloads(t, db, bundleID, 1, []string{tpv(7, 2, 1, 1)})
	ctx := context.Background()

	if err := classify.Run(ctx, db, testutil.Spec(), bundleID, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := pageType(t, db, bundleID, 1)

	if err := classify.Run(ctx, db, testutil.Spec(), bundleID, nil); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := pageType(t, db, bundleID, 1)

	if second.Type != first.Type || len(second.History) != len(first.History) {
		t.Errorf("second run changed the page: %+v vs %+v", second, first)
	}
}

func TestRunRequiresQRCodes(t *testing.T) {
	db := testutil.OpenDB(t)
	if err := papers.Populate(context.Background(), db, testutil.Spec(), nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	b := testutil.SeedBundle(t, db, 1)

	err := classify.Run(context.Background(), db, testutil.Spec(), b.ID, nil)
	if !staging.IsInput(err) {
		t.Fatalf("got %v, want InputError", err)
	}
}
