package staging_test

import (
	"context"
	"errors"
	"testing"

	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/testutil"
)

func TestImageRoundTrip(t *testing.T) {
	db := testutil.OpenDB(t)
	b := testutil.SeedBundle(t, db, 3)
	ctx := context.Background()

	imgs, err := staging.ImagesByBundle(ctx, db.Querier(), b.ID)
	if err != nil {
		t.Fatalf("ImagesByBundle: %v", err)
	}
	if len(imgs) != 3 {
		t.Fatalf("got %d images, want 3", len(imgs))
	}
	for i, img := range imgs {
		if img.BundleOrder != i+1 {
			t.Errorf("image %d has order %d", i, img.BundleOrder)
		}
		if img.Type != staging.TypeUnread {
			t.Errorf("image %d is %s, want unread", i, img.Type)
		}
	}

	// Mutate one page and save it back.
	img := imgs[1]
	img.Type = staging.TypeDiscard
	img.Reason = "scrap"
	img.AppendHistory("test", "cast unread -> discard")
	if err := staging.SaveImage(ctx, db.Querier(), img); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	got, err := staging.ImageByOrder(ctx, db.Querier(), b.ID, 2)
	if err != nil {
		t.Fatalf("ImageByOrder: %v", err)
	}
	if got.Type != staging.TypeDiscard || got.Reason != "scrap" {
		t.Errorf("reloaded image = %s %q", got.Type, got.Reason)
	}
	if len(got.History) != 1 {
		t.Errorf("history has %d lines, want 1", len(got.History))
	}
}

func TestImageByOrderNotFound(t *testing.T) {
	db := testutil.OpenDB(t)
	b := testutil.SeedBundle(t, db, 1)

	_, err := staging.ImageByOrder(context.Background(), db.Querier(), b.ID, 99)
	if !errors.Is(err, staging.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSaveDecode(t *testing.T) {
	db := testutil.OpenDB(t)
	b := testutil.SeedBundle(t, db, 1)
	ctx := context.Background()

	img, err := staging.ImageByOrder(ctx, db.Querier(), b.ID, 1)
	if err != nil {
		t.Fatalf("ImageByOrder: %v", err)
	}
	if err := staging.SaveDecode(ctx, db.Querier(), img.ID, []string{"plomX"}, 180); err != nil {
		t.Fatalf("SaveDecode: %v", err)
	}

	got, err := staging.ImageByOrder(ctx, db.Querier(), b.ID, 1)
	if err != nil {
		t.Fatalf("ImageByOrder: %v", err)
	}
	if len(got.QRPayloads) != 1 || got.QRPayloads[0] != "plomX" {
		t.Errorf("payloads = %v", got.QRPayloads)
	}
	if got.Rotation != 180 {
		t.Errorf("rotation = %d, want 180", got.Rotation)
	}
}

func TestCountsByType(t *testing.T) {
	db := testutil.OpenDB(t)
	b := testutil.SeedBundle(t, db, 4)
	ctx := context.Background()

	img, err := staging.ImageByOrder(ctx, db.Querier(), b.ID, 1)
	if err != nil {
		t.Fatalf("ImageByOrder: %v", err)
	}
	img.Type = staging.TypeError
	img.Reason = "torn page"
	if err := staging.SaveImage(ctx, db.Querier(), img); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	counts, err := staging.CountsByType(ctx, db.Querier(), b.ID)
	if err != nil {
		t.Fatalf("CountsByType: %v", err)
	}
	if counts[staging.TypeUnread] != 3 || counts[staging.TypeError] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if counts.Total() != 4 {
		t.Errorf("total = %d, want 4", counts.Total())
	}
}

func TestKnownSlots(t *testing.T) {
	imgs := []*staging.Image{
		{BundleOrder: 1, Type: staging.TypeKnown, Known: &staging.KnownInfo{Paper: 7, Page: 2, Version: 1}},
		{BundleOrder: 2, Type: staging.TypeUnknown},
	}
	slots := staging.KnownSlots(imgs)
	if got, ok := slots[[2]int{7, 2}]; !ok || got != 1 {
		t.Errorf("slots = %v, want (7,2) -> 1", slots)
	}
	if len(slots) != 1 {
		t.Errorf("got %d slots, want 1", len(slots))
	}
}
