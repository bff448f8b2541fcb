package papers_test

import (
	"context"
	"strings"
	"testing"

	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/testutil"
)

func TestPopulate(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	spec := testutil.Spec()

	if err := papers.Populate(ctx, db, spec, nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	v, err := papers.RecordedVersion(ctx, db.Querier(), 1, 1)
	if err != nil {
		t.Fatalf("RecordedVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("paper 1 version = %d, want 1", v)
	}

	// Paper 3 is printed as version 2 in the fixture spec.
	v, err = papers.RecordedVersion(ctx, db.Querier(), 3, 4)
	if err != nil {
		t.Fatalf("RecordedVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("paper 3 version = %d, want 2", v)
	}

	// Missing slots report version 0.
	v, err = papers.RecordedVersion(ctx, db.Querier(), 99, 1)
	if err != nil {
		t.Fatalf("RecordedVersion: %v", err)
	}
	if v != 0 {
		t.Errorf("missing slot version = %d, want 0", v)
	}

	// A second populate is a no-op, not a duplicate insert.
	if err := papers.Populate(ctx, db, spec, nil); err != nil {
		t.Fatalf("second Populate: %v", err)
	}
}

func TestAttachFixed(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	if err := papers.Populate(ctx, db, testutil.Spec(), nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	if err := papers.AttachFixed(ctx, db.Querier(), 7, 2, "img-1"); err != nil {
		t.Fatalf("AttachFixed: %v", err)
	}

	taken, err := papers.FixedSlotTaken(ctx, db.Querier(), 7, 2)
	if err != nil {
		t.Fatalf("FixedSlotTaken: %v", err)
	}
	if !taken {
		t.Error("slot should be taken after attach")
	}

	// Second attach to the same slot loses the guarded update.
	err = papers.AttachFixed(ctx, db.Querier(), 7, 2, "img-2")
	if err == nil {
		t.Fatal("second AttachFixed succeeded, want error")
	}
	if !strings.Contains(err.Error(), "already filled") {
		t.Errorf("error = %q, want already filled", err)
	}
}

func TestAttachMobile(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	if err := papers.Populate(ctx, db, testutil.Spec(), nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	taken, err := papers.MobileSlotTaken(ctx, db.Querier(), 5, 2)
	if err != nil {
		t.Fatalf("MobileSlotTaken: %v", err)
	}
	if taken {
		t.Error("fresh slot reported taken")
	}

	if err := papers.AttachMobile(ctx, db.Querier(), 5, 2, "img-1"); err != nil {
		t.Fatalf("AttachMobile: %v", err)
	}

	taken, err = papers.MobileSlotTaken(ctx, db.Querier(), 5, 2)
	if err != nil {
		t.Fatalf("MobileSlotTaken: %v", err)
	}
	if !taken {
		t.Error("slot should be taken after attach")
	}
}

func TestPushLock(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	a := testutil.SeedBundle(t, db, 1)
	b := testutil.SeedBundle(t, db, 1)

	if err := papers.AcquirePushLock(ctx, db, a.ID); err != nil {
		t.Fatalf("AcquirePushLock: %v", err)
	}

	got, err := bundle.Get(ctx, db.Querier(), a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.PushLocked {
		t.Error("bundle should be flagged push-locked")
	}

	// A second bundle cannot take the slot while it is held.
	err = papers.AcquirePushLock(ctx, db, b.ID)
	if !staging.IsLocked(err) {
		t.Fatalf("got %v, want LockedError", err)
	}

	// Re-acquiring for the holder also fails: the flag is already set.
	err = papers.AcquirePushLock(ctx, db, a.ID)
	if !staging.IsLocked(err) {
		t.Fatalf("got %v, want LockedError", err)
	}

	if err := papers.ReleasePushLock(ctx, db, a.ID); err != nil {
		t.Fatalf("ReleasePushLock: %v", err)
	}
	if err := papers.AcquirePushLock(ctx, db, b.ID); err != nil {
		t.Fatalf("AcquirePushLock after release: %v", err)
	}
}
