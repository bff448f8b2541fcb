package push_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/papers"
	"github.com/averros/scanstage/internal/push"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
	"github.com/averros/scanstage/internal/testutil"
)

func tpv(paper, page, version, corner int) string {
	return fmt.Sprintf("%05d%03d%03d%d%s", paper, page, version, corner, "12345")
}

func setupPush(t *testing.T) (*store.DB, *push.Pusher) {
	t.Helper()
	db := testutil.OpenDB(t)
	spec := testutil.Spec()
	if err := papers.Populate(context.Background(), db, spec, nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	return db, push.New(db, spec, nil)
}

// seedKnown stages a bundle whose pages all carry valid codes for the
// given paper, starting at page 1.
func seedKnown(t *testing.T, db *store.DB, paper, pages int) *bundle.Bundle {
	t.Helper()
	b := testutil.SeedBundle(t, db, pages)
	for i := 1; i <= pages; i++ {
		testutil.SetQRPayloads(t, db, b.ID, i, []string{tpv(paper, i, 1, 1)})
	}
	testutil.MarkScanned(t, db, b.ID)
	return b
}

func failureCode(t *testing.T, err error) push.FailureCode {
	t.Helper()
	var f *push.Failure
	if !errors.As(err, &f) {
		t.Fatalf("got %v, want *push.Failure", err)
	}
	return f.Code
}

func TestPushPerfectBundle(t *testing.T) {
	db, p := setupPush(t)
	ctx := context.Background()
	b := seedKnown(t, db, 7, 2)

	if err := p.Push(ctx, b.ID); err != nil {
		t.Fatalf("Push: %v", err)
	}

	got, err := bundle.Get(ctx, db.Querier(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Pushed {
		t.Error("bundle not flagged pushed")
	}
	if got.PushLocked {
		t.Error("bundle still flagged push-locked after commit")
	}

	imgs, err := staging.ImagesByBundle(ctx, db.Querier(), b.ID)
	if err != nil {
		t.Fatalf("ImagesByBundle: %v", err)
	}
	for _, img := range imgs {
		if !img.Pushed {
			t.Errorf("page %d not marked pushed", img.BundleOrder)
		}
	}

	taken, err := papers.FixedSlotTaken(ctx, db.Querier(), 7, 1)
	if err != nil {
		t.Fatalf("FixedSlotTaken: %v", err)
	}
	if !taken {
		t.Error("paper 7 page 1 not attached")
	}

	// The global slot is free again.
	other := testutil.SeedBundle(t, db, 1)
	if err := papers.AcquirePushLock(ctx, db, other.ID); err != nil {
		t.Fatalf("push lock not released: %v", err)
	}
}

func TestPushImperfectBundle(t *testing.T) {
	db, p := setupPush(t)
	ctx := context.Background()

	// Page 2 decodes to nothing, so classify leaves it Unknown.
	b := testutil.SeedBundle(t, db, 2)
	testutil.SetQRPayloads(t, db, b.ID, 1, []string{tpv(7, 1, 1, 1)})
	testutil.SetQRPayloads(t, db, b.ID, 2, nil)
	testutil.MarkScanned(t, db, b.ID)

	err := p.Push(ctx, b.ID)
	if code := failureCode(t, err); code != push.CodeImperfect {
		t.Fatalf("code = %s, want %s", code, push.CodeImperfect)
	}

	got, err := bundle.Get(ctx, db.Querier(), b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pushed {
		t.Error("imperfect bundle was pushed")
	}
	if got.PushLocked {
		t.Error("push lock leaked on rejected push")
	}

	// Nothing was attached.
	taken, err := papers.FixedSlotTaken(ctx, db.Querier(), 7, 1)
	if err != nil {
		t.Fatalf("FixedSlotTaken: %v", err)
	}
	if taken {
		t.Error("rejected push attached a page")
	}
}

func TestPushCollisionWithEarlierPush(t *testing.T) {
	db, p := setupPush(t)
	ctx := context.Background()

	first := seedKnown(t, db, 7, 1)
	if err := p.Push(ctx, first.ID); err != nil {
		t.Fatalf("first push: %v", err)
	}

	// A second bundle targeting the same slot classifies fine on its own
	// but must be refused at commit time.
	second := seedKnown(t, db, 7, 1)
	err := p.Push(ctx, second.ID)
	if code := failureCode(t, err); code != push.CodeCollision {
		t.Fatalf("code = %s, want %s", code, push.CodeCollision)
	}
	if !strings.Contains(err.Error(), "paper 7 page 1") {
		t.Errorf("error = %q, want the colliding slot named", err)
	}

	got, err := bundle.Get(ctx, db.Querier(), second.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Pushed || got.PushLocked {
		t.Errorf("colliding bundle state pushed=%v locked=%v, want both false", got.Pushed, got.PushLocked)
	}
}

func TestPushAlreadyPushed(t *testing.T) {
	db, p := setupPush(t)
	ctx := context.Background()
	b := seedKnown(t, db, 4, 2)

	if err := p.Push(ctx, b.ID); err != nil {
		t.Fatalf("Push: %v", err)
	}
	err := p.Push(ctx, b.ID)
	if code := failureCode(t, err); code != push.CodeAlreadyPushed {
		t.Fatalf("code = %s, want %s", code, push.CodeAlreadyPushed)
	}
}

func TestPushStillProcessing(t *testing.T) {
	db, p := setupPush(t)
	b := testutil.SeedBundle(t, db, 1)

	err := p.Push(context.Background(), b.ID)
	if code := failureCode(t, err); code != push.CodeStillProcessing {
		t.Fatalf("code = %s, want %s", code, push.CodeStillProcessing)
	}
}
