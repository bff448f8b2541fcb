// Package testutil provides shared fixtures for package tests: a temp
// SQLite store, a small assessment spec, and seeded bundles.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/averros/scanstage/internal/assessment"
	"github.com/averros/scanstage/internal/bundle"
	"github.com/averros/scanstage/internal/home"
	"github.com/averros/scanstage/internal/staging"
	"github.com/averros/scanstage/internal/store"
)

// OpenDB opens a fresh store in a temp directory, closed at test end.
func OpenDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewHome creates a home directory under a temp dir.
func NewHome(t *testing.T) *home.Dir {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create test home: %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("failed to ensure test home: %v", err)
	}
	return h
}

// Spec returns a small assessment: 20 papers of 6 pages, 5 questions,
// magic code 12345, paper 3 printed as version 2.
func Spec() *assessment.Spec {
	return &assessment.Spec{
		Name:          "midterm",
		MagicCode:     "12345",
		Papers:        20,
		PagesPerPaper: 6,
		Questions:     5,
		QuestionPages: map[string][]int{
			"1": {2}, "2": {3}, "3": {4}, "4": {5}, "5": {6},
		},
		Versions: map[string]int{"3": 2},
	}
}

// SeedBundle inserts a bundle with the given number of staged pages, all
// Unread, and returns it. Image paths point into nowhere; tests that need
// real files render their own.
func SeedBundle(t *testing.T, db *store.DB, pages int) *bundle.Bundle {
	t.Helper()
	ctx := context.Background()

	b := &bundle.Bundle{
		ID:        uuid.New().String(),
		Name:      "seed.pdf",
		Hash:      uuid.New().String(),
		PDFPath:   "/nonexistent/seed.pdf",
		PageCount: pages,
	}
	if err := bundle.Insert(ctx, db.Querier(), b); err != nil {
		t.Fatalf("failed to seed bundle: %v", err)
	}

	imgs := make([]*staging.Image, pages)
	for i := range imgs {
		imgs[i] = &staging.Image{
			ID:          uuid.New().String(),
			BundleID:    b.ID,
			BundleOrder: i + 1,
			ImagePath:   fmt.Sprintf("/nonexistent/page_%04d.png", i+1),
			ImageHash:   uuid.New().String(),
			Type:        staging.TypeUnread,
		}
	}
	if err := staging.InsertImages(ctx, db.Querier(), imgs); err != nil {
		t.Fatalf("failed to seed staging images: %v", err)
	}
	return b
}

// SetQRPayloads stores decoded payloads on the page at the given order and
// marks the bundle as having images and codes.
func SetQRPayloads(t *testing.T, db *store.DB, bundleID string, order int, payloads []string) {
	t.Helper()
	ctx := context.Background()

	img, err := staging.ImageByOrder(ctx, db.Querier(), bundleID, order)
	if err != nil {
		t.Fatalf("failed to load page %d: %v", order, err)
	}
	if err := staging.SaveDecode(ctx, db.Querier(), img.ID, payloads, 0); err != nil {
		t.Fatalf("failed to save payloads for page %d: %v", order, err)
	}
}

// MarkScanned flags the bundle as split and decoded, the state the
// classifier requires.
func MarkScanned(t *testing.T, db *store.DB, bundleID string) {
	t.Helper()
	ctx := context.Background()
	for _, flag := range []string{bundle.FlagHasPageImages, bundle.FlagHasQRCodes} {
		if err := bundle.SetFlag(ctx, db.Querier(), bundleID, flag, true); err != nil {
			t.Fatalf("failed to set %s: %v", flag, err)
		}
	}
}
