package staging

import (
	"errors"
	"strings"
	"testing"
)

func castFixture(typ ImageType) *Image {
	img := &Image{
		ID:          "img-1",
		BundleID:    "b-1",
		BundleOrder: 3,
		ImagePath:   "/tmp/page_0003.png",
		Type:        typ,
	}
	switch typ {
	case TypeKnown:
		img.Known = &KnownInfo{Paper: 7, Page: 2, Version: 1}
	case TypeExtra:
		img.Extra = &ExtraInfo{Paper: 7, Questions: []int{1}}
	case TypeDiscard, TypeError:
		img.Reason = "fixture"
	}
	return img
}

func unlockedBundle() BundleFlags {
	return BundleFlags{ID: "b-1"}
}

func TestCastRejectsLockedBundles(t *testing.T) {
	req := CastRequest{Target: TypeDiscard, Reason: "why", Actor: "op"}

	t.Run("pushed bundle", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown), req, BundleFlags{ID: "b-1", Pushed: true}, nil)
		var locked *LockedError
		if !errors.As(err, &locked) {
			t.Fatalf("got %v, want LockedError", err)
		}
		if !locked.Pushed {
			t.Error("LockedError should report the bundle as pushed")
		}
	})

	t.Run("push-locked bundle", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown), req, BundleFlags{ID: "b-1", PushLocked: true}, nil)
		if !IsLocked(err) {
			t.Fatalf("got %v, want LockedError", err)
		}
	})
}

func TestCastRejectsUnreadPages(t *testing.T) {
	err := Cast(castFixture(TypeUnread), CastRequest{Target: TypeDiscard, Reason: "why"}, unlockedBundle(), nil)
	if !IsConflict(err) {
		t.Fatalf("got %v, want ConflictError", err)
	}
}

func TestCastNeverTargetsUnread(t *testing.T) {
	err := Cast(castFixture(TypeUnknown), CastRequest{Target: TypeUnread}, unlockedBundle(), nil)
	if !IsInput(err) {
		t.Fatalf("got %v, want InputError", err)
	}
}

func TestCastAssertType(t *testing.T) {
	err := Cast(castFixture(TypeDiscard),
		CastRequest{Target: TypeUnknown, AssertType: TypeExtra},
		unlockedBundle(), nil)
	if !IsConflict(err) {
		t.Fatalf("got %v, want ConflictError", err)
	}
}

func TestCastSameTypeRejected(t *testing.T) {
	t.Run("discard to discard", func(t *testing.T) {
		err := Cast(castFixture(TypeDiscard),
			CastRequest{Target: TypeDiscard, Reason: "again"},
			unlockedBundle(), nil)
		if !IsConflict(err) {
			t.Fatalf("got %v, want ConflictError", err)
		}
		if !strings.Contains(err.Error(), "already") {
			t.Errorf("error %q should say the page is already discarded", err)
		}
	})

	t.Run("filled extra to extra", func(t *testing.T) {
		err := Cast(castFixture(TypeExtra),
			CastRequest{Target: TypeExtra, Extra: &ExtraInfo{Paper: 9, Questions: []int{2}}},
			unlockedBundle(), nil)
		if !IsConflict(err) {
			t.Fatalf("got %v, want ConflictError", err)
		}
	})

	t.Run("blank extra may be filled", func(t *testing.T) {
		img := castFixture(TypeExtra)
		img.Extra = &ExtraInfo{}
		err := Cast(img,
			CastRequest{Target: TypeExtra, Extra: &ExtraInfo{Paper: 9, Questions: []int{2}}, Actor: "op"},
			unlockedBundle(), nil)
		if err != nil {
			t.Fatalf("Cast: %v", err)
		}
		if img.Extra.Paper != 9 || len(img.Extra.Questions) != 1 {
			t.Errorf("extra info = %+v, want paper 9 question [2]", img.Extra)
		}
	})
}

func TestCastToKnown(t *testing.T) {
	versionTwo := func(paper, page int) (int, error) { return 2, nil }

	t.Run("requires paper and page", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown),
			CastRequest{Target: TypeKnown, RecordedVersion: versionTwo},
			unlockedBundle(), nil)
		if !IsInput(err) {
			t.Fatalf("got %v, want InputError", err)
		}
	})

	t.Run("requires a version lookup", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown),
			CastRequest{Target: TypeKnown, Known: &KnownInfo{Paper: 7, Page: 2}},
			unlockedBundle(), nil)
		if !IsInput(err) {
			t.Fatalf("got %v, want InputError", err)
		}
	})

	t.Run("rejects a slot outside the assessment", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown),
			CastRequest{
				Target:          TypeKnown,
				Known:           &KnownInfo{Paper: 400, Page: 2},
				RecordedVersion: func(paper, page int) (int, error) { return 0, nil },
			},
			unlockedBundle(), nil)
		if !IsInput(err) {
			t.Fatalf("got %v, want InputError", err)
		}
	})

	t.Run("rejects a claimed slot", func(t *testing.T) {
		slots := map[[2]int]int{{7, 2}: 5}
		err := Cast(castFixture(TypeUnknown),
			CastRequest{Target: TypeKnown, Known: &KnownInfo{Paper: 7, Page: 2}, RecordedVersion: versionTwo},
			unlockedBundle(), slots)
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("got %v, want ConflictError", err)
		}
		if len(conflict.Competing) != 1 || conflict.Competing[0] != 5 {
			t.Errorf("competing positions = %v, want [5]", conflict.Competing)
		}
	})

	t.Run("takes a free slot and re-derives the version", func(t *testing.T) {
		img := castFixture(TypeUnknown)
		err := Cast(img,
			CastRequest{
				// A lying request version must not survive the cast.
				Target:          TypeKnown,
				Known:           &KnownInfo{Paper: 7, Page: 2, Version: 9},
				RecordedVersion: versionTwo,
				Actor:           "op",
			},
			unlockedBundle(), map[[2]int]int{})
		if err != nil {
			t.Fatalf("Cast: %v", err)
		}
		if img.Type != TypeKnown || img.Known == nil {
			t.Fatalf("image not cast to known: %+v", img)
		}
		if img.Known.Version != 2 {
			t.Errorf("version = %d, want 2 from the papers lookup", img.Known.Version)
		}
	})
}

func TestCastClearsOldVariantAndRecordsHistory(t *testing.T) {
	img := castFixture(TypeKnown)
	err := Cast(img,
		CastRequest{Target: TypeDiscard, Reason: "operator decision", Actor: "alex"},
		unlockedBundle(), nil)
	if err != nil {
		t.Fatalf("Cast: %v", err)
	}

	if img.Known != nil {
		t.Error("known fields survived a cast to discard")
	}
	if img.Reason != "operator decision" {
		t.Errorf("reason = %q", img.Reason)
	}
	if len(img.History) != 1 {
		t.Fatalf("history has %d lines, want 1", len(img.History))
	}
	if !strings.Contains(img.History[0], "alex") {
		t.Errorf("history line %q should name the actor", img.History[0])
	}
}

func TestCastExtraValidation(t *testing.T) {
	t.Run("requires paper", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown),
			CastRequest{Target: TypeExtra, Extra: &ExtraInfo{Questions: []int{1}}},
			unlockedBundle(), nil)
		if !IsInput(err) {
			t.Fatalf("got %v, want InputError", err)
		}
	})

	t.Run("rejects do-not-mark mixed with questions", func(t *testing.T) {
		err := Cast(castFixture(TypeUnknown),
			CastRequest{Target: TypeExtra, Extra: &ExtraInfo{Paper: 3, Questions: []int{DoNotMarkQuestion, 1}}},
			unlockedBundle(), nil)
		if !IsInput(err) {
			t.Fatalf("got %v, want InputError", err)
		}
	})
}
