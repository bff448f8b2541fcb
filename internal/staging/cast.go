package staging

import "fmt"

// BundleFlags is the slice of bundle state the cast engine needs.
type BundleFlags struct {
	ID         string
	PushLocked bool
	Pushed     bool
}

// CastRequest asks to move a page from its current type to Target.
type CastRequest struct {
	// Target is the type to cast into. Never TypeUnread.
	Target ImageType

	// AssertType, when non-empty, makes the cast fail unless the page
	// currently has this type. Guards racing operators.
	AssertType ImageType

	// Known is required when Target is TypeKnown. Its Version field is
	// ignored; the stored version comes from RecordedVersion.
	Known *KnownInfo

	// RecordedVersion resolves the printed version of a (paper, page)
	// slot from the papers tables. Required when Target is TypeKnown: the
	// version written to the page always comes from here, never from
	// operator input. A result of 0 means the slot does not exist.
	RecordedVersion func(paper, page int) (int, error)

	// Extra is required when Target is TypeExtra.
	Extra *ExtraInfo

	// Reason is required when Target is TypeDiscard or TypeError.
	Reason string

	// Actor is recorded in the page history.
	Actor string
}

// Cast applies req to img in memory, enforcing every transition rule.
// knownSlots maps (paper, page) to bundle order for every other Known page
// in the same bundle, for the within-bundle collision check. The caller
// persists the mutated image inside the same transaction that loaded it.
func Cast(img *Image, req CastRequest, bundle BundleFlags, knownSlots map[[2]int]int) error {
	if bundle.Pushed {
		return &LockedError{BundleID: bundle.ID, Pushed: true}
	}
	if bundle.PushLocked {
		return &LockedError{BundleID: bundle.ID}
	}

	if !castable[req.Target] {
		return Inputf("cannot cast page %d to %q", img.BundleOrder, req.Target)
	}
	if img.Type == TypeUnread {
		return &ConflictError{
			BundleID: bundle.ID,
			Position: img.BundleOrder,
			Reason:   "page has not been classified yet",
		}
	}

	if req.AssertType != "" && img.Type != req.AssertType {
		return &ConflictError{
			BundleID: bundle.ID,
			Position: img.BundleOrder,
			Reason:   fmt.Sprintf("page is %s, not %s as asserted", img.Type, req.AssertType),
		}
	}

	// No-op casts are rejected, not silently accepted. The one exception
	// is filling in an extra page that has no paper/question data yet.
	if img.Type == req.Target {
		switch {
		case req.Target == TypeExtra && !img.Extra.Complete():
			// assigning data to a blank extra page
		case req.Target == TypeExtra:
			return &ConflictError{
				BundleID: bundle.ID,
				Position: img.BundleOrder,
				Reason:   "page already holds extra-page data",
			}
		default:
			return &ConflictError{
				BundleID: bundle.ID,
				Position: img.BundleOrder,
				Reason:   fmt.Sprintf("page is already %s", img.Type),
			}
		}
	}

	var knownVersion int
	switch req.Target {
	case TypeKnown:
		if req.Known == nil || req.Known.Paper <= 0 || req.Known.Page <= 0 {
			return Inputf("casting page %d to known requires a paper and page number", img.BundleOrder)
		}
		if req.RecordedVersion == nil {
			return Inputf("casting page %d to known requires a version lookup", img.BundleOrder)
		}
		version, err := req.RecordedVersion(req.Known.Paper, req.Known.Page)
		if err != nil {
			return err
		}
		if version == 0 {
			return Inputf("paper %d page %d does not exist", req.Known.Paper, req.Known.Page)
		}
		knownVersion = version
		if other, taken := knownSlots[req.Known.Key()]; taken && other != img.BundleOrder {
			return &ConflictError{
				BundleID:  bundle.ID,
				Position:  img.BundleOrder,
				Reason:    fmt.Sprintf("paper %d page %d is already claimed within this bundle", req.Known.Paper, req.Known.Page),
				Competing: []int{other},
			}
		}
	case TypeExtra:
		if req.Extra == nil || req.Extra.Paper <= 0 {
			return Inputf("casting page %d to extra requires a paper number", img.BundleOrder)
		}
		if err := validQuestionList(req.Extra.Questions); err != nil {
			return Inputf("casting page %d to extra: %v", img.BundleOrder, err)
		}
	case TypeDiscard, TypeError:
		if req.Reason == "" {
			return Inputf("casting page %d to %s requires a reason", img.BundleOrder, req.Target)
		}
	}

	from := img.Type
	img.clearVariant()
	img.Type = req.Target

	switch req.Target {
	case TypeKnown:
		k := KnownInfo{Paper: req.Known.Paper, Page: req.Known.Page, Version: knownVersion}
		img.Known = &k
		img.AppendHistory(req.Actor, fmt.Sprintf("cast %s -> known (paper %d page %d version %d)", from, k.Paper, k.Page, k.Version))
	case TypeExtra:
		e := ExtraInfo{Paper: req.Extra.Paper, Questions: append([]int(nil), req.Extra.Questions...)}
		img.Extra = &e
		img.AppendHistory(req.Actor, fmt.Sprintf("cast %s -> extra (paper %d questions %v)", from, e.Paper, e.Questions))
	case TypeUnknown:
		img.AppendHistory(req.Actor, fmt.Sprintf("cast %s -> unknown", from))
	case TypeDiscard, TypeError:
		img.Reason = req.Reason
		img.AppendHistory(req.Actor, fmt.Sprintf("cast %s -> %s (%s)", from, req.Target, req.Reason))
	}

	return img.Validate()
}
