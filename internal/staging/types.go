// Package staging models the pages of an uploaded bundle before they are
// committed to the papers tables: the image type state machine, the cast
// engine, and the structured error taxonomy shared by the services above it.
package staging

import (
	"fmt"
	"sort"
	"time"
)

// ImageType classifies one staged page.
type ImageType string

const (
	TypeUnread  ImageType = "unread"
	TypeKnown   ImageType = "known"
	TypeUnknown ImageType = "unknown"
	TypeExtra   ImageType = "extra"
	TypeDiscard ImageType = "discard"
	TypeError   ImageType = "error"
)

// DoNotMarkQuestion is the sentinel question index meaning "do not mark".
// It is only ever stored as the singleton list [0]; an empty question list
// is never stored on an extra page.
const DoNotMarkQuestion = 0

// castable lists the types a page can be cast between. Unread is excluded:
// pages leave Unread through classification only and never return.
var castable = map[ImageType]bool{
	TypeKnown:   true,
	TypeUnknown: true,
	TypeExtra:   true,
	TypeDiscard: true,
	TypeError:   true,
}

// KnownInfo is the variant payload for a Known page.
type KnownInfo struct {
	Paper   int `json:"paper"`
	Page    int `json:"page"`
	Version int `json:"version"`
}

// Key returns the (paper, page) slot this page claims.
func (k KnownInfo) Key() [2]int { return [2]int{k.Paper, k.Page} }

// ExtraInfo is the variant payload for an Extra page.
type ExtraInfo struct {
	Paper     int   `json:"paper"`
	Questions []int `json:"questions"`
}

// Complete reports whether the extra page carries both a paper number and
// a non-empty question list.
func (e *ExtraInfo) Complete() bool {
	return e != nil && e.Paper > 0 && len(e.Questions) > 0
}

// Image is one page of a bundle, in document order (1-indexed BundleOrder).
// Exactly one of the variant fields matching Type is populated; the
// remaining variants are nil/empty.
type Image struct {
	ID          string
	BundleID    string
	BundleOrder int
	ImagePath   string
	ThumbPath   string
	ImageHash   string
	Type        ImageType
	Rotation    int
	QRPayloads  []string
	Pushed      bool

	Known  *KnownInfo // Type == TypeKnown
	Extra  *ExtraInfo // Type == TypeExtra
	Reason string     // Type == TypeDiscard or TypeError

	History []string
}

// Validate checks the variant invariant: the fields matching Type are
// populated and every other variant is empty.
func (img *Image) Validate() error {
	switch img.Type {
	case TypeUnread, TypeUnknown:
		if img.Known != nil || img.Extra != nil || img.Reason != "" {
			return fmt.Errorf("page %d: %s page must carry no variant fields", img.BundleOrder, img.Type)
		}
	case TypeKnown:
		if img.Known == nil {
			return fmt.Errorf("page %d: known page missing paper/page/version", img.BundleOrder)
		}
		if img.Extra != nil || img.Reason != "" {
			return fmt.Errorf("page %d: known page carries foreign variant fields", img.BundleOrder)
		}
	case TypeExtra:
		// Extra pages may be incomplete (classifier routes the marker
		// before an operator assigns paper/questions); a question list,
		// once present, must be canonical.
		if img.Extra == nil {
			return fmt.Errorf("page %d: extra page missing variant", img.BundleOrder)
		}
		if img.Known != nil || img.Reason != "" {
			return fmt.Errorf("page %d: extra page carries foreign variant fields", img.BundleOrder)
		}
		if len(img.Extra.Questions) > 0 {
			if err := validQuestionList(img.Extra.Questions); err != nil {
				return fmt.Errorf("page %d: %w", img.BundleOrder, err)
			}
		}
	case TypeDiscard, TypeError:
		if img.Reason == "" {
			return fmt.Errorf("page %d: %s page missing reason", img.BundleOrder, img.Type)
		}
		if img.Known != nil || img.Extra != nil {
			return fmt.Errorf("page %d: %s page carries foreign variant fields", img.BundleOrder, img.Type)
		}
	default:
		return fmt.Errorf("page %d: unknown image type %q", img.BundleOrder, img.Type)
	}
	return nil
}

// validQuestionList enforces the canonical question-list shape: non-empty,
// sorted, unique, and the do-not-mark sentinel only as a singleton.
func validQuestionList(qs []int) error {
	if len(qs) == 0 {
		return fmt.Errorf("question list must not be empty")
	}
	if !sort.IntsAreSorted(qs) {
		return fmt.Errorf("question list must be sorted")
	}
	for i, q := range qs {
		if q == DoNotMarkQuestion && len(qs) > 1 {
			return fmt.Errorf("do-not-mark must be the only question index")
		}
		if q < 0 {
			return fmt.Errorf("negative question index %d", q)
		}
		if i > 0 && qs[i-1] == q {
			return fmt.Errorf("duplicate question index %d", q)
		}
	}
	return nil
}

// clearVariant empties every variant field group.
func (img *Image) clearVariant() {
	img.Known = nil
	img.Extra = nil
	img.Reason = ""
}

// AppendHistory records one audit line on the page.
func (img *Image) AppendHistory(actor, line string) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	img.History = append(img.History, fmt.Sprintf("%s %s: %s", stamp, actor, line))
}

// TypeCounts tallies pages by type.
type TypeCounts map[ImageType]int

// Total returns the sum across all types.
func (c TypeCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
