package staging

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a missing bundle, page, or chore. Callers wrap it with
// context and servers map it to 404.
var ErrNotFound = errors.New("not found")

// InputError is a synchronously-rejected bad request. No state is created.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

// Inputf builds an InputError.
func Inputf(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// LockedError reports an operation attempted against a push-locked or
// already-pushed bundle. Distinct from ConflictError: a lock violation is
// retryable once the lock clears, a conflict needs operator intervention.
type LockedError struct {
	BundleID string
	Pushed   bool
}

func (e *LockedError) Error() string {
	if e.Pushed {
		return fmt.Sprintf("bundle %s has been pushed and is immutable", e.BundleID)
	}
	return fmt.Sprintf("bundle %s is push-locked", e.BundleID)
}

// ConflictError reports a concurrency or data conflict: an optimistic type
// assertion that failed, a page that already carries data, or a slot
// collision. Competing holds the bundle positions of colliding pages when
// the conflict is a collision.
type ConflictError struct {
	BundleID  string
	Position  int
	Reason    string
	Competing []int
}

func (e *ConflictError) Error() string {
	msg := e.Reason
	if e.Position > 0 {
		msg = fmt.Sprintf("page %d: %s", e.Position, msg)
	}
	if len(e.Competing) > 0 {
		pos := make([]string, len(e.Competing))
		for i, p := range e.Competing {
			pos[i] = fmt.Sprintf("%d", p)
		}
		msg += fmt.Sprintf(" (competing bundle positions: %s)", strings.Join(pos, ", "))
	}
	return msg
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsLocked reports whether err is (or wraps) a LockedError.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// IsInput reports whether err is (or wraps) an InputError.
func IsInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
