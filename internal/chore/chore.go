// Package chore tracks background units of work. A chore is a durable
// record of one job run against a bundle; workers and dispatchers advance
// its status through guarded conditional updates so a racing pair can never
// regress one another.
package chore

import (
	"time"
)

// Status is a chore's lifecycle state.
type Status string

const (
	StatusToDo     Status = "todo"
	StatusStarting Status = "starting"
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether no further transition is legal from s
// (except that anything non-terminal may still move to Error).
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Kind names the work a chore tracks.
type Kind string

const (
	// KindSplit renders a bundle's pages to images.
	KindSplit Kind = "split"
	// KindQRRead decodes and classifies a bundle's pages.
	KindQRRead Kind = "qr_read"
)

// Chore is one tracked unit of background work.
type Chore struct {
	ID       string
	BundleID string
	Kind     Kind
	Status   Status
	WorkerID string
	Message  string
	Progress int
	Total    int

	// Obsolete marks a chore nobody cares about anymore (e.g. its bundle
	// was deleted). Obsolete chores keep their audit trail and may still
	// complete or error harmlessly.
	Obsolete bool

	CreatedAt  time.Time
	LastUpdate time.Time
}

// legalNext is the forward transition graph. Error is reachable from any
// non-terminal state and is handled separately.
var legalNext = map[Status][]Status{
	StatusToDo:     {StatusStarting},
	StatusStarting: {StatusQueued, StatusRunning},
	StatusQueued:   {StatusRunning},
	StatusRunning:  {StatusComplete},
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return !from.Terminal()
	}
	for _, next := range legalNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
