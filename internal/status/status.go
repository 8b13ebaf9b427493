// Package status models the transaction state machine.
//
// A transaction is always in exactly one of ten states. Five are
// transient (an operation is mid-flight; an explicit rollback completes
// any of them, startup recovery only aborting, undoing and redoing)
// and four are terminal. The persisted form is a single character.
package status

import "fmt"

// Status is a transaction state.
type Status uint8

const (
	// InProgress: the transaction is open and accepting calls.
	InProgress Status = iota
	// Aborting: a rollback of an in-progress transaction is underway.
	Aborting
	// Undoing: an undo of a committed transaction is underway.
	Undoing
	// Redoing: a redo of an undone transaction is underway.
	Redoing
	// AbortingUndo: a rollback of a failed undo is underway.
	AbortingUndo
	// AbortingRedo: a rollback of a failed redo is underway.
	AbortingRedo
	// Committed: terminal.
	Committed
	// RolledBack: terminal.
	RolledBack
	// Undone: committed then undone; terminal.
	Undone
	// Inconsistent: a rollback itself failed; terminal. The only way
	// out is discarding the transaction.
	Inconsistent
)

var chars = map[Status]byte{
	InProgress:   'i',
	Aborting:     'a',
	Undoing:      'u',
	Redoing:      'd',
	AbortingUndo: 'v',
	AbortingRedo: 'e',
	Committed:    'C',
	RolledBack:   'R',
	Undone:       'U',
	Inconsistent: 'X',
}

var names = map[Status]string{
	InProgress:   "in progress",
	Aborting:     "aborting",
	Undoing:      "undoing",
	Redoing:      "redoing",
	AbortingUndo: "aborting an undo",
	AbortingRedo: "aborting a redo",
	Committed:    "committed",
	RolledBack:   "rolled back",
	Undone:       "undone",
	Inconsistent: "inconsistent",
}

// Char returns the persisted single-character code.
func (s Status) Char() byte {
	c, ok := chars[s]
	if !ok {
		panic(fmt.Sprintf("status: unknown value %d", s))
	}
	return c
}

// String returns the human-readable name.
func (s Status) String() string {
	n, ok := names[s]
	if !ok {
		return fmt.Sprintf("unknown(%d)", s)
	}
	return n
}

// FromChar parses a persisted status code.
func FromChar(c byte) (Status, error) {
	for s, sc := range chars {
		if sc == c {
			return s, nil
		}
	}
	return 0, fmt.Errorf("status: unknown code %q", string(c))
}

// Terminal reports whether the state is terminal. Recovery never
// touches a terminal transaction.
func (s Status) Terminal() bool {
	switch s {
	case Committed, RolledBack, Undone, Inconsistent:
		return true
	}
	return false
}

// Transient reports whether the state marks a mid-flight operation.
func (s Status) Transient() bool {
	switch s {
	case Aborting, Undoing, Redoing, AbortingUndo, AbortingRedo:
		return true
	}
	return false
}

// RollbackPlan returns the (transient, final) pair for rolling back a
// transaction currently in cur. A transaction already in a rollback
// transient continues toward the same goal, which is how recovery
// resumes an interrupted rollback. ok is false when cur cannot be
// rolled back.
func RollbackPlan(cur Status) (transient, final Status, ok bool) {
	switch cur {
	case InProgress, Aborting:
		return Aborting, RolledBack, true
	case Undoing, AbortingUndo:
		return AbortingUndo, Committed, true
	case Redoing, AbortingRedo:
		return AbortingRedo, Undone, true
	}
	return 0, 0, false
}

// UndoPlan returns the (transient, final) pair for undoing a committed
// transaction.
func UndoPlan(cur Status) (transient, final Status, ok bool) {
	if cur != Committed {
		return 0, 0, false
	}
	return Undoing, Undone, true
}

// RedoPlan returns the (transient, final) pair for redoing an undone
// transaction.
func RedoPlan(cur Status) (transient, final Status, ok bool) {
	if cur != Undone {
		return 0, 0, false
	}
	return Redoing, Committed, true
}
