package txn

import (
	"fmt"
)

// State is a transaction's position in its state machine:
// Active -> Committing -> Committed, or Active -> Aborting -> Aborted.
type State int

const (
	Active State = iota
	Committing
	Committed
	Aborting
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborting:
		return "aborting"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Txn tracks one transaction's identity, state, and the undo images it
// must apply if it rolls back. Undo images are appended in the order
// mutations occurred and replayed in reverse, so later mutations to the
// same row are undone before earlier ones.
type Txn struct {
	ID    ID
	State State
	undo  []undoEntry
}

type undoEntry struct {
	apply func() error
}

// New creates a fresh Active transaction with the given id.
func New(id ID) *Txn {
	return &Txn{ID: id, State: Active}
}

// RecordUndo registers a closure that reverses one mutation. Commit
// discards these; Rollback runs them in reverse order.
func (t *Txn) RecordUndo(fn func() error) {
	t.undo = append(t.undo, undoEntry{apply: fn})
}

// Undo runs every recorded undo closure in reverse order, so the most
// recent mutation is reversed first.
func (t *Txn) Undo() error {
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i].apply(); err != nil {
			return err
		}
	}
	t.undo = nil
	return nil
}
