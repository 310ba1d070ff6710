package source

import (
	"github.com/janovincze/snapstream/internal/checkpoint"
)

// CursorStore moves the cursor between the source and checkpoint list state.
// The list always holds exactly one value.
type CursorStore struct{}

// Initialize returns the restored cursor when a prior checkpoint exists, and
// configuredStart otherwise.
func (CursorStore) Initialize(configuredStart int64, rc checkpoint.RestoreContext) (int64, error) {
	if !rc.IsRestored() {
		return configuredStart, nil
	}

	var values []int64
	if rc.State != nil {
		values = rc.State.Get()
	}
	if len(values) != 1 {
		return 0, &RestoreCorruptionError{Count: len(values)}
	}
	return values[0], nil
}

// Persist replaces the checkpoint state with the cursor. Callers must hold
// the source lock.
func (CursorStore) Persist(cursor int64, sc checkpoint.SnapshotContext) {
	sc.State.Clear()
	sc.State.Add(cursor)
}
