package source

import (
	"errors"
	"fmt"

	"github.com/janovincze/snapstream/internal/iceberg/catalog"
)

// ErrRestoreCorruption is returned when restored state does not hold exactly one cursor.
var ErrRestoreCorruption = errors.New("restored cursor state is corrupt")

// ErrSnapshotNotFound is returned when the cursor names a snapshot the table
// no longer retains. It matches catalog.ErrSnapshotNotFound.
var ErrSnapshotNotFound = catalog.ErrSnapshotNotFound

// ErrAlreadyStarted is returned when Run is called on a source that has run before.
var ErrAlreadyStarted = errors.New("source already started")

// RestoreCorruptionError reports the number of values found in restored state.
type RestoreCorruptionError struct {
	Count int
}

func (e *RestoreCorruptionError) Error() string {
	return fmt.Sprintf("%v: expected exactly 1 value, found %d", ErrRestoreCorruption, e.Count)
}

// Is reports whether target is ErrRestoreCorruption.
func (e *RestoreCorruptionError) Is(target error) bool {
	return target == ErrRestoreCorruption
}

// errorType classifies an error for metric labels.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		return "snapshot_not_found"
	case errors.Is(err, ErrRestoreCorruption):
		return "restore_corruption"
	case errors.Is(err, catalog.ErrTableNotFound):
		return "table_not_found"
	default:
		var emitErr *EmitError
		if errors.As(err, &emitErr) {
			return "emit"
		}
		return "fetch"
	}
}

// EmitError wraps a failure of the collector to accept a scan task.
type EmitError struct {
	Err error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit scan task: %v", e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}
