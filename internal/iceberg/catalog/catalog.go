// Package catalog provides read access to an Iceberg catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/janovincze/snapstream/internal/iceberg"
)

// Catalog defines the read-only catalog operations the snapshot source needs.
type Catalog interface {
	// LoadTable loads table metadata.
	LoadTable(ctx context.Context, ident iceberg.TableIdentifier) (*iceberg.TableMetadata, error)

	// SnapshotsAfter returns the snapshots in the current lineage that follow
	// the given snapshot, oldest first. When asOf is non-zero, snapshots
	// committed after it are not visible. A snapshot id of
	// iceberg.NoSnapshotID returns the whole visible lineage.
	SnapshotsAfter(ctx context.Context, ident iceberg.TableIdentifier, after int64, asOf time.Time) ([]iceberg.Snapshot, error)

	// PlanFiles resolves the file scan tasks for the data appended in the
	// snapshot range (StartSnapshotID, EndSnapshotID].
	PlanFiles(ctx context.Context, ident iceberg.TableIdentifier, req ScanRequest) ([]iceberg.FileScanTask, error)

	// Close releases any resources held by the catalog.
	Close() error
}

// ScanRequest describes an incremental scan to plan.
type ScanRequest struct {
	// StartSnapshotID is the exclusive lower bound (iceberg.NoSnapshotID for none).
	StartSnapshotID int64

	// EndSnapshotID is the inclusive upper bound.
	EndSnapshotID int64

	// Select is the projected column list (empty selects all columns).
	Select []string

	// CaseSensitive controls column name resolution.
	CaseSensitive bool

	// Filter is an optional row filter expression passed through to the catalog.
	Filter string
}

// Config holds catalog configuration.
type Config struct {
	// CatalogURL is the REST catalog endpoint URL.
	CatalogURL string

	// Warehouse is the warehouse name/prefix.
	Warehouse string

	// Credentials for authentication (optional).
	Token string

	// RequestTimeout bounds a single HTTP request.
	RequestTimeout time.Duration

	// RequestsPerSecond paces catalog requests (0 disables pacing).
	RequestsPerSecond float64

	// PlanPollInterval is the wait between polls of an asynchronous scan plan.
	PlanPollInterval time.Duration
}

// ErrTableNotFound is returned when the table does not exist in the catalog.
var ErrTableNotFound = errors.New("table not found")

// ErrSnapshotNotFound is returned when a snapshot is no longer retained by the table.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotNotFoundError reports a snapshot that has expired or never existed.
// Consumption cannot continue from it without skipping data.
type SnapshotNotFoundError struct {
	Table      iceberg.TableIdentifier
	SnapshotID int64
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot %d not found in table %s", e.SnapshotID, e.Table)
}

// Is reports whether target is ErrSnapshotNotFound.
func (e *SnapshotNotFoundError) Is(target error) bool {
	return target == ErrSnapshotNotFound
}
