package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/iceberg/catalog"
	"github.com/janovincze/snapstream/internal/iceberg/scan"
)

// Fetcher resolves the scan tasks for the next snapshot after a cursor.
//
// ConsumeNext returns the tasks covering the data committed by the snapshot
// that follows cursor, along with that snapshot's id. When no newer snapshot
// is visible it returns no tasks and the unchanged cursor. Calling it twice
// with the same cursor yields the same result.
type Fetcher interface {
	ConsumeNext(ctx context.Context, cursor int64) ([]iceberg.CombinedScanTask, int64, error)
}

// FetcherConfig configures an IncrementalFetcher.
type FetcherConfig struct {
	// Table is the table to consume.
	Table iceberg.TableIdentifier

	// AsOf hides snapshots committed after it. Zero means no bound.
	AsOf time.Time

	// CaseSensitive controls how Select names are matched to the schema.
	CaseSensitive bool

	// Select projects columns. Empty selects all columns.
	Select []string

	// Filter is a row filter expression passed to the catalog.
	Filter string

	// Scan controls how file tasks are split and packed.
	Scan scan.Config
}

// IncrementalFetcher plans one snapshot at a time through a catalog.
type IncrementalFetcher struct {
	catalog catalog.Catalog
	planner *scan.Planner
	config  FetcherConfig
	logger  *slog.Logger
}

// NewIncrementalFetcher creates a fetcher for cfg.Table.
func NewIncrementalFetcher(cat catalog.Catalog, cfg FetcherConfig, logger *slog.Logger) *IncrementalFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncrementalFetcher{
		catalog: cat,
		planner: scan.NewPlanner(cfg.Scan),
		config:  cfg,
		logger:  logger.With("component", "fetcher", "table", cfg.Table.String()),
	}
}

// ConsumeNext implements Fetcher.
func (f *IncrementalFetcher) ConsumeNext(ctx context.Context, cursor int64) ([]iceberg.CombinedScanTask, int64, error) {
	snapshots, err := f.catalog.SnapshotsAfter(ctx, f.config.Table, cursor, f.config.AsOf)
	if err != nil {
		if errors.Is(err, catalog.ErrSnapshotNotFound) || errors.Is(err, catalog.ErrTableNotFound) {
			return nil, cursor, NewNonRetryableError(err)
		}
		return nil, cursor, fmt.Errorf("list snapshots after %d: %w", cursor, err)
	}
	if len(snapshots) == 0 {
		return nil, cursor, nil
	}
	target := snapshots[0]

	columns, err := f.projection(ctx)
	if err != nil {
		return nil, cursor, err
	}

	files, err := f.catalog.PlanFiles(ctx, f.config.Table, catalog.ScanRequest{
		StartSnapshotID: cursor,
		EndSnapshotID:   target.SnapshotID,
		Select:          columns,
		CaseSensitive:   f.config.CaseSensitive,
		Filter:          f.config.Filter,
	})
	if err != nil {
		return nil, cursor, fmt.Errorf("plan snapshot %d: %w", target.SnapshotID, err)
	}

	tasks := f.planner.Plan(files)

	f.logger.Debug("planned snapshot",
		"from_snapshot_id", cursor,
		"snapshot_id", target.SnapshotID,
		"operation", target.Operation(),
		"files", len(files),
		"tasks", len(tasks),
		"pending_snapshots", len(snapshots)-1,
	)

	return tasks, target.SnapshotID, nil
}

// projection resolves the configured column selection against the current schema.
func (f *IncrementalFetcher) projection(ctx context.Context) ([]string, error) {
	if len(f.config.Select) == 0 {
		return nil, nil
	}

	meta, err := f.catalog.LoadTable(ctx, f.config.Table)
	if err != nil {
		return nil, fmt.Errorf("load table schema: %w", err)
	}
	schema, ok := meta.CurrentSchema()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("table %s has no current schema", f.config.Table))
	}
	columns, err := schema.Select(f.config.Select, f.config.CaseSensitive)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("resolve projection: %w", err))
	}
	return columns, nil
}
