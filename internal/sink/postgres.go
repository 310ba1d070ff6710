package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/janovincze/snapstream/internal/iceberg"
)

// PostgresConfig holds configuration for the PostgreSQL task queue.
type PostgresConfig struct {
	// DSN is the database connection string.
	DSN string

	// SourceID tags every row written by this sink.
	SourceID string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
}

// QueuedTask is a scan task stored in the queue table.
type QueuedTask struct {
	// ID is the queue row ID.
	ID int64

	// SourceID is the source that emitted the task.
	SourceID string

	// Task is the combined scan task.
	Task iceberg.CombinedScanTask

	// CreatedAt is when the task was queued.
	CreatedAt time.Time

	// ProcessedAt is when a reader acknowledged the task (nil if pending).
	ProcessedAt *time.Time
}

// QueueStats holds queue statistics.
type QueueStats struct {
	// TotalTasks is the number of rows in the queue.
	TotalTasks int64

	// PendingTasks is the number of unacknowledged rows.
	PendingTasks int64

	// OldestPending is the creation time of the oldest pending row.
	OldestPending *time.Time

	// Lag is the age of the oldest pending row.
	Lag time.Duration
}

var postgresSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS snapstream`,
	`CREATE TABLE IF NOT EXISTS snapstream.scan_tasks (
		id           BIGSERIAL PRIMARY KEY,
		source_id    TEXT NOT NULL,
		task         JSONB NOT NULL,
		file_count   INTEGER NOT NULL,
		size_bytes   BIGINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS scan_tasks_pending_idx
		ON snapstream.scan_tasks (source_id, id) WHERE processed_at IS NULL`,
}

// PostgresSink queues tasks in snapstream.scan_tasks for external readers.
type PostgresSink struct {
	db       *sql.DB
	sourceID string
	logger   *slog.Logger
}

// NewPostgresSink connects to PostgreSQL and creates the queue table.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresSink, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create scan task table: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSink{
		db:       db,
		sourceID: cfg.SourceID,
		logger:   logger.With("component", "postgres-sink", "source_id", cfg.SourceID),
	}, nil
}

// Collect implements Sink by inserting the task as one row.
func (s *PostgresSink) Collect(ctx context.Context, task iceberg.CombinedScanTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		recordWrite(KindPostgres, err)
		return fmt.Errorf("marshal scan task: %w", err)
	}

	query := `
		INSERT INTO snapstream.scan_tasks (source_id, task, file_count, size_bytes)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, s.sourceID, payload, len(task.Files), task.SizeBytes()); err != nil {
		recordWrite(KindPostgres, err)
		return fmt.Errorf("insert scan task: %w", err)
	}

	recordWrite(KindPostgres, nil)
	s.logger.Debug("scan task queued", "files", len(task.Files), "size_bytes", task.SizeBytes())
	return nil
}

// ReadBatch returns up to limit pending tasks, oldest first.
func (s *PostgresSink) ReadBatch(ctx context.Context, limit int) ([]QueuedTask, error) {
	query := `
		SELECT id, source_id, task, created_at, processed_at
		FROM snapstream.scan_tasks
		WHERE processed_at IS NULL AND source_id = $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, s.sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan tasks: %w", err)
	}
	defer rows.Close()

	var tasks []QueuedTask
	for rows.Next() {
		var qt QueuedTask
		var payload []byte
		if err := rows.Scan(&qt.ID, &qt.SourceID, &payload, &qt.CreatedAt, &qt.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal(payload, &qt.Task); err != nil {
			return nil, fmt.Errorf("decode scan task %d: %w", qt.ID, err)
		}
		tasks = append(tasks, qt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan tasks: %w", err)
	}
	return tasks, nil
}

// MarkProcessed acknowledges tasks by their queue IDs.
func (s *PostgresSink) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `UPDATE snapstream.scan_tasks SET processed_at = NOW() WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	s.logger.Debug("scan tasks marked as processed", "count", rowsAffected)
	return nil
}

// Cleanup deletes acknowledged tasks older than retention.
func (s *PostgresSink) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM snapstream.scan_tasks WHERE processed_at IS NOT NULL AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup scan tasks: %w", err)
	}

	rowsDeleted, _ := result.RowsAffected()
	if rowsDeleted > 0 {
		s.logger.Info("cleaned up processed scan tasks", "deleted", rowsDeleted, "retention", retention)
	}
	return rowsDeleted, nil
}

// Stats returns queue statistics for this source.
func (s *PostgresSink) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE processed_at IS NULL),
			MIN(created_at) FILTER (WHERE processed_at IS NULL)
		FROM snapstream.scan_tasks
		WHERE source_id = $1
	`

	var oldest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, s.sourceID).Scan(&stats.TotalTasks, &stats.PendingTasks, &oldest); err != nil {
		return QueueStats{}, fmt.Errorf("query stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
		stats.Lag = time.Since(oldest.Time)
	}
	return stats, nil
}

// Ping verifies the database connection.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return KindPostgres }

// Close closes the database connection.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*PostgresSink)(nil)
