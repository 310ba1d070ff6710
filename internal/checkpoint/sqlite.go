package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteManager implements checkpoint persistence in a local SQLite file.
type SQLiteManager struct {
	db     *sql.DB
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS source_checkpoints (
	source_id     TEXT PRIMARY KEY,
	checkpoint_id TEXT NOT NULL,
	state         TEXT NOT NULL,
	committed_at  INTEGER NOT NULL
)`

// NewSQLiteManager opens (creating if needed) the checkpoint database at path.
func NewSQLiteManager(ctx context.Context, path string, logger *slog.Logger) (*SQLiteManager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the coordinator.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode = WAL`, `PRAGMA busy_timeout = 5000`, `PRAGMA synchronous = FULL`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteManager{
		db:     db,
		logger: logger.With("component", "checkpoint-manager", "backend", BackendSQLite),
	}, nil
}

// Save persists a checkpoint, replacing the previous one for the source.
func (m *SQLiteManager) Save(ctx context.Context, record Record) error {
	state, err := json.Marshal(record.Values)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	committedAt := record.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now()
	}

	const query = `
INSERT INTO source_checkpoints (source_id, checkpoint_id, state, committed_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (source_id) DO UPDATE SET
	checkpoint_id = excluded.checkpoint_id,
	state = excluded.state,
	committed_at = excluded.committed_at`

	if _, err := m.db.ExecContext(ctx, query, record.SourceID, record.CheckpointID, string(state), committedAt.UnixMilli()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		"source_id", record.SourceID,
		"checkpoint_id", record.CheckpointID,
	)
	return nil
}

// Load retrieves the checkpoint for a source.
func (m *SQLiteManager) Load(ctx context.Context, sourceID string) (*Record, error) {
	const query = `
SELECT source_id, checkpoint_id, state, committed_at
FROM source_checkpoints
WHERE source_id = ?`

	var (
		record      Record
		state       string
		committedAt int64
	)
	err := m.db.QueryRowContext(ctx, query, sourceID).Scan(&record.SourceID, &record.CheckpointID, &state, &committedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(state), &record.Values); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}
	record.CommittedAt = time.UnixMilli(committedAt)

	return &record, nil
}

// Delete removes a checkpoint for a source.
func (m *SQLiteManager) Delete(ctx context.Context, sourceID string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM source_checkpoints WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	m.logger.Debug("checkpoint deleted", "source_id", sourceID)
	return nil
}

// Ping verifies the database is usable.
func (m *SQLiteManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Backend returns BackendSQLite.
func (m *SQLiteManager) Backend() string { return BackendSQLite }

// Close closes the database.
func (m *SQLiteManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

var _ Manager = (*SQLiteManager)(nil)
