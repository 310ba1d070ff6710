package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresManager implements checkpoint persistence using PostgreSQL.
type PostgresManager struct {
	db     *sql.DB
	logger *slog.Logger
}

// PostgresConfig holds configuration for the PostgreSQL checkpoint manager.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

var postgresSchema = []string{
	`CREATE SCHEMA IF NOT EXISTS snapstream`,
	`CREATE TABLE IF NOT EXISTS snapstream.source_checkpoints (
		source_id     TEXT PRIMARY KEY,
		checkpoint_id TEXT NOT NULL,
		state         JSONB NOT NULL,
		committed_at  TIMESTAMPTZ NOT NULL
	)`,
}

// NewPostgresManager creates a new PostgreSQL checkpoint manager.
func NewPostgresManager(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresManager, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create checkpoint table: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresManager{
		db:     db,
		logger: logger.With("component", "checkpoint-manager", "backend", BackendPostgres),
	}, nil
}

// Save persists a checkpoint to the database.
func (m *PostgresManager) Save(ctx context.Context, record Record) error {
	state, err := json.Marshal(record.Values)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
		INSERT INTO snapstream.source_checkpoints (source_id, checkpoint_id, state, committed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id)
		DO UPDATE SET
			checkpoint_id = EXCLUDED.checkpoint_id,
			state = EXCLUDED.state,
			committed_at = EXCLUDED.committed_at
	`

	committedAt := record.CommittedAt
	if committedAt.IsZero() {
		committedAt = time.Now()
	}

	_, err = m.db.ExecContext(ctx, query,
		record.SourceID,
		record.CheckpointID,
		state,
		committedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		"source_id", record.SourceID,
		"checkpoint_id", record.CheckpointID,
	)

	return nil
}

// Load retrieves the latest checkpoint for a source.
func (m *PostgresManager) Load(ctx context.Context, sourceID string) (*Record, error) {
	query := `
		SELECT source_id, checkpoint_id, state, committed_at
		FROM snapstream.source_checkpoints
		WHERE source_id = $1
	`

	var record Record
	var state []byte

	err := m.db.QueryRowContext(ctx, query, sourceID).Scan(
		&record.SourceID,
		&record.CheckpointID,
		&state,
		&record.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No checkpoint found
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if err := json.Unmarshal(state, &record.Values); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
	}

	m.logger.Debug("checkpoint loaded",
		"source_id", record.SourceID,
		"checkpoint_id", record.CheckpointID,
	)

	return &record, nil
}

// Delete removes a checkpoint for a source.
func (m *PostgresManager) Delete(ctx context.Context, sourceID string) error {
	query := `DELETE FROM snapstream.source_checkpoints WHERE source_id = $1`

	_, err := m.db.ExecContext(ctx, query, sourceID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint deleted", "source_id", sourceID)

	return nil
}

// Ping verifies the database connection.
func (m *PostgresManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Backend returns BackendPostgres.
func (m *PostgresManager) Backend() string { return BackendPostgres }

// Close closes the database connection.
func (m *PostgresManager) Close() error {
	return m.db.Close()
}

// Ensure PostgresManager implements Manager interface.
var _ Manager = (*PostgresManager)(nil)
