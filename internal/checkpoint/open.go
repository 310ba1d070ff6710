package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
)

// OpenConfig selects and configures a checkpoint backend.
type OpenConfig struct {
	// Backend is one of BackendMemory, BackendPostgres, BackendSQLite or BackendS3.
	Backend string

	// Postgres configures BackendPostgres.
	Postgres PostgresConfig

	// SQLitePath is the database file for BackendSQLite.
	SQLitePath string

	// S3 configures BackendS3.
	S3 S3Config
}

// Open creates the Manager for cfg.Backend.
func Open(ctx context.Context, cfg OpenConfig, logger *slog.Logger) (Manager, error) {
	var (
		m   Manager
		err error
	)
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryManager(), nil
	case BackendPostgres:
		m, err = wrapOpen(NewPostgresManager(ctx, cfg.Postgres, logger))
	case BackendSQLite:
		m, err = wrapOpen(NewSQLiteManager(ctx, cfg.SQLitePath, logger))
	case BackendS3:
		m, err = wrapOpen(NewS3Manager(ctx, cfg.S3, logger))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s checkpoint store: %w", cfg.Backend, err)
	}
	return m, nil
}

// wrapOpen keeps a failed constructor's typed nil out of the Manager interface.
func wrapOpen[M Manager](m M, err error) (Manager, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
