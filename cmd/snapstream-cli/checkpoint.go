package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/config"
)

func newCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset a source checkpoint",
	}
	cmd.AddCommand(newCheckpointShowCmd())
	cmd.AddCommand(newCheckpointResetCmd())
	return cmd
}

func newCheckpointShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored cursor of a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Source.Name == "" {
				return errors.New("source name is required (--source)")
			}

			manager, err := checkpoint.Open(cmd.Context(), checkpointOpenConfig(cfg), newLogger(cmd))
			if err != nil {
				return err
			}
			defer manager.Close()

			record, err := manager.Load(cmd.Context(), cfg.Source.Name)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}

			out := cmd.OutOrStdout()
			if record == nil {
				fmt.Fprintf(out, "No checkpoint for source %s (%s backend).\n", cfg.Source.Name, manager.Backend())
				return nil
			}

			fmt.Fprintf(out, "%-14s %s\n", "SOURCE", record.SourceID)
			fmt.Fprintf(out, "%-14s %s\n", "BACKEND", manager.Backend())
			fmt.Fprintf(out, "%-14s %s\n", "CHECKPOINT", record.CheckpointID)
			fmt.Fprintf(out, "%-14s %s\n", "COMMITTED", record.CommittedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "%-14s %v\n", "CURSOR", record.Values)
			return nil
		},
	}
}

func newCheckpointResetCmd() *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a source checkpoint, or set its cursor with --to",
		Long: `Delete the stored checkpoint so the source starts from its configured
snapshot on the next run. With --to, store that snapshot id as the cursor
instead; the source resumes after it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Source.Name == "" {
				return errors.New("source name is required (--source)")
			}

			manager, err := checkpoint.Open(cmd.Context(), checkpointOpenConfig(cfg), newLogger(cmd))
			if err != nil {
				return err
			}
			defer manager.Close()

			out := cmd.OutOrStdout()
			if to == "" {
				if err := manager.Delete(cmd.Context(), cfg.Source.Name); err != nil {
					return fmt.Errorf("delete checkpoint: %w", err)
				}
				fmt.Fprintf(out, "Checkpoint for source %s deleted.\n", cfg.Source.Name)
				return nil
			}

			cursor, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q: %w", to, err)
			}
			record := checkpoint.Record{
				SourceID:     cfg.Source.Name,
				CheckpointID: uuid.NewString(),
				Values:       []int64{cursor},
				CommittedAt:  time.Now(),
			}
			if err := manager.Save(cmd.Context(), record); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			fmt.Fprintf(out, "Checkpoint for source %s set to snapshot %d.\n", cfg.Source.Name, cursor)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Snapshot id to store as the cursor")
	return cmd
}

func checkpointOpenConfig(cfg *config.Config) checkpoint.OpenConfig {
	return checkpoint.OpenConfig{
		Backend: cfg.Checkpoint.Backend,
		Postgres: checkpoint.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: 1,
		},
		SQLitePath: cfg.Checkpoint.SQLitePath,
		S3: checkpoint.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			Prefix:    cfg.Checkpoint.S3Prefix,
		},
	}
}
