// Package main provides the entry point for the snapstream CLI.
// The CLI inspects and resets source checkpoints, lists table snapshots and
// tails a table from the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/janovincze/snapstream/internal/config"
	"github.com/janovincze/snapstream/internal/vault"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags.
var (
	sourceName string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapstream",
		Short: "Incremental Iceberg snapshot source tooling",
		Long: `snapstream inspects the checkpoints of incremental snapshot sources,
lists the snapshots of a table and tails new snapshots as scan tasks.

Connection settings come from the same SNAPSTREAM_* environment variables
the worker reads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&sourceName, "source", "", "Source name (defaults to SNAPSTREAM_SOURCE_NAME or the table)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCheckpointCmd())
	root.AddCommand(newSnapshotsCmd())
	root.AddCommand(newTailCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "snapstream version %s\n", version)
		},
	}
}

// loadConfig reads the environment configuration, resolves Vault
// credentials and applies global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := vault.Resolve(cmd.Context(), cfg, newLogger(cmd)); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	if sourceName != "" {
		cfg.Source.Name = sourceName
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
