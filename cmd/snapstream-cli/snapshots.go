package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/janovincze/snapstream/internal/config"
	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/iceberg/catalog"
)

func newSnapshotsCmd() *cobra.Command {
	var after int64

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots a source would consume after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			table, err := iceberg.ParseTableIdentifier(cfg.Source.Table)
			if err != nil {
				return fmt.Errorf("parse source table: %w", err)
			}

			cat := newCatalog(cfg, cmd)
			defer cat.Close()

			snapshots, err := cat.SnapshotsAfter(cmd.Context(), table, after, cfg.Source.AsOfTime)
			if err != nil {
				return fmt.Errorf("list snapshots: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(snapshots) == 0 {
				fmt.Fprintf(out, "No snapshots after %d in %s.\n", after, table)
				return nil
			}

			fmt.Fprintf(out, "%-20s %-20s %-12s %s\n", "SNAPSHOT", "PARENT", "OPERATION", "COMMITTED")
			fmt.Fprintln(out, strings.Repeat("-", 78))
			for _, s := range snapshots {
				fmt.Fprintf(out, "%-20d %-20d %-12s %s\n",
					s.SnapshotID, s.ParentSnapshotID, s.Operation(), s.CommittedAt().UTC().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&after, "after", iceberg.NoSnapshotID, "Exclusive lower bound snapshot id (-1 lists the whole lineage)")
	return cmd
}

func newCatalog(cfg *config.Config, cmd *cobra.Command) *catalog.RESTCatalog {
	return catalog.NewRESTCatalog(catalog.Config{
		CatalogURL:        cfg.Iceberg.CatalogURL,
		Warehouse:         cfg.Iceberg.Warehouse,
		Token:             cfg.Iceberg.Token,
		RequestTimeout:    cfg.Iceberg.RequestTimeout,
		RequestsPerSecond: cfg.Iceberg.RequestsPerSecond,
		PlanPollInterval:  cfg.Iceberg.PlanPollInterval,
	}, newLogger(cmd))
}
