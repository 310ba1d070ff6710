package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/iceberg/scan"
	"github.com/janovincze/snapstream/internal/sink"
	"github.com/janovincze/snapstream/internal/source"
)

func newTailCmd() *cobra.Command {
	var (
		from      int64
		snapshots int64
		resume    bool
		buffer    int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Poll the table and log each scan task",
		Long: `Run a source against the configured table and log every scan task it
emits. Nothing is checkpointed. With --resume the source starts from the
stored checkpoint of --source instead of --from.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			table, err := iceberg.ParseTableIdentifier(cfg.Source.Table)
			if err != nil {
				return fmt.Errorf("parse source table: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger(cmd)
			cat := newCatalog(cfg, cmd)
			defer cat.Close()

			fetcher := source.NewIncrementalFetcher(cat, source.FetcherConfig{
				Table:         table,
				AsOf:          cfg.Source.AsOfTime,
				CaseSensitive: cfg.Source.CaseSensitive,
				Select:        cfg.Source.Select,
				Filter:        cfg.Source.Filter,
				Scan: scan.Config{
					SplitTargetSize: cfg.Scan.SplitTargetSize,
					OpenFileCost:    cfg.Scan.OpenFileCost,
					Lookback:        cfg.Scan.Lookback,
				},
			}, logger)

			out := sink.NewLogSink(slog.New(slog.NewTextHandler(cmd.OutOrStdout(), nil)), slog.LevelInfo)
			ch := sink.NewChannelSink(buffer)

			name := cfg.Source.Name
			if name == "" {
				name = table.String()
			}
			srcCfg := source.DefaultConfig()
			srcCfg.Name = name
			srcCfg.FromSnapshotID = from
			srcCfg.MinPollInterval = cfg.Source.MinPollInterval
			srcCfg.MaxPollInterval = cfg.Source.MaxPollInterval
			srcCfg.RemainingSnapshots = snapshots

			src, err := source.New(fetcher, ch, srcCfg, logger)
			if err != nil {
				return fmt.Errorf("create source: %w", err)
			}

			if resume {
				if err := restoreFromStore(ctx, cmd, src); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return drainTasks(gctx, ch.Tasks(), out)
			})
			g.Go(func() error {
				defer ch.Close()
				return src.Run(gctx)
			})
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped (%s) at snapshot %d.\n", src.State(), src.Cursor())
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", iceberg.NoSnapshotID, "Start after this snapshot id (-1 starts at the oldest snapshot)")
	cmd.Flags().Int64Var(&snapshots, "snapshots", -1, "Stop after this many poll cycles past the first (-1 polls until interrupted)")
	cmd.Flags().IntVar(&buffer, "buffer", 16, "Tasks held between the source and the printer")
	cmd.Flags().BoolVar(&resume, "resume", false, "Start from the stored checkpoint of --source")
	return cmd
}

// drainTasks hands every task from tasks to out until the channel closes.
func drainTasks(ctx context.Context, tasks <-chan iceberg.CombinedScanTask, out sink.Sink) error {
	for task := range tasks {
		if err := out.Collect(ctx, task); err != nil {
			return fmt.Errorf("print task: %w", err)
		}
	}
	return nil
}

// restoreFromStore initializes src from its stored checkpoint without ever
// writing one back.
func restoreFromStore(ctx context.Context, cmd *cobra.Command, src *source.Source) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, err := checkpoint.Open(ctx, checkpointOpenConfig(cfg), newLogger(cmd))
	if err != nil {
		return err
	}
	defer manager.Close()

	coord, err := checkpoint.NewCoordinator(manager, checkpoint.DefaultConfig(), newLogger(cmd))
	if err != nil {
		return err
	}
	if err := coord.Restore(ctx, src); err != nil {
		return fmt.Errorf("restore source: %w", err)
	}
	return nil
}
