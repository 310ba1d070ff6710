// Package source provides the incremental snapshot source: a polling driver
// that turns each newly committed table snapshot into scan tasks and takes
// part in checkpointing so it can resume where it left off.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/metrics"
)

// Collector receives the scan tasks emitted by a source.
type Collector interface {
	Collect(ctx context.Context, task iceberg.CombinedScanTask) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(ctx context.Context, task iceberg.CombinedScanTask) error

// Collect calls f.
func (f CollectorFunc) Collect(ctx context.Context, task iceberg.CombinedScanTask) error {
	return f(ctx, task)
}

// Config holds source configuration.
type Config struct {
	// Name identifies the source in checkpoints, metrics and logs.
	Name string

	// FromSnapshotID is the starting cursor when nothing is restored.
	// iceberg.NoSnapshotID starts before the oldest retained snapshot.
	FromSnapshotID int64

	// MinPollInterval is the wait after a cycle that made progress.
	MinPollInterval time.Duration

	// MaxPollInterval caps the wait while no new snapshots appear.
	MaxPollInterval time.Duration

	// RemainingSnapshots bounds the number of cycles. A negative value polls
	// until cancelled; 0 runs exactly one cycle.
	RemainingSnapshots int64

	// Retry controls how failed cycles are retried.
	Retry RetryPolicy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FromSnapshotID:     iceberg.NoSnapshotID,
		MinPollInterval:    time.Second,
		MaxPollInterval:    30 * time.Second,
		RemainingSnapshots: -1,
		Retry:              DefaultRetryPolicy(),
	}
}

// Stats holds source statistics.
type Stats struct {
	Cycles            int64
	SnapshotsConsumed int64
	TasksEmitted      int64
	Errors            int64
	LastProgressAt    time.Time
}

type observation struct {
	cursor  int64
	polling PollingState
	stats   Stats
}

// Source polls a table for new snapshots and emits their scan tasks.
// It implements checkpoint.Participant.
type Source struct {
	fetcher   Fetcher
	collector Collector
	retryer   *Retryer
	config    Config
	state     *StateMachine
	cursors   CursorStore
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) bool

	// mu is held for a whole cycle and by OnCheckpoint, so a checkpoint never
	// observes a cursor that disagrees with the tasks already emitted.
	mu          sync.Mutex
	cursor      int64
	polling     PollingState
	initialized bool
	stats       Stats

	// observed is a copy of cursor, polling and stats published whenever mu
	// is released after a change. Status readers never wait for a cycle.
	observed atomic.Pointer[observation]

	cancelMu  sync.Mutex
	cancelled bool
	cancelRun context.CancelFunc
}

// New creates a source reading through fetcher and emitting to collector.
func New(fetcher Fetcher, collector Collector, cfg Config, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		return nil, errors.New("source name is required")
	}
	if fetcher == nil || collector == nil {
		return nil, errors.New("source requires a fetcher and a collector")
	}

	polling, err := NewPollingState(cfg.MinPollInterval, cfg.MaxPollInterval)
	if err != nil {
		return nil, err
	}

	s := &Source{
		fetcher:   fetcher,
		collector: collector,
		retryer:   NewRetryer(cfg.Retry, cfg.Name, logger),
		config:    cfg,
		state:     NewStateMachine(),
		logger:    logger.With("component", "source", "source", cfg.Name),
		sleep:     sleepContext,
		cursor:    cfg.FromSnapshotID,
		polling:   polling,
	}

	s.publish()

	s.state.AddListener(func(from, to State) {
		metrics.SourceState.WithLabelValues(cfg.Name).Set(float64(to))
		s.logger.Info("source state changed", "from", from.String(), "to", to.String())
	})
	metrics.SourceState.WithLabelValues(cfg.Name).Set(float64(StateIdle))

	return s, nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.config.Name
}

// OnRestore implements checkpoint.Participant. It sets the cursor from the
// restored state, or from the configured start when nothing was restored.
func (s *Source) OnRestore(_ context.Context, rc checkpoint.RestoreContext) error {
	cursor, err := s.cursors.Initialize(s.config.FromSnapshotID, rc)
	if err != nil {
		metrics.SourceErrorsTotal.WithLabelValues(s.config.Name, errorType(err)).Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.initialized = true
	s.publish()
	metrics.SourceCursor.WithLabelValues(s.config.Name).Set(float64(cursor))

	s.logger.Info("cursor initialized",
		"restored", rc.IsRestored(),
		"checkpoint_id", rc.CheckpointID,
		"cursor", cursor,
	)
	return nil
}

// OnCheckpoint implements checkpoint.Participant. It waits for any running
// cycle to finish and records the cursor.
func (s *Source) OnCheckpoint(_ context.Context, sc checkpoint.SnapshotContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors.Persist(s.cursor, sc)
	return nil
}

// Cursor returns the id of the last fully emitted snapshot. It reflects the
// last completed cycle and does not wait for a running one.
func (s *Source) Cursor() int64 {
	return s.observed.Load().cursor
}

// PollingState returns the backoff state after the last completed cycle.
func (s *Source) PollingState() PollingState {
	return s.observed.Load().polling
}

// Stats returns a copy of the source statistics.
func (s *Source) Stats() Stats {
	return s.observed.Load().stats
}

// publish copies the guarded fields for status readers. Callers hold mu.
func (s *Source) publish() {
	s.observed.Store(&observation{cursor: s.cursor, polling: s.polling, stats: s.stats})
}

// State returns the lifecycle state.
func (s *Source) State() State {
	return s.state.State()
}

// Cancel stops the source and no further cycle starts. A pending sleep ends
// immediately. A running cycle sees its context cancelled, so a collector
// may abort partway through the cycle's tasks; the cursor is then left
// unchanged and those tasks are emitted again after a restore. Safe to call
// from any goroutine, before or during Run.
func (s *Source) Cancel() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.cancelled = true
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// Run polls until the source is cancelled, its snapshot budget is spent, or
// a cycle fails for good. Cancellation and budget exhaustion return nil.
func (s *Source) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.start(cancel); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.initialized {
		s.cursor = s.config.FromSnapshotID
		s.initialized = true
		s.publish()
	}
	cursor := s.cursor
	s.mu.Unlock()

	s.logger.Info("source running",
		"cursor", cursor,
		"remaining_snapshots", s.config.RemainingSnapshots,
	)

	remaining := s.config.RemainingSnapshots
	for {
		if ctx.Err() != nil {
			return s.finish(StateCancelled, nil)
		}

		if err := s.retryer.Execute(ctx, s.cycle); err != nil {
			if ctx.Err() != nil {
				return s.finish(StateCancelled, nil)
			}
			metrics.SourceCyclesTotal.WithLabelValues(s.config.Name, "error").Inc()
			s.logger.Error("poll cycle failed", "error", err)
			return s.finish(StateFailed, fmt.Errorf("poll cycle: %w", err))
		}

		if remaining >= 0 {
			remaining--
			if remaining < 0 {
				return s.finish(StateTerminated, nil)
			}
		}

		interval := s.PollingState().Current
		if !s.sleep(ctx, interval) {
			return s.finish(StateCancelled, nil)
		}
	}
}

func (s *Source) start(cancel context.CancelFunc) error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.state.State() != StateIdle {
		return ErrAlreadyStarted
	}
	if err := s.state.Transition(StateRunning); err != nil {
		return err
	}
	s.cancelRun = cancel
	if s.cancelled {
		cancel()
	}
	return nil
}

func (s *Source) finish(state State, err error) error {
	if terr := s.state.Transition(state); terr != nil {
		s.logger.Warn("state transition failed", "error", terr)
	}
	s.logger.Info("source stopped",
		"state", state.String(),
		"cursor", s.Cursor(),
	)
	return err
}

// cycle runs one fetch and emits its tasks under the lock. The cursor and
// backoff only change after every task has been emitted.
func (s *Source) cycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publish()

	if err := ctx.Err(); err != nil {
		return err
	}

	tasks, next, err := s.fetcher.ConsumeNext(ctx, s.cursor)
	if err != nil {
		s.stats.Errors++
		metrics.SourceErrorsTotal.WithLabelValues(s.config.Name, errorType(err)).Inc()
		return err
	}

	for _, task := range tasks {
		if err := s.collector.Collect(ctx, task); err != nil {
			s.stats.Errors++
			emitErr := &EmitError{Err: err}
			metrics.SourceErrorsTotal.WithLabelValues(s.config.Name, errorType(emitErr)).Inc()
			return emitErr
		}
	}

	progressed := next != s.cursor
	if progressed {
		s.logger.Info("consumed snapshot",
			"from_snapshot_id", s.cursor,
			"snapshot_id", next,
			"tasks", len(tasks),
		)
		s.stats.SnapshotsConsumed++
		s.stats.LastProgressAt = time.Now()
		metrics.SourceSnapshotsConsumedTotal.WithLabelValues(s.config.Name).Inc()
	}

	s.cursor = next
	s.polling = s.polling.Next(progressed)
	s.stats.Cycles++
	s.stats.TasksEmitted += int64(len(tasks))

	metrics.SourceCyclesTotal.WithLabelValues(s.config.Name, cycleStatus(progressed)).Inc()
	metrics.SourceTasksEmittedTotal.WithLabelValues(s.config.Name).Add(float64(len(tasks)))
	metrics.SourceCursor.WithLabelValues(s.config.Name).Set(float64(s.cursor))
	metrics.SourcePollIntervalSeconds.WithLabelValues(s.config.Name).Set(s.polling.Current.Seconds())

	return nil
}

func cycleStatus(progressed bool) string {
	if progressed {
		return "progress"
	}
	return "idle"
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
