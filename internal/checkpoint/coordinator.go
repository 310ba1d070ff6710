package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/janovincze/snapstream/internal/metrics"
)

// Coordinator restores a participant before it runs and checkpoints it on a
// schedule while it runs.
type Coordinator struct {
	manager  Manager
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes checkpoints so records are saved in trigger order.
	mu   sync.Mutex
	last *Record
}

// NewCoordinator creates a coordinator persisting through manager.
func NewCoordinator(manager Manager, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schedule, err := parseSchedule(cfg)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		manager:  manager,
		schedule: schedule,
		logger:   logger.With("component", "checkpoint-coordinator", "backend", manager.Backend()),
		now:      time.Now,
	}, nil
}

func parseSchedule(cfg Config) (cron.Schedule, error) {
	if cfg.Schedule != "" {
		schedule, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint schedule %q: %w", cfg.Schedule, err)
		}
		return schedule, nil
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be positive, got %v", cfg.Interval)
	}
	return cron.Every(cfg.Interval), nil
}

// Restore loads the participant's last checkpoint and hands it to OnRestore.
func (c *Coordinator) Restore(ctx context.Context, p Participant) error {
	record, err := c.manager.Load(ctx, p.Name())
	if err != nil {
		metrics.CheckpointRestoresTotal.WithLabelValues(p.Name(), "error").Inc()
		return fmt.Errorf("load checkpoint: %w", err)
	}

	rc := RestoreContext{State: NewListState()}
	if record != nil {
		rc = RestoreContext{
			Restored:     true,
			CheckpointID: record.CheckpointID,
			State:        NewListState(record.Values...),
		}
	}

	if err := p.OnRestore(ctx, rc); err != nil {
		metrics.CheckpointRestoresTotal.WithLabelValues(p.Name(), "error").Inc()
		return fmt.Errorf("restore %s: %w", p.Name(), err)
	}

	if record != nil {
		metrics.CheckpointRestoresTotal.WithLabelValues(p.Name(), "restored").Inc()
		c.logger.Info("restored checkpoint",
			"source_id", p.Name(),
			"checkpoint_id", record.CheckpointID,
			"committed_at", record.CommittedAt,
		)
	} else {
		metrics.CheckpointRestoresTotal.WithLabelValues(p.Name(), "fresh").Inc()
		c.logger.Info("no checkpoint found, starting fresh", "source_id", p.Name())
	}

	c.mu.Lock()
	c.last = record
	c.mu.Unlock()

	return nil
}

// Checkpoint captures the participant's state and persists it.
func (c *Coordinator) Checkpoint(ctx context.Context, p Participant) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	sc := SnapshotContext{
		CheckpointID: uuid.NewString(),
		Timestamp:    c.now(),
		State:        NewListState(),
	}

	if err := p.OnCheckpoint(ctx, sc); err != nil {
		metrics.CheckpointsTotal.WithLabelValues(p.Name(), "error").Inc()
		return Record{}, fmt.Errorf("snapshot %s: %w", p.Name(), err)
	}

	record := Record{
		SourceID:     p.Name(),
		CheckpointID: sc.CheckpointID,
		Values:       sc.State.Get(),
		CommittedAt:  sc.Timestamp,
	}
	if err := c.manager.Save(ctx, record); err != nil {
		metrics.CheckpointsTotal.WithLabelValues(p.Name(), "error").Inc()
		return Record{}, fmt.Errorf("save checkpoint: %w", err)
	}

	metrics.CheckpointsTotal.WithLabelValues(p.Name(), "success").Inc()
	metrics.CheckpointDuration.WithLabelValues(p.Name(), c.manager.Backend()).Observe(time.Since(start).Seconds())
	c.last = &record

	c.logger.Info("checkpoint completed",
		"source_id", record.SourceID,
		"checkpoint_id", record.CheckpointID,
		"values", record.Values,
	)
	return record, nil
}

// Run checkpoints the participant on the configured schedule until ctx is
// cancelled. Failed checkpoints are logged and retried at the next tick.
func (c *Coordinator) Run(ctx context.Context, p Participant) error {
	for {
		next := c.schedule.Next(c.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := c.Checkpoint(ctx, p); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("checkpoint failed", "source_id", p.Name(), "error", err)
		}
	}
}

// Last returns the most recent checkpoint restored or taken, if any.
func (c *Coordinator) Last() (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Record{}, false
	}
	return *c.last, true
}
