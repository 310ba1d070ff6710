// Package sink provides destinations for the scan tasks a source emits.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/metrics"
)

// Sink receives combined scan tasks in emission order.
type Sink interface {
	// Collect hands one task to the sink. It may block until the sink
	// accepts it or ctx is done.
	Collect(ctx context.Context, task iceberg.CombinedScanTask) error

	// Name identifies the sink in metrics and logs.
	Name() string

	// Close releases any resources held by the sink.
	Close() error
}

// Sink kinds.
const (
	KindChannel  = "channel"
	KindPostgres = "postgres"
	KindLog      = "log"
)

// ErrClosed is returned when collecting into a closed sink.
var ErrClosed = errors.New("sink closed")

// ChannelSink hands tasks to an in-process consumer.
type ChannelSink struct {
	tasks chan iceberg.CombinedScanTask

	mu     sync.RWMutex
	closed bool
}

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{tasks: make(chan iceberg.CombinedScanTask, buffer)}
}

// Tasks returns the channel tasks are delivered on. It is closed by Close.
func (s *ChannelSink) Tasks() <-chan iceberg.CombinedScanTask {
	return s.tasks
}

// Collect implements Sink. It blocks while the buffer is full.
func (s *ChannelSink) Collect(ctx context.Context, task iceberg.CombinedScanTask) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		recordWrite(KindChannel, ErrClosed)
		return ErrClosed
	}

	select {
	case s.tasks <- task:
		recordWrite(KindChannel, nil)
		return nil
	case <-ctx.Done():
		recordWrite(KindChannel, ctx.Err())
		return ctx.Err()
	}
}

// Name implements Sink.
func (s *ChannelSink) Name() string { return KindChannel }

// Close closes the task channel. A Collect blocked on a full buffer must be
// released through its context first.
func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	return nil
}

// LogSink writes a log line per task.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a sink logging at level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "log-sink"), level: level}
}

// Collect implements Sink.
func (s *LogSink) Collect(ctx context.Context, task iceberg.CombinedScanTask) error {
	paths := make([]string, len(task.Files))
	for i, f := range task.Files {
		paths[i] = f.File.FilePath
	}
	s.logger.Log(ctx, s.level, "scan task",
		"files", len(task.Files),
		"size_bytes", task.SizeBytes(),
		"paths", paths,
	)
	recordWrite(KindLog, nil)
	return nil
}

// Name implements Sink.
func (s *LogSink) Name() string { return KindLog }

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

func recordWrite(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SinkWritesTotal.WithLabelValues(sink, status).Inc()
}

var (
	_ Sink = (*ChannelSink)(nil)
	_ Sink = (*LogSink)(nil)
)
