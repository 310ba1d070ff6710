// Package checkpoint provides checkpoint coordination and durable state backends.
package checkpoint

import (
	"context"
	"slices"
	"sync"
	"time"
)

// ListState is the operator state a participant reads on restore and writes
// on checkpoint: an ordered list of int64 values.
type ListState struct {
	mu     sync.Mutex
	values []int64
}

// NewListState creates a list state holding the given values.
func NewListState(values ...int64) *ListState {
	return &ListState{values: slices.Clone(values)}
}

// Get returns a copy of the stored values.
func (s *ListState) Get() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.values)
}

// Clear removes all values.
func (s *ListState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = nil
}

// Add appends a value.
func (s *ListState) Add(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
}

// RestoreContext is handed to a participant once, before it starts running.
type RestoreContext struct {
	// Restored reports whether a prior checkpoint exists.
	Restored bool

	// CheckpointID identifies the restored checkpoint, if any.
	CheckpointID string

	// State holds the restored values. Empty when Restored is false.
	State *ListState
}

// IsRestored reports whether a prior checkpoint exists.
func (c RestoreContext) IsRestored() bool {
	return c.Restored
}

// SnapshotContext is handed to a participant for every checkpoint.
type SnapshotContext struct {
	// CheckpointID identifies the checkpoint being taken.
	CheckpointID string

	// Timestamp is when the checkpoint was triggered.
	Timestamp time.Time

	// State receives the participant's values.
	State *ListState
}

// Participant is a component whose state is captured by checkpoints.
type Participant interface {
	// Name identifies the participant's state in the backend.
	Name() string

	// OnRestore is called once before the participant starts.
	OnRestore(ctx context.Context, rc RestoreContext) error

	// OnCheckpoint writes the participant's current state into sc.State.
	OnCheckpoint(ctx context.Context, sc SnapshotContext) error
}

// Record is the durable form of a checkpoint.
type Record struct {
	// SourceID identifies the participant being checkpointed.
	SourceID string `json:"source_id"`

	// CheckpointID identifies the checkpoint.
	CheckpointID string `json:"checkpoint_id"`

	// Values is the participant's list state.
	Values []int64 `json:"values"`

	// CommittedAt is when this checkpoint was committed.
	CommittedAt time.Time `json:"committed_at"`
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Save persists a checkpoint, replacing the previous one for the source.
	Save(ctx context.Context, record Record) error

	// Load retrieves the latest checkpoint for a source, or nil if none exists.
	Load(ctx context.Context, sourceID string) (*Record, error)

	// Delete removes a checkpoint for a source.
	Delete(ctx context.Context, sourceID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Backend names the storage backend.
	Backend() string

	// Close releases any resources held by the manager.
	Close() error
}

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendS3       = "s3"
)

// Config holds configuration for checkpointing.
type Config struct {
	// Enabled indicates whether checkpointing is enabled.
	Enabled bool

	// Interval is the time between checkpoints when Schedule is empty.
	Interval time.Duration

	// Schedule is an optional cron expression (standard or descriptor,
	// e.g. "*/5 * * * *" or "@every 30s") that overrides Interval.
	Schedule string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Interval: 10 * time.Second,
	}
}
