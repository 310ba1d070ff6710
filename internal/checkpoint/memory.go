package checkpoint

import (
	"context"
	"slices"
	"sync"
)

// MemoryManager keeps checkpoints in process memory. State does not survive
// a restart; it backs tests and bounded CLI runs.
type MemoryManager struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryManager creates an empty in-memory checkpoint manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{records: make(map[string]Record)}
}

// Save stores a copy of the record.
func (m *MemoryManager) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.Values = slices.Clone(record.Values)
	m.records[record.SourceID] = record
	return nil
}

// Load returns a copy of the stored record.
func (m *MemoryManager) Load(_ context.Context, sourceID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[sourceID]
	if !ok {
		return nil, nil
	}
	record.Values = slices.Clone(record.Values)
	return &record, nil
}

// Delete removes the record for a source.
func (m *MemoryManager) Delete(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sourceID)
	return nil
}

// Ping always succeeds.
func (m *MemoryManager) Ping(context.Context) error { return nil }

// Backend returns BackendMemory.
func (m *MemoryManager) Backend() string { return BackendMemory }

// Close is a no-op.
func (m *MemoryManager) Close() error { return nil }

var _ Manager = (*MemoryManager)(nil)
