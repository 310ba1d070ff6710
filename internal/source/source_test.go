package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/iceberg"
)

// hookFetcher wraps a Fetcher and runs before ahead of each call. A non-nil
// error from before fails the call.
type hookFetcher struct {
	next   Fetcher
	before func(call int, cursor int64) error

	mu    sync.Mutex
	calls int
}

func (f *hookFetcher) ConsumeNext(ctx context.Context, cursor int64) ([]iceberg.CombinedScanTask, int64, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.before != nil {
		if err := f.before(call, cursor); err != nil {
			return nil, cursor, err
		}
	}
	return f.next.ConsumeNext(ctx, cursor)
}

func (f *hookFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingCollector struct {
	mu    sync.Mutex
	paths []string
}

func (c *recordingCollector) Collect(_ context.Context, task iceberg.CombinedScanTask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range task.Files {
		c.paths = append(c.paths, f.File.FilePath)
	}
	return nil
}

func (c *recordingCollector) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

// recordSleeps replaces the source's sleep with one that records intervals
// and returns immediately. onSleep runs after each recorded interval.
func recordSleeps(s *Source, onSleep func(n int)) *[]time.Duration {
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if onSleep != nil {
			onSleep(len(sleeps))
		}
		return ctx.Err() == nil
	}
	return &sleeps
}

func testConfig(budget int64) Config {
	cfg := DefaultConfig()
	cfg.Name = "db.events"
	cfg.MinPollInterval = time.Second
	cfg.MaxPollInterval = 5 * time.Second
	cfg.RemainingSnapshots = budget
	cfg.Retry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2}
	return cfg
}

func newTestSource(t *testing.T, f Fetcher, c Collector, cfg Config) *Source {
	t.Helper()
	s, err := New(f, c, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_Validation(t *testing.T) {
	f := NewIncrementalFetcher(newMemoryCatalog(), FetcherConfig{Table: testTable}, nil)
	c := &recordingCollector{}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing name", func(c *Config) { c.Name = "" }},
		{"zero min interval", func(c *Config) { c.MinPollInterval = 0 }},
		{"max below min", func(c *Config) { c.MaxPollInterval = c.MinPollInterval / 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(-1)
			tt.modify(&cfg)
			if _, err := New(f, c, cfg, nil); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestSource_FreshStartConsumesInOrder(t *testing.T) {
	cat := newMemoryCatalog(1, 2, 3)
	collector := &recordingCollector{}
	s := newTestSource(t, NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil), collector, testConfig(3))
	sleeps := recordSleeps(s, nil)

	if err := s.OnRestore(context.Background(), checkpoint.RestoreContext{State: checkpoint.NewListState()}); err != nil {
		t.Fatalf("OnRestore() error = %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{fileFor(1), fileFor(2), fileFor(3)}
	got := collector.Paths()
	if len(got) != len(want) {
		t.Fatalf("collected %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("collected[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if s.Cursor() != 3 {
		t.Errorf("Cursor() = %d, want 3", s.Cursor())
	}
	if s.State() != StateTerminated {
		t.Errorf("State() = %s, want terminated", s.State())
	}
	// Four cycles: three with progress, then an idle one that spends the budget.
	if wantSleeps := []time.Duration{time.Second, time.Second, time.Second}; !equalDurations(*sleeps, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", *sleeps, wantSleeps)
	}
	if stats := s.Stats(); stats.Cycles != 4 || stats.SnapshotsConsumed != 3 || stats.TasksEmitted != 3 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSource_BackoffAndReset(t *testing.T) {
	cat := newMemoryCatalog()
	s := newTestSource(t, NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil), &recordingCollector{}, testConfig(5))
	sleeps := recordSleeps(s, func(n int) {
		if n == 3 {
			cat.commit(7, time.Now())
		}
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, time.Second, 2 * time.Second}
	if !equalDurations(*sleeps, want) {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
	if s.Cursor() != 7 {
		t.Errorf("Cursor() = %d, want 7", s.Cursor())
	}
}

func TestSource_RestoreResumesAfterCursor(t *testing.T) {
	cat := newMemoryCatalog(1, 2, 3)
	collector := &recordingCollector{}
	s := newTestSource(t, NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil), collector, testConfig(0))
	recordSleeps(s, nil)

	rc := checkpoint.RestoreContext{Restored: true, CheckpointID: "c1", State: checkpoint.NewListState(2)}
	if err := s.OnRestore(context.Background(), rc); err != nil {
		t.Fatalf("OnRestore() error = %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := collector.Paths(); len(got) != 1 || got[0] != fileFor(3) {
		t.Errorf("collected %v, want only snapshot 3", got)
	}
	if s.Cursor() != 3 {
		t.Errorf("Cursor() = %d, want 3", s.Cursor())
	}
}

func TestSource_RestoreIgnoresConfiguredStart(t *testing.T) {
	cfg := testConfig(0)
	cfg.FromSnapshotID = 1
	s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(1, 2), FetcherConfig{Table: testTable}, nil), &recordingCollector{}, cfg)

	rc := checkpoint.RestoreContext{Restored: true, State: checkpoint.NewListState(2)}
	if err := s.OnRestore(context.Background(), rc); err != nil {
		t.Fatalf("OnRestore() error = %v", err)
	}
	if s.Cursor() != 2 {
		t.Errorf("Cursor() = %d, want restored 2", s.Cursor())
	}
}

func TestSource_RestoreCorruption(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
	}{
		{"empty", nil},
		{"two values", []int64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(), FetcherConfig{Table: testTable}, nil), &recordingCollector{}, testConfig(0))

			rc := checkpoint.RestoreContext{Restored: true, State: checkpoint.NewListState(tt.values...)}
			err := s.OnRestore(context.Background(), rc)
			if !errors.Is(err, ErrRestoreCorruption) {
				t.Fatalf("OnRestore() error = %v, want ErrRestoreCorruption", err)
			}
			var corrupt *RestoreCorruptionError
			if !errors.As(err, &corrupt) || corrupt.Count != len(tt.values) {
				t.Errorf("error = %v, want count %d", err, len(tt.values))
			}
		})
	}
}

func TestSource_BudgetZeroRunsOneCycle(t *testing.T) {
	f := &hookFetcher{next: NewIncrementalFetcher(newMemoryCatalog(), FetcherConfig{Table: testTable}, nil)}
	s := newTestSource(t, f, &recordingCollector{}, testConfig(0))
	sleeps := recordSleeps(s, nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.Calls())
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
	if s.State() != StateTerminated {
		t.Errorf("State() = %s, want terminated", s.State())
	}
}

func TestSource_CancelDuringSleep(t *testing.T) {
	cfg := testConfig(-1)
	cfg.MinPollInterval = time.Hour
	cfg.MaxPollInterval = time.Hour

	fetched := make(chan struct{}, 16)
	f := &hookFetcher{
		next: NewIncrementalFetcher(newMemoryCatalog(), FetcherConfig{Table: testTable}, nil),
		before: func(int, int64) error {
			fetched <- struct{}{}
			return nil
		},
	}
	s := newTestSource(t, f, &recordingCollector{}, cfg)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case <-fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first cycle")
	}

	s.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Cancel")
	}

	if s.State() != StateCancelled {
		t.Errorf("State() = %s, want cancelled", s.State())
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.Calls())
	}
}

func TestSource_CancelBeforeRun(t *testing.T) {
	f := &hookFetcher{next: NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil)}
	s := newTestSource(t, f, &recordingCollector{}, testConfig(-1))

	s.Cancel()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.Calls() != 0 {
		t.Errorf("fetch calls = %d, want 0", f.Calls())
	}
	if s.State() != StateCancelled {
		t.Errorf("State() = %s, want cancelled", s.State())
	}

	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSource_CheckpointWaitsForCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := &hookFetcher{
		next: NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil),
		before: func(call int, _ int64) error {
			if call == 1 {
				close(entered)
				<-release
			}
			return nil
		},
	}
	collector := &recordingCollector{}
	s := newTestSource(t, f, collector, testConfig(0))
	recordSleeps(s, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-entered

	state := checkpoint.NewListState(99)
	checkpointed := make(chan struct{})
	go func() {
		_ = s.OnCheckpoint(context.Background(), checkpoint.SnapshotContext{CheckpointID: "c1", State: state})
		close(checkpointed)
	}()

	select {
	case <-checkpointed:
		t.Fatal("checkpoint completed while a cycle was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-checkpointed:
	case <-time.After(5 * time.Second):
		t.Fatal("checkpoint did not complete after the cycle")
	}

	if vals := state.Get(); len(vals) != 1 || vals[0] != 1 {
		t.Errorf("checkpointed values = %v, want [1]", vals)
	}
	if len(collector.Paths()) != 1 {
		t.Errorf("collected %v, want the task emitted before the checkpoint", collector.Paths())
	}

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestSource_StatusReadersDoNotWaitForCycle(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	collector := CollectorFunc(func(ctx context.Context, _ iceberg.CombinedScanTask) error {
		close(entered)
		<-release
		return nil
	})
	s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil), collector, testConfig(0))
	recordSleeps(s, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-entered

	read := make(chan struct{})
	var (
		stats   Stats
		polling PollingState
		cursor  int64
	)
	go func() {
		stats = s.Stats()
		polling = s.PollingState()
		cursor = s.Cursor()
		close(read)
	}()

	select {
	case <-read:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("status accessors blocked while the collector was busy")
	}

	if stats.Cycles != 0 || cursor != iceberg.NoSnapshotID || polling.Current != time.Second {
		t.Errorf("during cycle: stats=%+v cursor=%d polling=%v, want the state before the cycle", stats, cursor, polling.Current)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Cursor() != 1 || s.Stats().Cycles != 1 {
		t.Errorf("after cycle: cursor=%d stats=%+v, want the completed cycle published", s.Cursor(), s.Stats())
	}
}

func TestSource_CancelDuringCollectKeepsCursor(t *testing.T) {
	entered := make(chan struct{})
	collector := CollectorFunc(func(ctx context.Context, _ iceberg.CombinedScanTask) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})
	s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil), collector, testConfig(-1))
	recordSleeps(s, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-entered
	s.Cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
	if s.State() != StateCancelled {
		t.Errorf("State() = %s, want cancelled", s.State())
	}
	if s.Cursor() != iceberg.NoSnapshotID {
		t.Errorf("Cursor() = %d, want the cursor from before the interrupted cycle", s.Cursor())
	}
}

func TestSource_CheckpointBetweenCycles(t *testing.T) {
	s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(1, 2), FetcherConfig{Table: testTable}, nil), &recordingCollector{}, testConfig(1))

	var checkpointed []int64
	recordSleeps(s, func(int) {
		state := checkpoint.NewListState()
		if err := s.OnCheckpoint(context.Background(), checkpoint.SnapshotContext{State: state}); err != nil {
			t.Errorf("OnCheckpoint() error = %v", err)
		}
		checkpointed = append(checkpointed, state.Get()...)
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(checkpointed) != 1 || checkpointed[0] != 1 {
		t.Errorf("checkpointed = %v, want [1]", checkpointed)
	}
	if s.Cursor() != 2 {
		t.Errorf("Cursor() = %d, want 2", s.Cursor())
	}
}

func TestSource_ExpiredSnapshotFails(t *testing.T) {
	f := &hookFetcher{next: NewIncrementalFetcher(newMemoryCatalog(1, 2), FetcherConfig{Table: testTable}, nil)}
	cfg := testConfig(-1)
	cfg.FromSnapshotID = 42
	s := newTestSource(t, f, &recordingCollector{}, cfg)

	err := s.Run(context.Background())
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("Run() error = %v, want ErrSnapshotNotFound", err)
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1 (not retried)", f.Calls())
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %s, want failed", s.State())
	}
	if s.Cursor() != 42 {
		t.Errorf("Cursor() = %d, want unchanged 42", s.Cursor())
	}
}

func TestSource_TransientErrorRetried(t *testing.T) {
	f := &hookFetcher{
		next: NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil),
		before: func(call int, _ int64) error {
			if call == 1 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	s := newTestSource(t, f, &recordingCollector{}, testConfig(0))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.Calls() != 2 {
		t.Errorf("fetch calls = %d, want 2", f.Calls())
	}
	if s.Cursor() != 1 {
		t.Errorf("Cursor() = %d, want 1", s.Cursor())
	}
}

func TestSource_RetriesExhausted(t *testing.T) {
	boom := errors.New("catalog unavailable")
	f := &hookFetcher{
		next:   NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil),
		before: func(int, int64) error { return boom },
	}
	s := newTestSource(t, f, &recordingCollector{}, testConfig(-1))

	err := s.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	var retryErr *RetryError
	if !errors.As(err, &retryErr) || retryErr.Attempts != 3 {
		t.Errorf("error = %v, want 3 attempts", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %s, want failed", s.State())
	}
}

func TestSource_EmitFailureKeepsCursor(t *testing.T) {
	fails := 1
	collector := CollectorFunc(func(context.Context, iceberg.CombinedScanTask) error {
		if fails > 0 {
			fails--
			return errors.New("sink full")
		}
		return nil
	})
	cfg := testConfig(0)
	cfg.Retry.MaxAttempts = 1
	s := newTestSource(t, NewIncrementalFetcher(newMemoryCatalog(1), FetcherConfig{Table: testTable}, nil), collector, cfg)

	err := s.Run(context.Background())
	var emitErr *EmitError
	if !errors.As(err, &emitErr) {
		t.Fatalf("Run() error = %v, want EmitError", err)
	}
	if s.Cursor() != iceberg.NoSnapshotID {
		t.Errorf("Cursor() = %d, want unchanged %d", s.Cursor(), iceberg.NoSnapshotID)
	}
	if s.PollingState().Current != cfg.MinPollInterval {
		t.Errorf("poll interval = %v, want unchanged %v", s.PollingState().Current, cfg.MinPollInterval)
	}
}
