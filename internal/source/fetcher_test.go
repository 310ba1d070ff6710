package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/iceberg/catalog"
	"github.com/janovincze/snapstream/internal/iceberg/scan"
)

var testTable = iceberg.TableIdentifier{Namespace: "db", Name: "events"}

// memoryCatalog serves table metadata held in memory.
type memoryCatalog struct {
	mu       sync.Mutex
	meta     *iceberg.TableMetadata
	files    map[int64][]iceberg.FileScanTask
	requests []catalog.ScanRequest
}

func newMemoryCatalog(ids ...int64) *memoryCatalog {
	c := &memoryCatalog{
		meta: &iceberg.TableMetadata{
			CurrentSchemaID: 0,
			Schemas: []iceberg.Schema{{
				SchemaID: 0,
				Fields: []iceberg.Field{
					{ID: 1, Name: "id", Type: iceberg.TypeLong, Required: true},
					{ID: 2, Name: "Payload", Type: iceberg.TypeString},
				},
			}},
		},
		files: make(map[int64][]iceberg.FileScanTask),
	}
	for _, id := range ids {
		c.commit(id, time.UnixMilli(id*1000))
	}
	return c
}

func (c *memoryCatalog) commit(id int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta.Snapshots = append(c.meta.Snapshots, iceberg.Snapshot{
		SnapshotID:       id,
		ParentSnapshotID: c.meta.CurrentSnapshotID,
		TimestampMs:      at.UnixMilli(),
		Summary:          map[string]string{"operation": "append"},
	})
	c.meta.CurrentSnapshotID = id
	c.files[id] = []iceberg.FileScanTask{{
		File:   iceberg.DataFile{FilePath: fileFor(id), FileSizeInBytes: 1024},
		Length: 1024,
	}}
}

func fileFor(id int64) string {
	return "s3://warehouse/db/events/data/" + string(rune('a'+id%26)) + ".parquet"
}

func (c *memoryCatalog) LoadTable(_ context.Context, _ iceberg.TableIdentifier) (*iceberg.TableMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta := *c.meta
	meta.Snapshots = append([]iceberg.Snapshot(nil), c.meta.Snapshots...)
	return &meta, nil
}

func (c *memoryCatalog) SnapshotsAfter(ctx context.Context, ident iceberg.TableIdentifier, after int64, asOf time.Time) ([]iceberg.Snapshot, error) {
	meta, _ := c.LoadTable(ctx, ident)
	return catalog.SnapshotsAfter(meta, ident, after, asOf)
}

func (c *memoryCatalog) PlanFiles(_ context.Context, _ iceberg.TableIdentifier, req catalog.ScanRequest) ([]iceberg.FileScanTask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return c.files[req.EndSnapshotID], nil
}

func (c *memoryCatalog) Close() error { return nil }

func TestIncrementalFetcher_NoNewSnapshot(t *testing.T) {
	cat := newMemoryCatalog(1, 2)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable, Scan: scan.DefaultConfig()}, nil)

	tasks, next, err := f.ConsumeNext(context.Background(), 2)
	if err != nil {
		t.Fatalf("ConsumeNext() error = %v", err)
	}
	if len(tasks) != 0 || next != 2 {
		t.Errorf("ConsumeNext() = %d tasks, cursor %d; want 0 tasks, cursor 2", len(tasks), next)
	}
	if len(cat.requests) != 0 {
		t.Errorf("expected no scan planned, got %d", len(cat.requests))
	}
}

func TestIncrementalFetcher_ConsumesOneSnapshot(t *testing.T) {
	cat := newMemoryCatalog(1, 2, 3)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable, CaseSensitive: true}, nil)

	tasks, next, err := f.ConsumeNext(context.Background(), 1)
	if err != nil {
		t.Fatalf("ConsumeNext() error = %v", err)
	}
	if next != 2 {
		t.Errorf("next cursor = %d, want 2", next)
	}
	if len(tasks) != 1 || tasks[0].Files[0].File.FilePath != fileFor(2) {
		t.Errorf("tasks = %+v, want the file of snapshot 2", tasks)
	}

	req := cat.requests[0]
	if req.StartSnapshotID != 1 || req.EndSnapshotID != 2 {
		t.Errorf("scan range = (%d, %d], want (1, 2]", req.StartSnapshotID, req.EndSnapshotID)
	}
	if !req.CaseSensitive {
		t.Error("expected case sensitive scan request")
	}
}

func TestIncrementalFetcher_FromStart(t *testing.T) {
	cat := newMemoryCatalog(5, 9)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil)

	_, next, err := f.ConsumeNext(context.Background(), iceberg.NoSnapshotID)
	if err != nil {
		t.Fatalf("ConsumeNext() error = %v", err)
	}
	if next != 5 {
		t.Errorf("next cursor = %d, want oldest snapshot 5", next)
	}
}

func TestIncrementalFetcher_Idempotent(t *testing.T) {
	cat := newMemoryCatalog(1, 2, 3)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil)
	ctx := context.Background()

	first, next1, err1 := f.ConsumeNext(ctx, 1)
	second, next2, err2 := f.ConsumeNext(ctx, 1)
	if err1 != nil || err2 != nil {
		t.Fatalf("ConsumeNext() errors = %v, %v", err1, err2)
	}
	if next1 != next2 || len(first) != len(second) {
		t.Errorf("repeated fetch differs: (%d, %d tasks) vs (%d, %d tasks)", next1, len(first), next2, len(second))
	}
}

func TestIncrementalFetcher_AsOf(t *testing.T) {
	cat := newMemoryCatalog(1, 2, 3)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable, AsOf: time.UnixMilli(2500)}, nil)
	ctx := context.Background()

	_, next, err := f.ConsumeNext(ctx, 1)
	if err != nil || next != 2 {
		t.Fatalf("ConsumeNext(1) = %d, %v; want 2", next, err)
	}
	tasks, next, err := f.ConsumeNext(ctx, 2)
	if err != nil || next != 2 || len(tasks) != 0 {
		t.Errorf("ConsumeNext(2) = %d tasks, cursor %d, %v; want snapshot 3 hidden", len(tasks), next, err)
	}
}

func TestIncrementalFetcher_ExpiredCursor(t *testing.T) {
	cat := newMemoryCatalog(1, 2)
	f := NewIncrementalFetcher(cat, FetcherConfig{Table: testTable}, nil)

	_, next, err := f.ConsumeNext(context.Background(), 42)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("ConsumeNext() error = %v, want ErrSnapshotNotFound", err)
	}
	if isRetryable(err) {
		t.Error("expired cursor must not be retryable")
	}
	if next != 42 {
		t.Errorf("cursor = %d, want unchanged 42", next)
	}
}

func TestIncrementalFetcher_Projection(t *testing.T) {
	tests := []struct {
		name          string
		selectCols    []string
		caseSensitive bool
		want          []string
		wantErr       bool
	}{
		{"all columns", nil, true, nil, false},
		{"exact match", []string{"id", "Payload"}, true, []string{"id", "Payload"}, false},
		{"case insensitive", []string{"ID", "payload"}, false, []string{"id", "Payload"}, false},
		{"case sensitive miss", []string{"payload"}, true, nil, true},
		{"unknown column", []string{"missing"}, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newMemoryCatalog(1)
			f := NewIncrementalFetcher(cat, FetcherConfig{
				Table:         testTable,
				Select:        tt.selectCols,
				CaseSensitive: tt.caseSensitive,
			}, nil)

			_, _, err := f.ConsumeNext(context.Background(), iceberg.NoSnapshotID)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ConsumeNext() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if isRetryable(err) {
					t.Error("projection errors must not be retryable")
				}
				return
			}

			got := cat.requests[0].Select
			if len(got) != len(tt.want) {
				t.Fatalf("Select = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Select[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
