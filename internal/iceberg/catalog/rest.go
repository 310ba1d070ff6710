package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/metrics"
)

// Plan statuses returned by the scan planning endpoint.
const (
	planStatusCompleted = "completed"
	planStatusSubmitted = "submitted"
	planStatusFailed    = "failed"
	planStatusCancelled = "cancelled"
)

// RESTCatalog implements Catalog using the Iceberg REST API (Lakekeeper compatible).
type RESTCatalog struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRESTCatalog creates a new REST catalog client.
func NewRESTCatalog(cfg Config, logger *slog.Logger) *RESTCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PlanPollInterval <= 0 {
		cfg.PlanPollInterval = 500 * time.Millisecond
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &RESTCatalog{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: limiter,
		logger:  logger.With("component", "iceberg-catalog"),
	}
}

// LoadTable loads table metadata.
func (c *RESTCatalog) LoadTable(ctx context.Context, ident iceberg.TableIdentifier) (*iceberg.TableMetadata, error) {
	start := time.Now()
	meta, err := c.loadTable(ctx, ident)
	observe("load_table", start, err)
	return meta, err
}

func (c *RESTCatalog) loadTable(ctx context.Context, ident iceberg.TableIdentifier) (*iceberg.TableMetadata, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.tableURL(ident), nil)
	if err != nil {
		return nil, fmt.Errorf("load table request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", ident, ErrTableNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result loadTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode table response: %w", err)
	}

	return convertRESTToMetadata(result), nil
}

// SnapshotsAfter returns the visible lineage following the given snapshot.
func (c *RESTCatalog) SnapshotsAfter(ctx context.Context, ident iceberg.TableIdentifier, after int64, asOf time.Time) ([]iceberg.Snapshot, error) {
	meta, err := c.LoadTable(ctx, ident)
	if err != nil {
		return nil, err
	}
	return SnapshotsAfter(meta, ident, after, asOf)
}

// SnapshotsAfter computes the snapshots of the current lineage that follow
// the given snapshot in table metadata already loaded.
func SnapshotsAfter(meta *iceberg.TableMetadata, ident iceberg.TableIdentifier, after int64, asOf time.Time) ([]iceberg.Snapshot, error) {
	lineage := meta.Lineage()

	from := 0
	if after != iceberg.NoSnapshotID {
		idx := -1
		for i, s := range lineage {
			if s.SnapshotID == after {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &SnapshotNotFoundError{Table: ident, SnapshotID: after}
		}
		from = idx + 1
	}

	var visible []iceberg.Snapshot
	for _, s := range lineage[from:] {
		if !asOf.IsZero() && s.CommittedAt().After(asOf) {
			break
		}
		visible = append(visible, s)
	}
	return visible, nil
}

// PlanFiles plans an incremental scan through the REST scan planning endpoint.
// Asynchronous plans are polled until they complete and plan tasks are
// expanded into file scan tasks.
func (c *RESTCatalog) PlanFiles(ctx context.Context, ident iceberg.TableIdentifier, req ScanRequest) ([]iceberg.FileScanTask, error) {
	start := time.Now()
	tasks, err := c.planFiles(ctx, ident, req)
	observe("plan_files", start, err)
	return tasks, err
}

func (c *RESTCatalog) planFiles(ctx context.Context, ident iceberg.TableIdentifier, req ScanRequest) ([]iceberg.FileScanTask, error) {
	body := planTableScanRequest{
		EndSnapshotID: req.EndSnapshotID,
		Select:        req.Select,
		CaseSensitive: req.CaseSensitive,
		Filter:        req.Filter,
	}
	if req.StartSnapshotID != iceberg.NoSnapshotID {
		startID := req.StartSnapshotID
		body.StartSnapshotID = &startID
	}

	var plan planResponse
	if err := c.postJSON(ctx, c.tableURL(ident)+"/plan", body, &plan); err != nil {
		return nil, fmt.Errorf("plan table scan: %w", err)
	}

	plan, err := c.awaitPlan(ctx, ident, plan)
	if err != nil {
		return nil, err
	}

	tasks := convertRESTScanTasks(plan.FileScanTasks)
	pending := plan.PlanTasks
	for len(pending) > 0 {
		planTask := pending[0]
		pending = pending[1:]

		var fetched planResponse
		if err := c.postJSON(ctx, c.tableURL(ident)+"/tasks", fetchScanTasksRequest{PlanTask: planTask}, &fetched); err != nil {
			return nil, fmt.Errorf("fetch scan tasks: %w", err)
		}
		tasks = append(tasks, convertRESTScanTasks(fetched.FileScanTasks)...)
		pending = append(pending, fetched.PlanTasks...)
	}

	c.logger.Debug("scan planned",
		"table", ident.String(),
		"start_snapshot_id", req.StartSnapshotID,
		"end_snapshot_id", req.EndSnapshotID,
		"tasks", len(tasks),
	)
	return tasks, nil
}

// awaitPlan polls a submitted plan until it reaches a terminal status.
func (c *RESTCatalog) awaitPlan(ctx context.Context, ident iceberg.TableIdentifier, plan planResponse) (planResponse, error) {
	for {
		switch plan.Status {
		case planStatusCompleted, "":
			return plan, nil
		case planStatusFailed, planStatusCancelled:
			msg := plan.Status
			if plan.Error != nil {
				msg = plan.Error.Message
			}
			return planResponse{}, fmt.Errorf("scan plan %s: %s", plan.PlanID, msg)
		case planStatusSubmitted:
		default:
			return planResponse{}, fmt.Errorf("unknown scan plan status %q", plan.Status)
		}

		timer := time.NewTimer(c.config.PlanPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return planResponse{}, ctx.Err()
		case <-timer.C:
		}

		planID := plan.PlanID
		plan = planResponse{}
		if err := c.getJSON(ctx, c.tableURL(ident)+"/plan/"+url.PathEscape(planID), &plan); err != nil {
			return planResponse{}, fmt.Errorf("poll scan plan: %w", err)
		}
		if plan.PlanID == "" {
			plan.PlanID = planID
		}
	}
}

// Close releases resources.
func (c *RESTCatalog) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *RESTCatalog) tableURL(ident iceberg.TableIdentifier) string {
	return fmt.Sprintf("%s/catalog/v1/%s/namespaces/%s/tables/%s",
		c.config.CatalogURL, c.config.Warehouse,
		url.PathEscape(ident.Namespace), url.PathEscape(ident.Name))
}

func (c *RESTCatalog) postJSON(ctx context.Context, url string, body, out any) error {
	resp, err := c.doRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *RESTCatalog) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with the given method, URL, and body.
func (c *RESTCatalog) doRequest(ctx context.Context, method, url string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	return c.client.Do(req)
}

// parseError parses an error response from the REST API.
func (c *RESTCatalog) parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("catalog error (status %d): failed to read response body", resp.StatusCode)
	}
	return fmt.Errorf("catalog error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.CatalogRequestDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// REST API request/response types

type restSchema struct {
	Type     string      `json:"type"`
	SchemaID int         `json:"schema-id"`
	Fields   []restField `json:"fields"`
}

type restField struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

type restPartitionSpec struct {
	SpecID int                  `json:"spec-id"`
	Fields []restPartitionField `json:"fields,omitempty"`
}

type restPartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

type restSnapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID *int64            `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number,omitempty"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary,omitempty"`
}

type loadTableResponse struct {
	MetadataLocation string `json:"metadata-location"`
	Metadata         struct {
		FormatVersion     int                 `json:"format-version"`
		TableUUID         string              `json:"table-uuid"`
		Location          string              `json:"location"`
		LastUpdatedMs     int64               `json:"last-updated-ms"`
		Schemas           []restSchema        `json:"schemas"`
		CurrentSchemaID   int                 `json:"current-schema-id"`
		PartitionSpecs    []restPartitionSpec `json:"partition-specs"`
		DefaultSpecID     int                 `json:"default-spec-id"`
		Properties        map[string]string   `json:"properties"`
		CurrentSnapshotID *int64              `json:"current-snapshot-id"`
		Snapshots         []restSnapshot      `json:"snapshots"`
	} `json:"metadata"`
}

type planTableScanRequest struct {
	StartSnapshotID *int64   `json:"start-snapshot-id,omitempty"`
	EndSnapshotID   int64    `json:"end-snapshot-id"`
	Select          []string `json:"select,omitempty"`
	CaseSensitive   bool     `json:"case-sensitive"`
	Filter          string   `json:"filter,omitempty"`
}

type fetchScanTasksRequest struct {
	PlanTask string `json:"plan-task"`
}

type planError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type planResponse struct {
	Status        string         `json:"status"`
	PlanID        string         `json:"plan-id,omitempty"`
	PlanTasks     []string       `json:"plan-tasks,omitempty"`
	FileScanTasks []restScanTask `json:"file-scan-tasks,omitempty"`
	Error         *planError     `json:"error,omitempty"`
}

type restScanTask struct {
	DataFile       restDataFile `json:"data-file"`
	ResidualFilter any          `json:"residual-filter,omitempty"`
}

type restDataFile struct {
	Content         string         `json:"content,omitempty"`
	FilePath        string         `json:"file-path"`
	FileFormat      string         `json:"file-format"`
	RecordCount     int64          `json:"record-count"`
	FileSizeInBytes int64          `json:"file-size-in-bytes"`
	SplitOffsets    []int64        `json:"split-offsets,omitempty"`
	Partition       map[string]any `json:"partition,omitempty"`
}

// Conversion functions

func convertRESTScanTasks(tasks []restScanTask) []iceberg.FileScanTask {
	result := make([]iceberg.FileScanTask, len(tasks))
	for i, t := range tasks {
		var residual string
		switch v := t.ResidualFilter.(type) {
		case nil:
		case string:
			residual = v
		default:
			if data, err := json.Marshal(v); err == nil {
				residual = string(data)
			}
		}

		result[i] = iceberg.FileScanTask{
			File: iceberg.DataFile{
				FilePath:        t.DataFile.FilePath,
				FileFormat:      strings.ToLower(t.DataFile.FileFormat),
				RecordCount:     t.DataFile.RecordCount,
				FileSizeInBytes: t.DataFile.FileSizeInBytes,
				SplitOffsets:    t.DataFile.SplitOffsets,
				PartitionData:   t.DataFile.Partition,
			},
			Start:          0,
			Length:         t.DataFile.FileSizeInBytes,
			ResidualFilter: residual,
		}
	}
	return result
}

func convertRESTToMetadata(resp loadTableResponse) *iceberg.TableMetadata {
	schemas := make([]iceberg.Schema, len(resp.Metadata.Schemas))
	for i, s := range resp.Metadata.Schemas {
		fields := make([]iceberg.Field, len(s.Fields))
		for j, f := range s.Fields {
			fields[j] = iceberg.Field{
				ID:       f.ID,
				Name:     f.Name,
				Type:     iceberg.Type(f.Type),
				Required: f.Required,
				Doc:      f.Doc,
			}
		}
		schemas[i] = iceberg.Schema{
			SchemaID: s.SchemaID,
			Fields:   fields,
		}
	}

	partitionSpecs := make([]iceberg.PartitionSpec, len(resp.Metadata.PartitionSpecs))
	for i, ps := range resp.Metadata.PartitionSpecs {
		fields := make([]iceberg.PartitionField, len(ps.Fields))
		for j, f := range ps.Fields {
			fields[j] = iceberg.PartitionField{
				SourceID:  f.SourceID,
				FieldID:   f.FieldID,
				Name:      f.Name,
				Transform: f.Transform,
			}
		}
		partitionSpecs[i] = iceberg.PartitionSpec{
			SpecID: ps.SpecID,
			Fields: fields,
		}
	}

	snapshots := make([]iceberg.Snapshot, len(resp.Metadata.Snapshots))
	for i, s := range resp.Metadata.Snapshots {
		var parent int64
		if s.ParentSnapshotID != nil {
			parent = *s.ParentSnapshotID
		}
		snapshots[i] = iceberg.Snapshot{
			SnapshotID:       s.SnapshotID,
			ParentSnapshotID: parent,
			SequenceNumber:   s.SequenceNumber,
			TimestampMs:      s.TimestampMs,
			ManifestList:     s.ManifestList,
			Summary:          s.Summary,
		}
	}

	var current int64 = iceberg.NoSnapshotID
	if resp.Metadata.CurrentSnapshotID != nil {
		current = *resp.Metadata.CurrentSnapshotID
	}

	return &iceberg.TableMetadata{
		FormatVersion:     resp.Metadata.FormatVersion,
		TableUUID:         resp.Metadata.TableUUID,
		Location:          resp.Metadata.Location,
		LastUpdatedMs:     resp.Metadata.LastUpdatedMs,
		Schemas:           schemas,
		CurrentSchemaID:   resp.Metadata.CurrentSchemaID,
		PartitionSpecs:    partitionSpecs,
		DefaultSpecID:     resp.Metadata.DefaultSpecID,
		Properties:        resp.Metadata.Properties,
		CurrentSnapshotID: current,
		Snapshots:         snapshots,
	}
}

// Ensure RESTCatalog implements Catalog interface.
var _ Catalog = (*RESTCatalog)(nil)
