package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds S3/MinIO configuration for the checkpoint backend.
type S3Config struct {
	// Endpoint is the S3/MinIO endpoint (e.g., "localhost:9000").
	Endpoint string

	// AccessKey is the access key.
	AccessKey string

	// SecretKey is the secret key.
	SecretKey string

	// UseSSL enables SSL for the connection.
	UseSSL bool

	// Region is the S3 region (optional for MinIO).
	Region string

	// Bucket holds the checkpoint objects.
	Bucket string

	// Prefix is prepended to every checkpoint key.
	Prefix string
}

// S3Manager stores each source's checkpoint as a JSON object.
type S3Manager struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Manager creates a checkpoint manager backed by object storage and
// ensures the bucket exists.
func NewS3Manager(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	m := &S3Manager{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With("component", "checkpoint-manager", "backend", BackendS3),
	}

	if err := m.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// ObjectKey returns the object key holding a source's checkpoint.
func (m *S3Manager) ObjectKey(sourceID string) string {
	return path.Join(m.prefix, "checkpoints", sourceID, "checkpoint.json")
}

// Save uploads the checkpoint, overwriting the previous object.
func (m *S3Manager) Save(ctx context.Context, record Record) error {
	if record.CommittedAt.IsZero() {
		record.CommittedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := m.ObjectKey(record.SourceID)
	info, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint saved",
		"source_id", record.SourceID,
		"checkpoint_id", record.CheckpointID,
		"key", key,
		"size", info.Size,
	)
	return nil
}

// Load downloads the checkpoint for a source, or nil if none exists.
func (m *S3Manager) Load(ctx context.Context, sourceID string) (*Record, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.ObjectKey(sourceID), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	defer obj.Close()

	var record Record
	if err := json.NewDecoder(obj).Decode(&record); err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &record, nil
}

// Delete removes the checkpoint object for a source.
func (m *S3Manager) Delete(ctx context.Context, sourceID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, m.ObjectKey(sourceID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	m.logger.Debug("checkpoint deleted", "source_id", sourceID)
	return nil
}

// Ping checks the bucket is reachable.
func (m *S3Manager) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", m.bucket)
	}
	return nil
}

// Backend returns BackendS3.
func (m *S3Manager) Backend() string { return BackendS3 }

// Close is a no-op; the minio client holds no closable resources.
func (m *S3Manager) Close() error { return nil }

func (m *S3Manager) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}

	m.logger.Info("bucket created", "bucket", m.bucket)
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ Manager = (*S3Manager)(nil)
