package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/janovincze/snapstream/internal/iceberg"
)

// KindParquet writes every task as a parquet file to object storage.
const KindParquet = "parquet"

// ParquetConfig configures a ParquetSink.
type ParquetConfig struct {
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

	// Bucket receives the task files.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// SourceID is written into every row and names the key directory.
	SourceID string

	// Compression is one of snappy, gzip, zstd or uncompressed.
	Compression string
}

// TaskRecord is one file range of an emitted task.
// The struct tags define the Parquet schema.
type TaskRecord struct {
	SourceID        string `parquet:"name=source_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TaskID          string `parquet:"name=task_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Position        int32  `parquet:"name=position, type=INT32"`
	FilePath        string `parquet:"name=file_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	FileFormat      string `parquet:"name=file_format, type=BYTE_ARRAY, convertedtype=UTF8"`
	Start           int64  `parquet:"name=start, type=INT64"`
	Length          int64  `parquet:"name=length, type=INT64"`
	RecordCount     int64  `parquet:"name=record_count, type=INT64"`
	FileSizeInBytes int64  `parquet:"name=file_size_in_bytes, type=INT64"`
	ResidualFilter  string `parquet:"name=residual_filter, type=BYTE_ARRAY, convertedtype=UTF8"`
	Partition       string `parquet:"name=partition, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt       int64  `parquet:"name=emitted_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type putFunc func(ctx context.Context, key string, data []byte) error

// ParquetSink uploads one parquet file per task. A task is durable once
// Collect returns, so nothing is buffered across checkpoints.
type ParquetSink struct {
	put      putFunc
	prefix   string
	sourceID string
	codec    parquet.CompressionCodec
	now      func() time.Time
	logger   *slog.Logger
}

// NewParquetSink creates a parquet sink and ensures its bucket exists.
func NewParquetSink(ctx context.Context, cfg ParquetConfig, logger *slog.Logger) (*ParquetSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	put := func(ctx context.Context, key string, data []byte) error {
		_, err := client.PutObject(ctx, cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/vnd.apache.parquet",
		})
		return err
	}
	return newParquetSink(put, cfg, logger)
}

func newParquetSink(put putFunc, cfg ParquetConfig, logger *slog.Logger) (*ParquetSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &ParquetSink{
		put:      put,
		prefix:   cfg.Prefix,
		sourceID: cfg.SourceID,
		codec:    codec,
		now:      time.Now,
		logger:   logger.With("component", "parquet-sink"),
	}, nil
}

// Collect implements Sink.
func (s *ParquetSink) Collect(ctx context.Context, task iceberg.CombinedScanTask) error {
	taskID := uuid.NewString()
	emittedAt := s.now()

	data, err := s.encode(taskID, emittedAt, task)
	if err != nil {
		recordWrite(KindParquet, err)
		return err
	}

	key := path.Join(s.prefix, "tasks", s.sourceID, fmt.Sprintf("%d-%s.parquet", emittedAt.UnixMilli(), taskID))
	if err := s.put(ctx, key, data); err != nil {
		recordWrite(KindParquet, err)
		return fmt.Errorf("upload task file: %w", err)
	}
	recordWrite(KindParquet, nil)

	s.logger.Debug("task file written",
		"key", key,
		"files", len(task.Files),
		"size_bytes", len(data),
	)
	return nil
}

func (s *ParquetSink) encode(taskID string, emittedAt time.Time, task iceberg.CombinedScanTask) ([]byte, error) {
	fw := buffer.NewBufferFileFromBytes(nil)
	pw, err := writer.NewParquetWriter(fw, new(TaskRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = s.codec

	for i, f := range task.Files {
		partition := ""
		if len(f.File.PartitionData) > 0 {
			raw, err := json.Marshal(f.File.PartitionData)
			if err != nil {
				return nil, fmt.Errorf("marshal partition: %w", err)
			}
			partition = string(raw)
		}

		if err := pw.Write(&TaskRecord{
			SourceID:        s.sourceID,
			TaskID:          taskID,
			Position:        int32(i),
			FilePath:        f.File.FilePath,
			FileFormat:      f.File.FileFormat,
			Start:           f.Start,
			Length:          f.Length,
			RecordCount:     f.File.RecordCount,
			FileSizeInBytes: f.File.FileSizeInBytes,
			ResidualFilter:  f.ResidualFilter,
			Partition:       partition,
			EmittedAt:       emittedAt.UnixMilli(),
		}); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return fw.Bytes(), nil
}

// Name implements Sink.
func (s *ParquetSink) Name() string { return KindParquet }

// Close implements Sink.
func (s *ParquetSink) Close() error { return nil }

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	case "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unknown parquet compression %q", name)
	}
}

var _ Sink = (*ParquetSink)(nil)
