// Package config provides configuration loading and management for snapstream services.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for snapstream services.
type Config struct {
	// Version is the application version
	Version string

	// Environment is the deployment environment (development, staging, production)
	Environment string

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string

	// Source configuration
	Source SourceConfig

	// Scan task combining configuration
	Scan ScanConfig

	// Iceberg catalog configuration
	Iceberg IcebergConfig

	// Checkpoint configuration
	Checkpoint CheckpointConfig

	// Database configuration shared by the postgres checkpoint backend and sink
	Database DatabaseConfig

	// MinIO/S3 configuration for the s3 checkpoint backend
	Storage StorageConfig

	// Sink configuration
	Sink SinkConfig

	// Retry policy for failed poll cycles
	Retry RetryConfig

	// Health check configuration
	Health HealthConfig

	// Metrics configuration
	Metrics MetricsConfig

	// Admin API configuration
	API APIConfig

	// Vault configuration for credentials
	Vault VaultConfig
}

// SourceConfig holds snapshot source configuration.
type SourceConfig struct {
	// Name identifies the source in checkpoints and metrics (defaults to Table)
	Name string

	// Table is the table to consume, as "namespace.table"
	Table string

	// FromSnapshotID is the starting cursor when no checkpoint exists (-1 starts from the oldest snapshot)
	FromSnapshotID int64

	// MinPollInterval is the poll interval after progress
	MinPollInterval time.Duration

	// MaxPollInterval caps the poll interval while idle
	MaxPollInterval time.Duration

	// AsOfTime hides snapshots committed after it (zero means unbounded)
	AsOfTime time.Time

	// CaseSensitive controls column name resolution for Select
	CaseSensitive bool

	// RemainingSnapshots bounds the number of poll cycles (negative means unbounded)
	RemainingSnapshots int64

	// Select is the column projection (empty selects all columns)
	Select []string

	// Filter is a row filter expression passed to the catalog
	Filter string

	// StallAfter marks the source degraded when no snapshot arrives for this long (0 disables)
	StallAfter time.Duration
}

// ScanConfig holds scan task splitting and combining settings.
type ScanConfig struct {
	// SplitTargetSize is the target size in bytes of a combined task
	SplitTargetSize int64

	// OpenFileCost is the minimum weight in bytes of a file split
	OpenFileCost int64

	// Lookback is the number of bins considered when packing
	Lookback int
}

// IcebergConfig holds Apache Iceberg catalog configuration.
type IcebergConfig struct {
	// CatalogURL is the REST catalog URL
	CatalogURL string

	// Warehouse is the warehouse name
	Warehouse string

	// Token is an optional bearer token
	Token string

	// RequestTimeout bounds a single catalog request
	RequestTimeout time.Duration

	// RequestsPerSecond paces catalog requests (0 disables pacing)
	RequestsPerSecond float64

	// PlanPollInterval is the wait between polls of an asynchronous scan plan
	PlanPollInterval time.Duration
}

// CheckpointConfig holds checkpointing configuration.
type CheckpointConfig struct {
	// Enabled enables checkpointing
	Enabled bool

	// Backend is the checkpoint store (memory, postgres, sqlite, s3)
	Backend string

	// Interval is the interval between checkpoints
	Interval time.Duration

	// Schedule is an optional cron expression that overrides Interval
	Schedule string

	// SQLitePath is the database file for the sqlite backend
	SQLitePath string

	// S3Prefix is the key prefix for the s3 backend
	S3Prefix string
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the database host
	Host string

	// Port is the database port
	Port int

	// Name is the database name
	Name string

	// User is the database user
	User string

	// Password is the database password
	Password string

	// SSLMode is the SSL mode (disable, require, verify-ca, verify-full)
	SSLMode string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode,
	)
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Endpoint is the S3/MinIO endpoint
	Endpoint string

	// AccessKey is the access key
	AccessKey string

	// SecretKey is the secret key
	SecretKey string

	// Bucket is the bucket name
	Bucket string

	// Region is the bucket region
	Region string

	// UseSSL enables SSL for the connection
	UseSSL bool
}

// SinkConfig holds output sink configuration.
type SinkConfig struct {
	// Kind is the sink type (log, postgres, parquet)
	Kind string

	// ParquetPrefix is the object key prefix for parquet task files
	ParquetPrefix string

	// ParquetCompression is the parquet compression codec (snappy, gzip, zstd, uncompressed)
	ParquetCompression string

	// Retention is how long acknowledged tasks are kept in the postgres queue
	Retention time.Duration

	// CleanupInterval is how often the postgres queue is cleaned up
	CleanupInterval time.Duration
}

// RetryConfig holds retry policy configuration.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per poll cycle
	MaxAttempts int

	// InitialInterval is the initial backoff interval
	InitialInterval time.Duration

	// MaxInterval is the maximum backoff interval
	MaxInterval time.Duration

	// Multiplier is the backoff multiplier
	Multiplier float64
}

// HealthConfig holds health check configuration.
type HealthConfig struct {
	// Enabled enables health check endpoints
	Enabled bool

	// ListenAddr is the address for health check endpoints
	ListenAddr string

	// ReadinessTimeout is how long to wait for readiness checks
	ReadinessTimeout time.Duration
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection
	Enabled bool

	// ListenAddr is the address for the metrics endpoint
	ListenAddr string
}

// APIConfig holds admin API configuration.
type APIConfig struct {
	// Enabled starts the admin API alongside the source
	Enabled bool

	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// CORSOrigins is a list of allowed CORS origins (use "*" for all)
	CORSOrigins []string

	// RateLimitRPS is the rate limit in requests per second
	RateLimitRPS float64

	// RateLimitBurst is the maximum burst size for rate limiting
	RateLimitBurst int

	// AuthEnabled requires a bearer JWT on the routes that change state
	AuthEnabled bool

	// JWTSecret is the HS256 signing secret of accepted tokens
	JWTSecret string

	// JWTIssuer, when set, must match the token's "iss" claim
	JWTIssuer string
}

// VaultConfig holds HashiCorp Vault configuration.
type VaultConfig struct {
	// Enabled reads credentials from Vault at startup
	Enabled bool

	// Address is the Vault server URL
	Address string

	// Namespace is the Vault namespace (Enterprise feature)
	Namespace string

	// AuthMethod is the authentication method (kubernetes, token)
	AuthMethod string

	// Role is the Vault role for Kubernetes authentication
	Role string

	// TokenPath is the path to the Kubernetes service account token
	TokenPath string

	// Token is a static Vault token (for development/testing)
	Token string

	// TLSSkipVerify skips TLS certificate verification
	TLSSkipVerify bool

	// CACert is the path to a CA certificate file
	CACert string

	// SecretMountPath is the mount path for the KV v2 secrets engine
	SecretMountPath string

	// FallbackToEnv keeps the environment credentials if Vault is unavailable
	FallbackToEnv bool

	// CatalogSecretPath holds the catalog token (key "token")
	CatalogSecretPath string

	// DatabaseSecretPath holds the postgres password (key "password")
	DatabaseSecretPath string

	// StorageSecretPath holds the S3/MinIO keys (keys "access_key", "secret_key")
	StorageSecretPath string

	// APISecretPath holds the admin API JWT secret (key "jwt_secret")
	APISecretPath string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	asOf, err := getTimeEnv("SNAPSTREAM_SOURCE_AS_OF_TIME")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Version:     getEnv("SNAPSTREAM_VERSION", "0.1.0"),
		Environment: getEnv("SNAPSTREAM_ENV", "development"),
		LogLevel:    getEnv("SNAPSTREAM_LOG_LEVEL", "info"),

		Source: SourceConfig{
			Name:               getEnv("SNAPSTREAM_SOURCE_NAME", ""),
			Table:              getEnv("SNAPSTREAM_SOURCE_TABLE", ""),
			FromSnapshotID:     getInt64Env("SNAPSTREAM_SOURCE_FROM_SNAPSHOT_ID", -1),
			MinPollInterval:    getMillisEnv("SNAPSTREAM_SOURCE_MIN_POLL_INTERVAL_MS", time.Second),
			MaxPollInterval:    getMillisEnv("SNAPSTREAM_SOURCE_MAX_POLL_INTERVAL_MS", 30*time.Second),
			AsOfTime:           asOf,
			CaseSensitive:      getBoolEnv("SNAPSTREAM_SOURCE_CASE_SENSITIVE", true),
			RemainingSnapshots: getInt64Env("SNAPSTREAM_SOURCE_REMAINING_SNAPSHOTS", -1),
			Select:             getSliceEnv("SNAPSTREAM_SOURCE_SELECT", nil),
			Filter:             getEnv("SNAPSTREAM_SOURCE_FILTER", ""),
			StallAfter:         getDurationEnv("SNAPSTREAM_SOURCE_STALL_AFTER", 0),
		},

		Scan: ScanConfig{
			SplitTargetSize: getInt64Env("SNAPSTREAM_SCAN_SPLIT_TARGET_SIZE", 128<<20),
			OpenFileCost:    getInt64Env("SNAPSTREAM_SCAN_OPEN_FILE_COST", 4<<20),
			Lookback:        getIntEnv("SNAPSTREAM_SCAN_LOOKBACK", 10),
		},

		Iceberg: IcebergConfig{
			CatalogURL:        getEnv("SNAPSTREAM_ICEBERG_CATALOG_URL", "http://localhost:8181"),
			Warehouse:         getEnv("SNAPSTREAM_ICEBERG_WAREHOUSE", "snapstream"),
			Token:             getEnv("SNAPSTREAM_ICEBERG_TOKEN", ""),
			RequestTimeout:    getDurationEnv("SNAPSTREAM_ICEBERG_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getFloatEnv("SNAPSTREAM_ICEBERG_REQUESTS_PER_SECOND", 0),
			PlanPollInterval:  getDurationEnv("SNAPSTREAM_ICEBERG_PLAN_POLL_INTERVAL", 500*time.Millisecond),
		},

		Checkpoint: CheckpointConfig{
			Enabled:    getBoolEnv("SNAPSTREAM_CHECKPOINT_ENABLED", true),
			Backend:    getEnv("SNAPSTREAM_CHECKPOINT_BACKEND", "sqlite"),
			Interval:   getDurationEnv("SNAPSTREAM_CHECKPOINT_INTERVAL", 10*time.Second),
			Schedule:   getEnv("SNAPSTREAM_CHECKPOINT_SCHEDULE", ""),
			SQLitePath: getEnv("SNAPSTREAM_CHECKPOINT_SQLITE_PATH", "data/checkpoints.db"),
			S3Prefix:   getEnv("SNAPSTREAM_CHECKPOINT_S3_PREFIX", "snapstream"),
		},

		Database: DatabaseConfig{
			Host:         getEnv("SNAPSTREAM_DB_HOST", "localhost"),
			Port:         getIntEnv("SNAPSTREAM_DB_PORT", 5432),
			Name:         getEnv("SNAPSTREAM_DB_NAME", "snapstream"),
			User:         getEnv("SNAPSTREAM_DB_USER", "snapstream"),
			Password:     getEnv("SNAPSTREAM_DB_PASSWORD", "snapstream"),
			SSLMode:      getEnv("SNAPSTREAM_DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("SNAPSTREAM_DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getIntEnv("SNAPSTREAM_DB_MAX_IDLE_CONNS", 5),
		},

		Storage: StorageConfig{
			Endpoint:  getEnv("SNAPSTREAM_STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("SNAPSTREAM_STORAGE_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("SNAPSTREAM_STORAGE_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("SNAPSTREAM_STORAGE_BUCKET", "snapstream"),
			Region:    getEnv("SNAPSTREAM_STORAGE_REGION", ""),
			UseSSL:    getBoolEnv("SNAPSTREAM_STORAGE_USE_SSL", false),
		},

		Sink: SinkConfig{
			Kind:               getEnv("SNAPSTREAM_SINK_KIND", "log"),
			ParquetPrefix:      getEnv("SNAPSTREAM_SINK_PARQUET_PREFIX", "snapstream"),
			ParquetCompression: getEnv("SNAPSTREAM_SINK_PARQUET_COMPRESSION", "snappy"),
			Retention:          getDurationEnv("SNAPSTREAM_SINK_RETENTION", 168*time.Hour), // 7 days
			CleanupInterval:    getDurationEnv("SNAPSTREAM_SINK_CLEANUP_INTERVAL", time.Hour),
		},

		Retry: RetryConfig{
			MaxAttempts:     getIntEnv("SNAPSTREAM_RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getDurationEnv("SNAPSTREAM_RETRY_INITIAL_INTERVAL", time.Second),
			MaxInterval:     getDurationEnv("SNAPSTREAM_RETRY_MAX_INTERVAL", 30*time.Second),
			Multiplier:      getFloatEnv("SNAPSTREAM_RETRY_MULTIPLIER", 2.0),
		},

		Health: HealthConfig{
			Enabled:          getBoolEnv("SNAPSTREAM_HEALTH_ENABLED", true),
			ListenAddr:       getEnv("SNAPSTREAM_HEALTH_LISTEN_ADDR", ":8081"),
			ReadinessTimeout: getDurationEnv("SNAPSTREAM_HEALTH_READINESS_TIMEOUT", 5*time.Second),
		},

		Metrics: MetricsConfig{
			Enabled:    getBoolEnv("SNAPSTREAM_METRICS_ENABLED", true),
			ListenAddr: getEnv("SNAPSTREAM_METRICS_LISTEN_ADDR", ":9090"),
		},

		API: APIConfig{
			Enabled:        getBoolEnv("SNAPSTREAM_API_ENABLED", false),
			ListenAddr:     getEnv("SNAPSTREAM_API_LISTEN_ADDR", ":8080"),
			ReadTimeout:    getDurationEnv("SNAPSTREAM_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SNAPSTREAM_API_WRITE_TIMEOUT", 15*time.Second),
			CORSOrigins:    getSliceEnv("SNAPSTREAM_API_CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   getFloatEnv("SNAPSTREAM_API_RATE_LIMIT_RPS", 20),
			RateLimitBurst: getIntEnv("SNAPSTREAM_API_RATE_LIMIT_BURST", 40),
			AuthEnabled:    getBoolEnv("SNAPSTREAM_API_AUTH_ENABLED", false),
			JWTSecret:      getEnv("SNAPSTREAM_API_JWT_SECRET", ""),
			JWTIssuer:      getEnv("SNAPSTREAM_API_JWT_ISSUER", ""),
		},

		Vault: VaultConfig{
			Enabled:            getBoolEnv("SNAPSTREAM_VAULT_ENABLED", false),
			Address:            getEnv("SNAPSTREAM_VAULT_ADDRESS", ""),
			Namespace:          getEnv("SNAPSTREAM_VAULT_NAMESPACE", ""),
			AuthMethod:         getEnv("SNAPSTREAM_VAULT_AUTH_METHOD", "kubernetes"),
			Role:               getEnv("SNAPSTREAM_VAULT_ROLE", "snapstream"),
			TokenPath:          getEnv("SNAPSTREAM_VAULT_TOKEN_PATH", "/var/run/secrets/kubernetes.io/serviceaccount/token"),
			Token:              getEnv("SNAPSTREAM_VAULT_TOKEN", ""),
			TLSSkipVerify:      getBoolEnv("SNAPSTREAM_VAULT_TLS_SKIP_VERIFY", false),
			CACert:             getEnv("SNAPSTREAM_VAULT_CA_CERT", ""),
			SecretMountPath:    getEnv("SNAPSTREAM_VAULT_SECRET_MOUNT_PATH", "secret"),
			FallbackToEnv:      getBoolEnv("SNAPSTREAM_VAULT_FALLBACK_TO_ENV", true),
			CatalogSecretPath:  getEnv("SNAPSTREAM_VAULT_SECRET_PATH_CATALOG", ""),
			DatabaseSecretPath: getEnv("SNAPSTREAM_VAULT_SECRET_PATH_DATABASE", "snapstream/database"),
			StorageSecretPath:  getEnv("SNAPSTREAM_VAULT_SECRET_PATH_STORAGE", "snapstream/storage"),
			APISecretPath:      getEnv("SNAPSTREAM_VAULT_SECRET_PATH_API", ""),
		},
	}

	if cfg.Source.Name == "" {
		cfg.Source.Name = cfg.Source.Table
	}

	return cfg, nil
}

// Validate checks cross-field rules that Load cannot express through defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.Table == "" {
		errs = append(errs, errors.New("SNAPSTREAM_SOURCE_TABLE is required"))
	}
	if c.Source.MinPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("min poll interval must be positive, got %v", c.Source.MinPollInterval))
	}
	if c.Source.MaxPollInterval < c.Source.MinPollInterval {
		errs = append(errs, fmt.Errorf("max poll interval %v is less than min poll interval %v",
			c.Source.MaxPollInterval, c.Source.MinPollInterval))
	}
	if c.Scan.SplitTargetSize <= 0 {
		errs = append(errs, fmt.Errorf("split target size must be positive, got %d", c.Scan.SplitTargetSize))
	}
	if c.Scan.OpenFileCost < 0 {
		errs = append(errs, fmt.Errorf("open file cost must not be negative, got %d", c.Scan.OpenFileCost))
	}
	if c.Scan.Lookback < 1 {
		errs = append(errs, fmt.Errorf("lookback must be at least 1, got %d", c.Scan.Lookback))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}

	if c.Checkpoint.Enabled {
		switch c.Checkpoint.Backend {
		case "memory", "postgres", "sqlite", "s3":
		default:
			errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
		}
		if c.Checkpoint.Schedule == "" && c.Checkpoint.Interval <= 0 {
			errs = append(errs, fmt.Errorf("checkpoint interval must be positive, got %v", c.Checkpoint.Interval))
		}
	}

	switch c.Sink.Kind {
	case "log", "postgres":
	case "parquet":
		switch strings.ToLower(c.Sink.ParquetCompression) {
		case "snappy", "gzip", "zstd", "uncompressed":
		default:
			errs = append(errs, fmt.Errorf("unknown parquet compression %q", c.Sink.ParquetCompression))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", c.Sink.Kind))
	}

	if c.API.AuthEnabled && c.API.JWTSecret == "" && (!c.Vault.Enabled || c.Vault.APISecretPath == "") {
		errs = append(errs, errors.New("SNAPSTREAM_API_JWT_SECRET or SNAPSTREAM_VAULT_SECRET_PATH_API is required when API auth is enabled"))
	}

	if c.Vault.Enabled {
		if c.Vault.Address == "" {
			errs = append(errs, errors.New("SNAPSTREAM_VAULT_ADDRESS is required when vault is enabled"))
		}
		switch c.Vault.AuthMethod {
		case "kubernetes", "token":
		default:
			errs = append(errs, fmt.Errorf("unknown vault auth method %q", c.Vault.AuthMethod))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getMillisEnv reads an integer number of milliseconds.
func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getTimeEnv reads an RFC 3339 timestamp or epoch milliseconds. Unset yields the zero time.
func getTimeEnv(key string) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: expected RFC 3339 or epoch milliseconds: %w", key, err)
	}
	return t, nil
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := splitAndTrim(value, ","); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
