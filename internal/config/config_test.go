package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Version != "0.1.0" {
		t.Errorf("Version = %v, want %v", cfg.Version, "0.1.0")
	}
	if cfg.Source.FromSnapshotID != -1 {
		t.Errorf("Source.FromSnapshotID = %v, want -1", cfg.Source.FromSnapshotID)
	}
	if cfg.Source.MinPollInterval != time.Second {
		t.Errorf("Source.MinPollInterval = %v, want 1s", cfg.Source.MinPollInterval)
	}
	if cfg.Source.MaxPollInterval != 30*time.Second {
		t.Errorf("Source.MaxPollInterval = %v, want 30s", cfg.Source.MaxPollInterval)
	}
	if !cfg.Source.CaseSensitive {
		t.Error("Source.CaseSensitive should default to true")
	}
	if cfg.Source.RemainingSnapshots != -1 {
		t.Errorf("Source.RemainingSnapshots = %v, want -1", cfg.Source.RemainingSnapshots)
	}
	if !cfg.Source.AsOfTime.IsZero() {
		t.Errorf("Source.AsOfTime = %v, want zero", cfg.Source.AsOfTime)
	}
	if cfg.Scan.SplitTargetSize != 128<<20 || cfg.Scan.OpenFileCost != 4<<20 || cfg.Scan.Lookback != 10 {
		t.Errorf("Scan = %+v", cfg.Scan)
	}
	if cfg.Checkpoint.Backend != "sqlite" {
		t.Errorf("Checkpoint.Backend = %v, want sqlite", cfg.Checkpoint.Backend)
	}
	if cfg.API.Enabled {
		t.Error("API.Enabled should default to false")
	}
	if cfg.Sink.ParquetCompression != "snappy" {
		t.Errorf("Sink.ParquetCompression = %v, want snappy", cfg.Sink.ParquetCompression)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("SNAPSTREAM_SOURCE_TABLE", "db.events")
	t.Setenv("SNAPSTREAM_SOURCE_FROM_SNAPSHOT_ID", "8744736658442914487")
	t.Setenv("SNAPSTREAM_SOURCE_MIN_POLL_INTERVAL_MS", "250")
	t.Setenv("SNAPSTREAM_SOURCE_MAX_POLL_INTERVAL_MS", "4000")
	t.Setenv("SNAPSTREAM_SOURCE_CASE_SENSITIVE", "false")
	t.Setenv("SNAPSTREAM_SOURCE_REMAINING_SNAPSHOTS", "0")
	t.Setenv("SNAPSTREAM_SOURCE_SELECT", "id, payload ,")
	t.Setenv("SNAPSTREAM_CHECKPOINT_BACKEND", "s3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Source.Name != "db.events" {
		t.Errorf("Source.Name = %v, want table name", cfg.Source.Name)
	}
	if cfg.Source.FromSnapshotID != 8744736658442914487 {
		t.Errorf("Source.FromSnapshotID = %v", cfg.Source.FromSnapshotID)
	}
	if cfg.Source.MinPollInterval != 250*time.Millisecond || cfg.Source.MaxPollInterval != 4*time.Second {
		t.Errorf("poll intervals = %v/%v", cfg.Source.MinPollInterval, cfg.Source.MaxPollInterval)
	}
	if cfg.Source.CaseSensitive {
		t.Error("Source.CaseSensitive = true, want false")
	}
	if cfg.Source.RemainingSnapshots != 0 {
		t.Errorf("Source.RemainingSnapshots = %v, want 0", cfg.Source.RemainingSnapshots)
	}
	if strings.Join(cfg.Source.Select, "|") != "id|payload" {
		t.Errorf("Source.Select = %v, want [id payload]", cfg.Source.Select)
	}
	if cfg.Checkpoint.Backend != "s3" {
		t.Errorf("Checkpoint.Backend = %v, want s3", cfg.Checkpoint.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_AsOfTime(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"epoch millis", "1700000000000", time.UnixMilli(1700000000000), false},
		{"invalid", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SNAPSTREAM_SOURCE_AS_OF_TIME", tt.value)

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !cfg.Source.AsOfTime.Equal(tt.want) {
				t.Errorf("AsOfTime = %v, want %v", cfg.Source.AsOfTime, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing table", func(c *Config) { c.Source.Table = "" }, "SNAPSTREAM_SOURCE_TABLE"},
		{"max below min", func(c *Config) { c.Source.MaxPollInterval = 500 * time.Millisecond }, "max poll interval"},
		{"zero min", func(c *Config) { c.Source.MinPollInterval = 0 }, "min poll interval"},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }, "checkpoint backend"},
		{"disabled checkpoints skip backend", func(c *Config) { c.Checkpoint.Enabled = false; c.Checkpoint.Backend = "etcd" }, ""},
		{"schedule without interval", func(c *Config) { c.Checkpoint.Interval = 0; c.Checkpoint.Schedule = "@every 1m" }, ""},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "kafka" }, "sink kind"},
		{"parquet sink", func(c *Config) { c.Sink.Kind = "parquet" }, ""},
		{"bad parquet compression", func(c *Config) { c.Sink.Kind = "parquet"; c.Sink.ParquetCompression = "lz5" }, "parquet compression"},
		{"bad lookback", func(c *Config) { c.Scan.Lookback = 0 }, "lookback"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log level"},
		{"vault without address", func(c *Config) { c.Vault.Enabled = true }, "SNAPSTREAM_VAULT_ADDRESS"},
		{"vault bad auth", func(c *Config) { c.Vault.Enabled = true; c.Vault.Address = "http://vault:8200"; c.Vault.AuthMethod = "ldap" }, "vault auth method"},
		{"api auth without secret", func(c *Config) { c.API.AuthEnabled = true }, "SNAPSTREAM_API_JWT_SECRET"},
		{"api auth with secret", func(c *Config) { c.API.AuthEnabled = true; c.API.JWTSecret = "s3cret" }, ""},
		{"api auth secret from vault", func(c *Config) {
			c.API.AuthEnabled = true
			c.Vault.Enabled = true
			c.Vault.Address = "http://vault:8200"
			c.Vault.APISecretPath = "snapstream/api"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			cfg.Source.Table = "db.events"
			tt.modify(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "snap", User: "u", Password: "p", SSLMode: "disable"}
	want := "host=db port=5432 dbname=snap user=u password=p sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
