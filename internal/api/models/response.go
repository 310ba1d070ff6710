package models

import "time"

// VersionResponse represents the version information response.
type VersionResponse struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	GoVersion  string `json:"go_version"`
	BuildTime  string `json:"build_time,omitempty"`
	GitCommit  string `json:"git_commit,omitempty"`
}

// SourceStatusResponse describes a running source.
type SourceStatusResponse struct {
	Name              string     `json:"name"`
	State             string     `json:"state"`
	Cursor            int64      `json:"cursor"`
	PollIntervalMs    int64      `json:"poll_interval_ms"`
	MinPollIntervalMs int64      `json:"min_poll_interval_ms"`
	MaxPollIntervalMs int64      `json:"max_poll_interval_ms"`
	Cycles            int64      `json:"cycles"`
	SnapshotsConsumed int64      `json:"snapshots_consumed"`
	TasksEmitted      int64      `json:"tasks_emitted"`
	Errors            int64      `json:"errors"`
	LastProgressAt    *time.Time `json:"last_progress_at,omitempty"`
}

// CheckpointResponse describes a stored checkpoint.
type CheckpointResponse struct {
	SourceID     string    `json:"source_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Values       []int64   `json:"values"`
	CommittedAt  time.Time `json:"committed_at"`
}
