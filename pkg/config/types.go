package config

import "time"

// SchedulerConfig controls the bounded worker pool admitting queries (C3).
type SchedulerConfig struct {
	WorkerCount     int           `yaml:"worker_count"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	AdmissionWindow time.Duration `yaml:"admission_window"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
}

// CacheConfig controls the two-tier answer cache (C2).
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	RemoteAddr string        `yaml:"remote_addr,omitempty"` // empty = local tier only
}

// TelemetryConfig controls the ring buffer, aggregation, and upload
// pipeline (C8).
type TelemetryConfig struct {
	RingBufferSize  int           `yaml:"ring_buffer_size"`
	AggregationTick time.Duration `yaml:"aggregation_tick"`
	UploadInterval  time.Duration `yaml:"upload_interval"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
}

// VKPConfig controls knowledge-package installation and rollback depth (C6).
type VKPConfig struct {
	MaxHistoryDepth int `yaml:"max_history_depth"`
}

// CurriculumConfig controls the background curriculum puller (C7).
type CurriculumConfig struct {
	PullInterval time.Duration `yaml:"pull_interval"`
	PullTimeout  time.Duration `yaml:"pull_timeout"`
	StagingDir   string        `yaml:"staging_dir"`
}

// BackupConfig controls scheduled snapshots and retention (C9). Full and
// incremental run on independent cron-like schedules (spec §6:
// backup_full_schedule, backup_incremental_schedule).
type BackupConfig struct {
	FullSchedule        string `yaml:"full_schedule"`
	IncrementalSchedule string `yaml:"incremental_schedule"`
	RetentionDays       int    `yaml:"retention_days"`
	SnapshotDir         string `yaml:"snapshot_dir"`
}

// HealthConfig controls the resource-health monitor's warn/critical
// thresholds (C9).
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
	DiskWarnPct   float64       `yaml:"disk_warn_pct"`
	DiskCritPct   float64       `yaml:"disk_crit_pct"`
	MemWarnPct    float64       `yaml:"mem_warn_pct"`
	MemCritPct    float64       `yaml:"mem_crit_pct"`
}

// StoreConfig is the relational store connection.
type StoreConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig is the inference-backend streaming endpoint.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
}

// SovereignConfig toggles the fully-offline deployment posture: no remote
// cache tier, filesystem-backed blob store, telemetry upload disabled.
type SovereignConfig struct {
	Enabled bool `yaml:"enabled"`
}

// EmbedderConfig is the query-side embedding backend (spec §6
// embedding_fallback). Fallback reuses this same endpoint; there is no
// separate fallback URL, only a flag for whether the orchestrator may serve
// a degraded answer when it is unreachable.
type EmbedderConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Dimension          int           `yaml:"dimension"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	FallbackToNoAnswer bool          `yaml:"fallback_to_no_answer"`
}
