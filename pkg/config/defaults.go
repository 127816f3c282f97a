package config

import "time"

// DefaultSchedulerConfig returns the built-in worker-pool defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		WorkerCount:     4,
		QueueCapacity:   64,
		AdmissionWindow: 200 * time.Millisecond,
		DrainTimeout:    30 * time.Second,
	}
}

// DefaultCacheConfig returns the built-in answer-cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		TTL:        30 * time.Minute,
		MaxEntries: 2000,
	}
}

// DefaultTelemetryConfig returns the built-in telemetry defaults.
func DefaultTelemetryConfig() *TelemetryConfig {
	return &TelemetryConfig{
		RingBufferSize:  4096,
		AggregationTick: 1 * time.Hour,
		UploadInterval:  6 * time.Hour,
		UploadTimeout:   30 * time.Second,
	}
}

// DefaultVKPConfig returns the built-in VKP-manager defaults.
func DefaultVKPConfig() *VKPConfig {
	return &VKPConfig{
		MaxHistoryDepth: 3,
	}
}

// DefaultCurriculumConfig returns the built-in curriculum-puller defaults.
func DefaultCurriculumConfig() *CurriculumConfig {
	return &CurriculumConfig{
		PullInterval: 15 * time.Minute,
		PullTimeout:  2 * time.Minute,
		StagingDir:   "/var/lib/edgenode/staging",
	}
}

// DefaultBackupConfig returns the built-in backup defaults.
func DefaultBackupConfig() *BackupConfig {
	return &BackupConfig{
		FullSchedule:        "0 3 * * 0",
		IncrementalSchedule: "0 3 * * *",
		RetentionDays:       28,
		SnapshotDir:         "/var/lib/edgenode/snapshots",
	}
}

// DefaultHealthConfig returns the built-in health-monitor thresholds.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		CheckInterval: 5 * time.Minute,
		DiskWarnPct:   80,
		DiskCritPct:   95,
		MemWarnPct:    80,
		MemCritPct:    95,
	}
}

// DefaultStoreConfig returns the built-in relational-store defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		MaxOpenConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultLLMConfig returns the built-in inference-backend defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		RequestTimeout: 60 * time.Second,
		MaxTokens:      512,
	}
}

// DefaultEmbedderConfig returns the built-in embedding-backend defaults.
func DefaultEmbedderConfig() *EmbedderConfig {
	return &EmbedderConfig{
		RequestTimeout:     30 * time.Second,
		FallbackToNoAnswer: true,
	}
}
