package config

// Config is the umbrella configuration object that encapsulates every
// component's tunables. This is the primary object returned by Initialize()
// and threaded through component constructors.
type Config struct {
	configDir string // configuration directory path (for reference)

	Scheduler  *SchedulerConfig
	Cache      *CacheConfig
	Telemetry  *TelemetryConfig
	VKP        *VKPConfig
	Curriculum *CurriculumConfig
	Backup     *BackupConfig
	Health     *HealthConfig
	Store      *StoreConfig
	LLM        *LLMConfig
	Embedder   *EmbedderConfig
	Sovereign  *SovereignConfig
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration, for startup logging.
type Stats struct {
	Workers             int
	QueueCapacity       int
	CacheMaxEntries     int
	TelemetryBufferSize int
	SovereignMode       bool
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		Workers:             c.Scheduler.WorkerCount,
		QueueCapacity:       c.Scheduler.QueueCapacity,
		CacheMaxEntries:     c.Cache.MaxEntries,
		TelemetryBufferSize: c.Telemetry.RingBufferSize,
		SovereignMode:       c.Sovereign.Enabled,
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
