package config

import "fmt"

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at the
// first error). Order mirrors dependency order: scheduler and store come
// first since every other component assumes they're sound.
func (v *Validator) ValidateAll() error {
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}
	if err := v.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateEmbedder(); err != nil {
		return fmt.Errorf("embedder validation failed: %w", err)
	}
	if err := v.validateCache(); err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	if err := v.validateTelemetry(); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}
	if err := v.validateVKP(); err != nil {
		return fmt.Errorf("vkp validation failed: %w", err)
	}
	if err := v.validateCurriculum(); err != nil {
		return fmt.Errorf("curriculum validation failed: %w", err)
	}
	if err := v.validateBackup(); err != nil {
		return fmt.Errorf("backup validation failed: %w", err)
	}
	if err := v.validateHealth(); err != nil {
		return fmt.Errorf("health validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}
	if s.WorkerCount < 1 || s.WorkerCount > 256 {
		return fmt.Errorf("worker_count must be between 1 and 256, got %d", s.WorkerCount)
	}
	if s.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", s.QueueCapacity)
	}
	if s.AdmissionWindow < 0 {
		return fmt.Errorf("admission_window must be non-negative, got %v", s.AdmissionWindow)
	}
	if s.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %v", s.DrainTimeout)
	}
	return nil
}

func (v *Validator) validateStore() error {
	s := v.cfg.Store
	if s == nil {
		return fmt.Errorf("store configuration is nil")
	}
	if s.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if s.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be at least 1, got %d", s.MaxOpenConns)
	}
	if s.ConnMaxLifetime <= 0 {
		return fmt.Errorf("conn_max_lifetime must be positive, got %v", s.ConnMaxLifetime)
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if l == nil {
		return fmt.Errorf("llm configuration is nil")
	}
	if l.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if l.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", l.RequestTimeout)
	}
	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}
	return nil
}

func (v *Validator) validateEmbedder() error {
	e := v.cfg.Embedder
	if e == nil {
		return fmt.Errorf("embedder configuration is nil")
	}
	if e.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if e.Dimension < 1 {
		return fmt.Errorf("dimension must be at least 1, got %d", e.Dimension)
	}
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", e.RequestTimeout)
	}
	return nil
}

func (v *Validator) validateCache() error {
	c := v.cfg.Cache
	if c == nil {
		return fmt.Errorf("cache configuration is nil")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", c.TTL)
	}
	if c.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be at least 1, got %d", c.MaxEntries)
	}
	if v.cfg.Sovereign != nil && v.cfg.Sovereign.Enabled && c.RemoteAddr != "" {
		return fmt.Errorf("remote_addr must be empty in sovereign mode, got %q", c.RemoteAddr)
	}
	return nil
}

func (v *Validator) validateTelemetry() error {
	t := v.cfg.Telemetry
	if t == nil {
		return fmt.Errorf("telemetry configuration is nil")
	}
	if t.RingBufferSize < 1 {
		return fmt.Errorf("ring_buffer_size must be at least 1, got %d", t.RingBufferSize)
	}
	if t.AggregationTick <= 0 {
		return fmt.Errorf("aggregation_tick must be positive, got %v", t.AggregationTick)
	}
	if t.UploadInterval <= 0 {
		return fmt.Errorf("upload_interval must be positive, got %v", t.UploadInterval)
	}
	if t.UploadTimeout <= 0 {
		return fmt.Errorf("upload_timeout must be positive, got %v", t.UploadTimeout)
	}
	if t.UploadTimeout >= t.UploadInterval {
		return fmt.Errorf("upload_timeout must be less than upload_interval, got timeout=%v interval=%v", t.UploadTimeout, t.UploadInterval)
	}
	return nil
}

func (v *Validator) validateVKP() error {
	vkp := v.cfg.VKP
	if vkp == nil {
		return fmt.Errorf("vkp configuration is nil")
	}
	if vkp.MaxHistoryDepth < 0 {
		return fmt.Errorf("max_history_depth must be non-negative, got %d", vkp.MaxHistoryDepth)
	}
	return nil
}

func (v *Validator) validateCurriculum() error {
	c := v.cfg.Curriculum
	if c == nil {
		return fmt.Errorf("curriculum configuration is nil")
	}
	if c.PullInterval <= 0 {
		return fmt.Errorf("pull_interval must be positive, got %v", c.PullInterval)
	}
	if c.PullTimeout <= 0 {
		return fmt.Errorf("pull_timeout must be positive, got %v", c.PullTimeout)
	}
	if c.PullTimeout >= c.PullInterval {
		return fmt.Errorf("pull_timeout must be less than pull_interval, got timeout=%v interval=%v", c.PullTimeout, c.PullInterval)
	}
	if c.StagingDir == "" {
		return fmt.Errorf("staging_dir is required")
	}
	return nil
}

func (v *Validator) validateBackup() error {
	b := v.cfg.Backup
	if b == nil {
		return fmt.Errorf("backup configuration is nil")
	}
	if b.FullSchedule == "" {
		return fmt.Errorf("full_schedule is required")
	}
	if b.IncrementalSchedule == "" {
		return fmt.Errorf("incremental_schedule is required")
	}
	if b.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1, got %d", b.RetentionDays)
	}
	if b.SnapshotDir == "" {
		return fmt.Errorf("snapshot_dir is required")
	}
	return nil
}

func (v *Validator) validateHealth() error {
	h := v.cfg.Health
	if h == nil {
		return fmt.Errorf("health configuration is nil")
	}
	if h.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %v", h.CheckInterval)
	}
	if h.DiskWarnPct <= 0 || h.DiskWarnPct >= 100 {
		return fmt.Errorf("disk_warn_pct must be between 0 and 100, got %v", h.DiskWarnPct)
	}
	if h.DiskCritPct <= h.DiskWarnPct || h.DiskCritPct > 100 {
		return fmt.Errorf("disk_crit_pct must be greater than disk_warn_pct and at most 100, got warn=%v crit=%v", h.DiskWarnPct, h.DiskCritPct)
	}
	if h.MemWarnPct <= 0 || h.MemWarnPct >= 100 {
		return fmt.Errorf("mem_warn_pct must be between 0 and 100, got %v", h.MemWarnPct)
	}
	if h.MemCritPct <= h.MemWarnPct || h.MemCritPct > 100 {
		return fmt.Errorf("mem_crit_pct must be greater than mem_warn_pct and at most 100, got warn=%v crit=%v", h.MemWarnPct, h.MemCritPct)
	}
	return nil
}
