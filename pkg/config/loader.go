package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// edgeYAMLConfig represents the complete edge.yaml file structure. Any
// section the operator omits is left nil and falls back to its built-in
// default.
type edgeYAMLConfig struct {
	Scheduler  *SchedulerConfig  `yaml:"scheduler"`
	Cache      *CacheConfig      `yaml:"cache"`
	Telemetry  *TelemetryConfig  `yaml:"telemetry"`
	VKP        *VKPConfig        `yaml:"vkp"`
	Curriculum *CurriculumConfig `yaml:"curriculum"`
	Backup     *BackupConfig     `yaml:"backup"`
	Health     *HealthConfig     `yaml:"health"`
	Store      *StoreConfig      `yaml:"store"`
	LLM        *LLMConfig        `yaml:"llm"`
	Embedder   *EmbedderConfig   `yaml:"embedder"`
	Sovereign  *SovereignConfig  `yaml:"sovereign"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load edge.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge user-defined configuration over built-in defaults
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"workers", stats.Workers,
		"queue_capacity", stats.QueueCapacity,
		"cache_max_entries", stats.CacheMaxEntries,
		"telemetry_buffer_size", stats.TelemetryBufferSize,
		"sovereign_mode", stats.SovereignMode)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	yamlCfg, err := loader.loadEdgeYAML()
	if err != nil {
		return nil, NewLoadError("edge.yaml", err)
	}

	scheduler := DefaultSchedulerConfig()
	if yamlCfg.Scheduler != nil {
		if err := mergo.Merge(scheduler, yamlCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	cache := DefaultCacheConfig()
	if yamlCfg.Cache != nil {
		if err := mergo.Merge(cache, yamlCfg.Cache, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cache config: %w", err)
		}
	}

	telemetry := DefaultTelemetryConfig()
	if yamlCfg.Telemetry != nil {
		if err := mergo.Merge(telemetry, yamlCfg.Telemetry, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge telemetry config: %w", err)
		}
	}

	vkp := DefaultVKPConfig()
	if yamlCfg.VKP != nil {
		if err := mergo.Merge(vkp, yamlCfg.VKP, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge vkp config: %w", err)
		}
	}

	curriculum := DefaultCurriculumConfig()
	if yamlCfg.Curriculum != nil {
		if err := mergo.Merge(curriculum, yamlCfg.Curriculum, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge curriculum config: %w", err)
		}
	}

	backup := DefaultBackupConfig()
	if yamlCfg.Backup != nil {
		if err := mergo.Merge(backup, yamlCfg.Backup, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge backup config: %w", err)
		}
	}

	health := DefaultHealthConfig()
	if yamlCfg.Health != nil {
		if err := mergo.Merge(health, yamlCfg.Health, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge health config: %w", err)
		}
	}

	store := DefaultStoreConfig()
	if yamlCfg.Store != nil {
		if err := mergo.Merge(store, yamlCfg.Store, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge store config: %w", err)
		}
	}

	llm := DefaultLLMConfig()
	if yamlCfg.LLM != nil {
		if err := mergo.Merge(llm, yamlCfg.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	embedder := DefaultEmbedderConfig()
	if yamlCfg.Embedder != nil {
		if err := mergo.Merge(embedder, yamlCfg.Embedder, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge embedder config: %w", err)
		}
	}

	sovereign := &SovereignConfig{}
	if yamlCfg.Sovereign != nil {
		sovereign = yamlCfg.Sovereign
	}

	return &Config{
		configDir:  configDir,
		Scheduler:  scheduler,
		Cache:      cache,
		Telemetry:  telemetry,
		VKP:        vkp,
		Curriculum: curriculum,
		Backup:     backup,
		Health:     health,
		Store:      store,
		LLM:        llm,
		Embedder:   embedder,
		Sovereign:  sovereign,
	}, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadEdgeYAML() (*edgeYAMLConfig, error) {
	path := filepath.Join(l.configDir, "edge.yaml")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// ExpandEnv substitutes ${VAR}/$VAR references before parsing; unset
	// variables expand to the empty string.
	data = ExpandEnv(data)

	var cfg edgeYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}
