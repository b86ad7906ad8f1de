package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/ctxwindow/internal/memory"
)

const (
	DefaultMaxContextSize              = 32000
	DefaultWorkingMemorySize           = 128000
	DefaultCompressionStrategy         = memory.CompressionAdaptive
	DefaultCompressionTargetRatio      = 0.3
	DefaultCompressionQualityThreshold = 0.8
	DefaultRetrievalStrategy           = memory.RetrievalHybrid
	DefaultSimilarityThreshold         = 0.7
	DefaultMaxRetrievalResults         = 20
	DefaultCleanupIntervalMinutes      = 60
	DefaultCacheEntries                = memory.DefaultCacheEntries
	DefaultSnapshotFile                = "snapshot.db"
)

type Config struct {
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
}

type MemoryConfig struct {
	MaxContextSize              int     `json:"maxContextSize" yaml:"maxContextSize"`
	WorkingMemorySize           int     `json:"workingMemorySize" yaml:"workingMemorySize"`
	CompressionStrategy         string  `json:"compressionStrategy" yaml:"compressionStrategy"`
	CompressionTargetRatio      float64 `json:"compressionTargetRatio" yaml:"compressionTargetRatio"`
	CompressionQualityThreshold float64 `json:"compressionQualityThreshold" yaml:"compressionQualityThreshold"`
	RetrievalStrategy           string  `json:"retrievalStrategy" yaml:"retrievalStrategy"`
	SimilarityThreshold         float64 `json:"similarityThreshold" yaml:"similarityThreshold"`
	MaxRetrievalResults         int     `json:"maxRetrievalResults" yaml:"maxRetrievalResults"`
	CleanupIntervalMinutes      int     `json:"cleanupIntervalMinutes" yaml:"cleanupIntervalMinutes"`
	MetricsEnabled              bool    `json:"metricsEnabled" yaml:"metricsEnabled"`
	CacheEntries                int64   `json:"cacheEntries" yaml:"cacheEntries"`
}

type SnapshotConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

type ScheduleConfig struct {
	// Spec is a cron spec for the maintenance job. Empty means
	// "@every <cleanupIntervalMinutes>m".
	Spec string `json:"spec,omitempty" yaml:"spec,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			MaxContextSize:              DefaultMaxContextSize,
			WorkingMemorySize:           DefaultWorkingMemorySize,
			CompressionStrategy:         DefaultCompressionStrategy,
			CompressionTargetRatio:      DefaultCompressionTargetRatio,
			CompressionQualityThreshold: DefaultCompressionQualityThreshold,
			RetrievalStrategy:           DefaultRetrievalStrategy,
			SimilarityThreshold:         DefaultSimilarityThreshold,
			MaxRetrievalResults:         DefaultMaxRetrievalResults,
			CleanupIntervalMinutes:      DefaultCleanupIntervalMinutes,
			MetricsEnabled:              true,
			CacheEntries:                DefaultCacheEntries,
		},
		Snapshot: SnapshotConfig{
			Enabled: true,
			Path:    filepath.Join(ConfigDir(), DefaultSnapshotFile),
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".ctxwindow")
}

// ConfigPath prefers config.yaml when present and falls back to config.json.
func ConfigPath() string {
	yamlPath := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads path over the defaults and applies environment
// overrides. A missing file is not an error.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Memory.CompressionStrategy == "" {
		cfg.Memory.CompressionStrategy = DefaultCompressionStrategy
	}
	if cfg.Memory.RetrievalStrategy == "" {
		cfg.Memory.RetrievalStrategy = DefaultRetrievalStrategy
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = DefaultConfig().Snapshot.Path
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	m := &cfg.Memory
	if v, ok := envInt("CTXWINDOW_MAX_CONTEXT_SIZE"); ok {
		m.MaxContextSize = v
	}
	if v, ok := envInt("CTXWINDOW_WORKING_MEMORY_SIZE"); ok {
		m.WorkingMemorySize = v
	}
	if v := os.Getenv("CTXWINDOW_COMPRESSION_STRATEGY"); v != "" {
		m.CompressionStrategy = v
	}
	if v, ok := envFloat("CTXWINDOW_COMPRESSION_TARGET_RATIO"); ok {
		m.CompressionTargetRatio = v
	}
	if v, ok := envFloat("CTXWINDOW_COMPRESSION_QUALITY_THRESHOLD"); ok {
		m.CompressionQualityThreshold = v
	}
	if v := os.Getenv("CTXWINDOW_RETRIEVAL_STRATEGY"); v != "" {
		m.RetrievalStrategy = v
	}
	if v, ok := envFloat("CTXWINDOW_SIMILARITY_THRESHOLD"); ok {
		m.SimilarityThreshold = v
	}
	if v, ok := envInt("CTXWINDOW_MAX_RETRIEVAL_RESULTS"); ok {
		m.MaxRetrievalResults = v
	}
	if v, ok := envInt("CTXWINDOW_CLEANUP_INTERVAL"); ok {
		m.CleanupIntervalMinutes = v
	}
	if v, ok := envInt("CTXWINDOW_CACHE_ENTRIES"); ok {
		m.CacheEntries = int64(v)
	}
	if v := os.Getenv("CTXWINDOW_METRICS_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			m.MetricsEnabled = parsed
		}
	}
	if v := os.Getenv("CTXWINDOW_SNAPSHOT_PATH"); v != "" {
		cfg.Snapshot.Path = v
	}
	if v := os.Getenv("CTXWINDOW_SNAPSHOT_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Snapshot.Enabled = parsed
		}
	}
	if v := os.Getenv("CTXWINDOW_SCHEDULE"); v != "" {
		cfg.Schedule.Spec = v
	}
}

// Unparseable values are ignored, like an unset variable.
func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ContextConfig converts the memory section into the controller's configuration.
func (c *Config) ContextConfig() memory.ContextConfig {
	return memory.ContextConfig{
		MaxContextSize:              c.Memory.MaxContextSize,
		WorkingMemorySize:           c.Memory.WorkingMemorySize,
		CompressionStrategy:         c.Memory.CompressionStrategy,
		CompressionTargetRatio:      c.Memory.CompressionTargetRatio,
		CompressionQualityThreshold: c.Memory.CompressionQualityThreshold,
		RetrievalStrategy:           c.Memory.RetrievalStrategy,
		SimilarityThreshold:         c.Memory.SimilarityThreshold,
		MaxRetrievalResults:         c.Memory.MaxRetrievalResults,
		CleanupIntervalMinutes:      c.Memory.CleanupIntervalMinutes,
		MetricsEnabled:              c.Memory.MetricsEnabled,
	}
}

// ScheduleSpec returns the cron spec for the maintenance job.
func (c *Config) ScheduleSpec() string {
	if c.Schedule.Spec != "" {
		return c.Schedule.Spec
	}
	minutes := c.Memory.CleanupIntervalMinutes
	if minutes <= 0 {
		minutes = 1
	}
	return fmt.Sprintf("@every %dm", minutes)
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
