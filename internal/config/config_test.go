package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CTXWINDOW_MAX_CONTEXT_SIZE",
		"CTXWINDOW_WORKING_MEMORY_SIZE",
		"CTXWINDOW_COMPRESSION_STRATEGY",
		"CTXWINDOW_COMPRESSION_TARGET_RATIO",
		"CTXWINDOW_COMPRESSION_QUALITY_THRESHOLD",
		"CTXWINDOW_RETRIEVAL_STRATEGY",
		"CTXWINDOW_SIMILARITY_THRESHOLD",
		"CTXWINDOW_MAX_RETRIEVAL_RESULTS",
		"CTXWINDOW_CLEANUP_INTERVAL",
		"CTXWINDOW_CACHE_ENTRIES",
		"CTXWINDOW_METRICS_ENABLED",
		"CTXWINDOW_SNAPSHOT_PATH",
		"CTXWINDOW_SNAPSHOT_ENABLED",
		"CTXWINDOW_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Memory.MaxContextSize != DefaultMaxContextSize {
		t.Errorf("maxContextSize = %d, want %d", cfg.Memory.MaxContextSize, DefaultMaxContextSize)
	}
	if cfg.Memory.WorkingMemorySize != DefaultWorkingMemorySize {
		t.Errorf("workingMemorySize = %d, want %d", cfg.Memory.WorkingMemorySize, DefaultWorkingMemorySize)
	}
	if cfg.Memory.RetrievalStrategy != DefaultRetrievalStrategy {
		t.Errorf("retrievalStrategy = %q, want %q", cfg.Memory.RetrievalStrategy, DefaultRetrievalStrategy)
	}
	if !cfg.Memory.MetricsEnabled {
		t.Error("metrics should be enabled by default")
	}
	if !cfg.Snapshot.Enabled {
		t.Error("snapshot should be enabled by default")
	}
	if filepath.Base(cfg.Snapshot.Path) != DefaultSnapshotFile {
		t.Errorf("snapshot path = %q", cfg.Snapshot.Path)
	}
	if err := cfg.ContextConfig().Validate(); err != nil {
		t.Errorf("default context config invalid: %v", err)
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.MaxContextSize != DefaultMaxContextSize {
		t.Errorf("expected default max context size, got %d", cfg.Memory.MaxContextSize)
	}
	want := filepath.Join(tmpDir, ".ctxwindow", DefaultSnapshotFile)
	if cfg.Snapshot.Path != want {
		t.Errorf("snapshot path = %q, want %q", cfg.Snapshot.Path, want)
	}
}

func TestLoadConfig_FromJSONFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfgDir := filepath.Join(tmpDir, ".ctxwindow")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	raw := `{
		"memory": {"maxContextSize": 500, "compressionStrategy": "truncate", "metricsEnabled": false},
		"snapshot": {"enabled": false}
	}`
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.MaxContextSize != 500 {
		t.Errorf("maxContextSize = %d, want 500", cfg.Memory.MaxContextSize)
	}
	if cfg.Memory.CompressionStrategy != "truncate" {
		t.Errorf("compressionStrategy = %q, want truncate", cfg.Memory.CompressionStrategy)
	}
	if cfg.Memory.MetricsEnabled {
		t.Error("metricsEnabled should be false")
	}
	if cfg.Memory.WorkingMemorySize != DefaultWorkingMemorySize {
		t.Errorf("unset field should keep default, got %d", cfg.Memory.WorkingMemorySize)
	}
	if cfg.Snapshot.Enabled {
		t.Error("snapshot should be disabled")
	}
}

func TestLoadConfig_PrefersYAML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	clearEnv(t)

	cfgDir := filepath.Join(tmpDir, ".ctxwindow")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(`{"memory":{"maxContextSize":1}}`), 0644); err != nil {
		t.Fatal(err)
	}
	raw := "memory:\n  maxContextSize: 2048\n  retrievalStrategy: keyword\nschedule:\n  spec: \"@every 5m\"\n"
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.MaxContextSize != 2048 {
		t.Errorf("maxContextSize = %d, want 2048", cfg.Memory.MaxContextSize)
	}
	if cfg.Memory.RetrievalStrategy != "keyword" {
		t.Errorf("retrievalStrategy = %q, want keyword", cfg.Memory.RetrievalStrategy)
	}
	if cfg.ScheduleSpec() != "@every 5m" {
		t.Errorf("schedule = %q", cfg.ScheduleSpec())
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("CTXWINDOW_MAX_CONTEXT_SIZE", "99")
	t.Setenv("CTXWINDOW_COMPRESSION_TARGET_RATIO", "0.5")
	t.Setenv("CTXWINDOW_RETRIEVAL_STRATEGY", "keyword")
	t.Setenv("CTXWINDOW_CLEANUP_INTERVAL", "15")
	t.Setenv("CTXWINDOW_METRICS_ENABLED", "false")
	t.Setenv("CTXWINDOW_SNAPSHOT_PATH", "/tmp/ctx.db")
	t.Setenv("CTXWINDOW_COMPRESSION_QUALITY_THRESHOLD", "0.65")
	t.Setenv("CTXWINDOW_CACHE_ENTRIES", "0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.MaxContextSize != 99 {
		t.Errorf("maxContextSize = %d, want 99", cfg.Memory.MaxContextSize)
	}
	if cfg.Memory.CompressionTargetRatio != 0.5 {
		t.Errorf("compressionTargetRatio = %v, want 0.5", cfg.Memory.CompressionTargetRatio)
	}
	if cfg.Memory.RetrievalStrategy != "keyword" {
		t.Errorf("retrievalStrategy = %q", cfg.Memory.RetrievalStrategy)
	}
	if cfg.Memory.MetricsEnabled {
		t.Error("metrics should be disabled by env")
	}
	if cfg.Snapshot.Path != "/tmp/ctx.db" {
		t.Errorf("snapshot path = %q", cfg.Snapshot.Path)
	}
	if cfg.ScheduleSpec() != "@every 15m" {
		t.Errorf("schedule = %q, want @every 15m", cfg.ScheduleSpec())
	}
	if cfg.Memory.CompressionQualityThreshold != 0.65 {
		t.Errorf("compressionQualityThreshold = %v, want 0.65", cfg.Memory.CompressionQualityThreshold)
	}
	if cfg.Memory.CacheEntries != 0 {
		t.Errorf("cacheEntries = %d, want 0", cfg.Memory.CacheEntries)
	}
}

func TestLoadConfig_BadEnvIgnored(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("CTXWINDOW_MAX_CONTEXT_SIZE", "lots")
	t.Setenv("CTXWINDOW_METRICS_ENABLED", "maybe")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.MaxContextSize != DefaultMaxContextSize {
		t.Errorf("maxContextSize = %d, want default", cfg.Memory.MaxContextSize)
	}
	if !cfg.Memory.MetricsEnabled {
		t.Error("metrics should stay enabled")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{invalid"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfigFrom(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfig_EmptyStrategies(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"memory":{"compressionStrategy":"","retrievalStrategy":""},"snapshot":{"path":""}}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom error: %v", err)
	}
	if cfg.Memory.CompressionStrategy != DefaultCompressionStrategy {
		t.Errorf("compressionStrategy = %q", cfg.Memory.CompressionStrategy)
	}
	if cfg.Memory.RetrievalStrategy != DefaultRetrievalStrategy {
		t.Errorf("retrievalStrategy = %q", cfg.Memory.RetrievalStrategy)
	}
	if cfg.Snapshot.Path == "" {
		t.Error("snapshot path should fall back to default")
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg := DefaultConfig()
	cfg.Memory.MaxContextSize = 4096

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ".ctxwindow", "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("parse saved config: %v", err)
	}
	if loaded.Memory.MaxContextSize != 4096 {
		t.Errorf("maxContextSize = %d, want 4096", loaded.Memory.MaxContextSize)
	}
}

func TestContextConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.MaxContextSize = 10
	cfg.Memory.CleanupIntervalMinutes = 0

	cc := cfg.ContextConfig()
	if cc.MaxContextSize != 10 {
		t.Errorf("MaxContextSize = %d, want 10", cc.MaxContextSize)
	}
	if cc.RetrievalStrategy != DefaultRetrievalStrategy {
		t.Errorf("RetrievalStrategy = %q", cc.RetrievalStrategy)
	}
	if cfg.ScheduleSpec() != "@every 1m" {
		t.Errorf("schedule = %q, want @every 1m", cfg.ScheduleSpec())
	}
}
