package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/retry"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, `
platform: ios
device: iPhone-15
env:
  USER: test
log_level: debug
bridge:
  host: 10.0.0.5
  timeout: 45s
bridges:
  ios:
    port: 8101
executor:
  workers: 4
  shard: 1/3
  tags: [smoke]
  timeout: 2m
retry:
  strategy: linear
  max_retries: 2
  initial_delay: 250ms
flaky:
  quarantine_threshold: 5
  history_path: /tmp/history.json
visual:
  algorithm: ssim
  similarity_threshold: 0.9
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != "ios" || cfg.Device != "iPhone-15" {
		t.Errorf("unexpected platform/device: %q %q", cfg.Platform, cfg.Device)
	}
	if cfg.Env["USER"] != "test" {
		t.Errorf("expected env USER=test, got %v", cfg.Env)
	}
	if cfg.Executor.Workers != 4 || cfg.Executor.Shard != "1/3" || cfg.Executor.Timeout != 2*time.Minute {
		t.Errorf("unexpected executor section: %+v", cfg.Executor)
	}
	if cfg.Flaky.QuarantineThreshold != 5 || cfg.Flaky.HistoryPath != "/tmp/history.json" {
		t.Errorf("unexpected flaky section: %+v", cfg.Flaky)
	}
	if !cfg.Flaky.AutoQuarantine {
		t.Error("expected unset flaky fields to keep their defaults")
	}
	if cfg.Visual.Algorithm != visual.AlgorithmSSIM || cfg.Visual.SimilarityThreshold != 0.9 {
		t.Errorf("unexpected visual section: %+v", cfg.Visual)
	}
	if cfg.Visual.MaxVersions != visual.DefaultConfig().MaxVersions {
		t.Errorf("expected default max versions, got %d", cfg.Visual.MaxVersions)
	}

	rc := cfg.RetryConfig()
	if rc.Strategy != retry.StrategyLinear || rc.MaxRetries != 2 || rc.InitialDelay != 250*time.Millisecond {
		t.Errorf("unexpected retry config: %+v", rc)
	}

	dc := cfg.DriverConfig(core.PlatformIOS)
	if dc.Host != "10.0.0.5" || dc.Port != 8101 || dc.Timeout != 45*time.Second {
		t.Errorf("unexpected ios driver config: %+v", dc)
	}
	dc = cfg.DriverConfig(core.PlatformAndroid)
	if dc.Host != "10.0.0.5" || dc.Port != core.PlatformAndroid.DefaultPort() {
		t.Errorf("unexpected android driver config: %+v", dc)
	}

	ec, err := cfg.ExecutorConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ec.Shard.Index != 1 || ec.Shard.Total != 3 || ec.DefaultTimeout != 2*time.Minute {
		t.Errorf("unexpected executor config: %+v", ec)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	writeFile(t, configPath, "executor: [unclosed")

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFromDir_Defaults(t *testing.T) {
	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.Visual.BaselineDir != "baselines" {
		t.Errorf("expected default baseline dir, got %q", cfg.Visual.BaselineDir)
	}
}

func TestLoadFromDir_YmlExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yml"), "platform: android\n")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Platform != "android" {
		t.Errorf("expected platform android, got %q", cfg.Platform)
	}
}

func TestLoadFromDir_Layering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "executor:\n  workers: 2\nvisual:\n  baseline_dir: yaml-baselines\n")
	writeFile(t, filepath.Join(dir, ".env"), "ZYLIX_WORKERS=6\nZYLIX_SHARD=0/2\nZYLIX_BASELINE_DIR=dotenv-baselines\n")
	t.Setenv("ZYLIX_SHARD", "1/2")

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Executor.Workers != 6 {
		t.Errorf("expected .env to override YAML workers, got %d", cfg.Executor.Workers)
	}
	if cfg.Executor.Shard != "1/2" {
		t.Errorf("expected process env to override .env shard, got %q", cfg.Executor.Shard)
	}
	if cfg.Visual.BaselineDir != "dotenv-baselines" {
		t.Errorf("expected .env baseline dir, got %q", cfg.Visual.BaselineDir)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"ZYLIX_PLATFORM":       "web",
		"ZYLIX_PORT":           "4444",
		"ZYLIX_TAGS":           "smoke, auth,,",
		"ZYLIX_SHUFFLE":        "true",
		"ZYLIX_SEED":           "42",
		"ZYLIX_TIMEOUT":        "90s",
		"ZYLIX_RETRY_STRATEGY": "immediate",
		"ZYLIX_ALGORITHM":      "phash",
		"ZYLIX_THRESHOLD":      "0.8",
	}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Platform != "web" || cfg.Bridge.Port != 4444 {
		t.Errorf("unexpected platform/port: %q %d", cfg.Platform, cfg.Bridge.Port)
	}
	if strings.Join(cfg.Executor.Tags, "|") != "smoke|auth" {
		t.Errorf("unexpected tags: %v", cfg.Executor.Tags)
	}
	if !cfg.Executor.Shuffle || cfg.Executor.Seed != 42 || cfg.Executor.Timeout != 90*time.Second {
		t.Errorf("unexpected executor: %+v", cfg.Executor)
	}
	if cfg.Retry.Strategy != "immediate" {
		t.Errorf("unexpected strategy %q", cfg.Retry.Strategy)
	}
	if cfg.Visual.Algorithm != visual.AlgorithmPerceptualHash || cfg.Visual.SimilarityThreshold != 0.8 {
		t.Errorf("unexpected visual: %+v", cfg.Visual)
	}

	// Unset variables leave values alone.
	before := *cfg
	if err := cfg.ApplyEnv(noEnv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bridge.Port != before.Bridge.Port || cfg.Executor.Seed != before.Executor.Seed {
		t.Error("expected an empty environment to change nothing")
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"ZYLIX_WORKERS":   "many",
		"ZYLIX_ALGORITHM": "fuzzy",
	}
	for key, value := range tests {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) (string, bool) {
			if k == key {
				return value, true
			}
			return "", false
		})
		if err == nil {
			t.Errorf("%s=%s: expected error", key, value)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"platform", func(c *Config) { c.Platform = "amiga" }},
		{"shard", func(c *Config) { c.Executor.Shard = "3/3" }},
		{"strategy", func(c *Config) { c.Retry.Strategy = "sometimes" }},
		{"workers", func(c *Config) { c.Executor.Workers = -1 }},
		{"threshold", func(c *Config) { c.Visual.SimilarityThreshold = 1.5 }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
