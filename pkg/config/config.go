// Package config handles configuration for zylix-test.
//
// Values are layered: built-in defaults, then the workspace config.yaml,
// then a .env file, then ZYLIX_* process environment variables. Command
// line flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/executor"
	"github.com/devicelab-dev/zylix-test/pkg/flaky"
	"github.com/devicelab-dev/zylix-test/pkg/retry"
	"github.com/devicelab-dev/zylix-test/pkg/visual"
)

// Config represents the workspace configuration (config.yaml).
type Config struct {
	Platform string            `yaml:"platform"`
	Device   string            `yaml:"device"`
	Env      map[string]string `yaml:"env"` // Passed to task scripts

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// Bridge is the default endpoint; Bridges overrides it per platform.
	Bridge  Bridge            `yaml:"bridge"`
	Bridges map[string]Bridge `yaml:"bridges"`

	Executor Executor     `yaml:"executor"`
	Retry    Retry        `yaml:"retry"`
	Flaky    Flaky        `yaml:"flaky"`
	Visual   visual.Config `yaml:"visual"`
}

// Bridge locates an automation bridge. Zero fields fall back to the
// platform defaults.
type Bridge struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Executor holds run settings.
type Executor struct {
	Workers        int           `yaml:"workers"`
	WorkStealing   bool          `yaml:"work_stealing"`
	Shuffle        bool          `yaml:"shuffle"`
	Seed           int64         `yaml:"seed"`
	Shard          string        `yaml:"shard"`
	Tags           []string      `yaml:"tags"`
	RunQuarantined bool          `yaml:"run_quarantined"`
	FailFast       bool          `yaml:"fail_fast"`
	Timeout        time.Duration `yaml:"timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	ResetBetween   bool          `yaml:"reset_between_tasks"`
}

// Retry holds the whole-task retry policy.
type Retry struct {
	Strategy     string        `yaml:"strategy"`
	MaxRetries   int           `yaml:"max_retries"` // Default for tasks that set none
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
}

// Flaky holds quarantine settings and where history is kept.
type Flaky struct {
	flaky.Config `yaml:",inline"`
	HistoryPath  string `yaml:"history_path"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	rc := executor.DefaultConfig().Retry
	return &Config{
		LogLevel: "info",
		Executor: Executor{
			Timeout:     executor.DefaultConfig().DefaultTimeout,
			WaitTimeout: 10 * time.Second,
		},
		Retry: Retry{
			Strategy:     rc.Strategy.String(),
			InitialDelay: rc.InitialDelay,
			Multiplier:   2,
		},
		Flaky: Flaky{
			Config:      flaky.DefaultConfig(),
			HistoryPath: filepath.Join(GetStateDir(), "flaky-history.json"),
		},
		Visual: visual.DefaultConfig(),
	}
}

// Load reads a config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir looks for config.yaml or config.yml in the directory, then
// applies dir/.env and the process environment.
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()
	for _, name := range []string{"config.yaml", "config.yml"} {
		configPath := filepath.Join(dir, name)
		if _, err := os.Stat(configPath); err == nil {
			if cfg, err = Load(configPath); err != nil {
				return nil, err
			}
			break
		}
	}

	dotenv, err := readDotEnv(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// readDotEnv reads a .env file without touching the process environment.
// A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}
	return vars, nil
}

// envOverlay lists the ZYLIX_* variables. Nil fields were not set.
type envOverlay struct {
	Platform          *string        `envconfig:"ZYLIX_PLATFORM"`
	Device            *string        `envconfig:"ZYLIX_DEVICE"`
	LogLevel          *string        `envconfig:"ZYLIX_LOG_LEVEL"`
	LogFile           *string        `envconfig:"ZYLIX_LOG_FILE"`
	Host              *string        `envconfig:"ZYLIX_HOST"`
	Port              *int           `envconfig:"ZYLIX_PORT"`
	BridgeTimeout     *time.Duration `envconfig:"ZYLIX_BRIDGE_TIMEOUT"`
	RequestsPerSecond *float64       `envconfig:"ZYLIX_REQUESTS_PER_SECOND"`

	Workers        *int           `envconfig:"ZYLIX_WORKERS"`
	WorkStealing   *bool          `envconfig:"ZYLIX_WORK_STEALING"`
	Shuffle        *bool          `envconfig:"ZYLIX_SHUFFLE"`
	Seed           *int64         `envconfig:"ZYLIX_SEED"`
	Shard          *string        `envconfig:"ZYLIX_SHARD"`
	Tags           *string        `envconfig:"ZYLIX_TAGS"`
	RunQuarantined *bool          `envconfig:"ZYLIX_RUN_QUARANTINED"`
	FailFast       *bool          `envconfig:"ZYLIX_FAIL_FAST"`
	Timeout        *time.Duration `envconfig:"ZYLIX_TIMEOUT"`

	RetryStrategy *string        `envconfig:"ZYLIX_RETRY_STRATEGY"`
	Retries       *int           `envconfig:"ZYLIX_RETRIES"`
	RetryDelay    *time.Duration `envconfig:"ZYLIX_RETRY_DELAY"`

	QuarantineThreshold *int    `envconfig:"ZYLIX_QUARANTINE_THRESHOLD"`
	History             *string `envconfig:"ZYLIX_HISTORY"`

	BaselineDir *string  `envconfig:"ZYLIX_BASELINE_DIR"`
	Algorithm   *string  `envconfig:"ZYLIX_ALGORITHM"`
	Threshold   *float64 `envconfig:"ZYLIX_THRESHOLD"`
	MaxDiff     *float64 `envconfig:"ZYLIX_MAX_DIFF_PERCENTAGE"`
}

// ApplyEnv overlays ZYLIX_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var ov envOverlay
	if err := envconfig.Process("", &ov, lookup); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	setString(&c.Platform, ov.Platform)
	setString(&c.Device, ov.Device)
	setString(&c.LogLevel, ov.LogLevel)
	setString(&c.LogFile, ov.LogFile)
	setString(&c.Bridge.Host, ov.Host)
	set(&c.Bridge.Port, ov.Port)
	set(&c.Bridge.Timeout, ov.BridgeTimeout)
	set(&c.Bridge.RequestsPerSecond, ov.RequestsPerSecond)

	set(&c.Executor.Workers, ov.Workers)
	set(&c.Executor.WorkStealing, ov.WorkStealing)
	set(&c.Executor.Shuffle, ov.Shuffle)
	set(&c.Executor.Seed, ov.Seed)
	setString(&c.Executor.Shard, ov.Shard)
	if ov.Tags != nil {
		c.Executor.Tags = SplitList(*ov.Tags)
	}
	set(&c.Executor.RunQuarantined, ov.RunQuarantined)
	set(&c.Executor.FailFast, ov.FailFast)
	set(&c.Executor.Timeout, ov.Timeout)

	setString(&c.Retry.Strategy, ov.RetryStrategy)
	set(&c.Retry.MaxRetries, ov.Retries)
	set(&c.Retry.InitialDelay, ov.RetryDelay)

	set(&c.Flaky.QuarantineThreshold, ov.QuarantineThreshold)
	setString(&c.Flaky.HistoryPath, ov.History)

	setString(&c.Visual.BaselineDir, ov.BaselineDir)
	if ov.Algorithm != nil {
		a, err := visual.ParseAlgorithm(*ov.Algorithm)
		if err != nil {
			return fmt.Errorf("ZYLIX_ALGORITHM: %w", err)
		}
		c.Visual.Algorithm = a
	}
	set(&c.Visual.SimilarityThreshold, ov.Threshold)
	set(&c.Visual.MaxDiffPercentage, ov.MaxDiff)
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Platform != "" {
		if _, err := core.ParsePlatform(c.Platform); err != nil {
			return err
		}
	}
	if _, err := executor.ParseShard(c.Executor.Shard); err != nil {
		return err
	}
	if _, err := retry.ParseStrategy(c.Retry.Strategy); err != nil {
		return err
	}
	if c.Executor.Workers < 0 {
		return fmt.Errorf("executor.workers must not be negative")
	}
	if t := c.Visual.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("visual.similarity_threshold must be in [0,1], got %v", t)
	}
	return nil
}

// DriverConfig returns the bridge endpoint for p.
func (c *Config) DriverConfig(p core.Platform) core.DriverConfig {
	dc := core.DefaultDriverConfig(p)
	for _, b := range []Bridge{c.Bridge, c.Bridges[string(p)]} {
		if b.Host != "" {
			dc.Host = b.Host
		}
		if b.Port != 0 {
			dc.Port = b.Port
		}
		if b.Timeout > 0 {
			dc.Timeout = b.Timeout
		}
		if b.RequestsPerSecond > 0 {
			dc.RequestsPerSecond = b.RequestsPerSecond
		}
	}
	return dc
}

// RetryConfig converts the retry section. Invalid strategies fall back to
// exponential; Validate reports them.
func (c *Config) RetryConfig() retry.Config {
	s, _ := retry.ParseStrategy(c.Retry.Strategy)
	return retry.Config{
		Strategy:     s,
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
}

// ExecutorConfig converts the executor and retry sections. The driver
// factory, launch config and flaky handler are filled in by the caller.
func (c *Config) ExecutorConfig() (executor.Config, error) {
	shard, err := executor.ParseShard(c.Executor.Shard)
	if err != nil {
		return executor.Config{}, err
	}
	ec := executor.DefaultConfig()
	ec.Workers = c.Executor.Workers
	ec.WorkStealing = c.Executor.WorkStealing
	ec.Shuffle = c.Executor.Shuffle
	ec.Seed = c.Executor.Seed
	ec.Shard = shard
	ec.Tags = c.Executor.Tags
	ec.RunQuarantined = c.Executor.RunQuarantined
	ec.FailFast = c.Executor.FailFast
	ec.ResetBetweenTasks = c.Executor.ResetBetween
	if c.Executor.Timeout > 0 {
		ec.DefaultTimeout = c.Executor.Timeout
	}
	ec.Retry = c.RetryConfig()
	return ec, nil
}
