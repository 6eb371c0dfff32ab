// Package config provides configuration management for the queue engine.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AGENTOPS_*)
// 3. Project config (.agentops/config.yaml in cwd)
// 4. Home config (~/.agentops/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all queue-engine configuration.
type Config struct {
	// Output controls the default output format (table, json).
	Output string `yaml:"output" json:"output"`

	// BaseDir is the engine's data directory (default: .agents/aoq),
	// holding runs/, workspaces/ and queue.db.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Engine settings (worker loop tunables, spec §5 "Limits").
	Engine EngineConfig `yaml:"engine" json:"engine"`
}

// EngineConfig holds the durable-queue worker's tunables. Field names
// mirror spec §5's named constants so Load/merge/applyEnv can override any
// one of them independently.
type EngineConfig struct {
	// RunsRoot is the run-directory tree (default: <base_dir>/runs).
	RunsRoot string `yaml:"runs_root" json:"runs_root"`
	// WorkspacesRoot is the git-clone tree (default: <base_dir>/workspaces).
	WorkspacesRoot string `yaml:"workspaces_root" json:"workspaces_root"`
	// QueueDBPath is the embedded relational store file
	// (default: <base_dir>/queue.db).
	QueueDBPath string `yaml:"queue_db_path" json:"queue_db_path"`

	// LeaseTimeout bounds how long a crashed worker may hold a run's
	// lease before another worker may recover it. Default 5m.
	LeaseTimeout time.Duration `yaml:"lease_timeout" json:"lease_timeout"`
	// PollInterval is how often an idle worker checks for queued work.
	// Default 1s.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// RequeueSleep is the backoff after a denied lease acquisition.
	// Default 200ms.
	RequeueSleep time.Duration `yaml:"requeue_sleep" json:"requeue_sleep"`
	// HeartbeatInterval is how often an in-flight worker refreshes its
	// job and lease timestamps. Default 15s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// MaxAttempts is the per-job operational retry ceiling. Default 3.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// MaxPlanRetries is the plan phase's per-attempt ceiling. Default 2.
	MaxPlanRetries int `yaml:"max_plan_retries" json:"max_plan_retries"`
	// MaxImplementorRetries is the per-step implementor ceiling. Default 3.
	MaxImplementorRetries int `yaml:"max_implementor_retries" json:"max_implementor_retries"`
	// MaxReviewRetries is the per-run review-rejection budget. Default 3.
	MaxReviewRetries int `yaml:"max_review_retries" json:"max_review_retries"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput  = "table"
	defaultBaseDir = ".agents/aoq"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		BaseDir: defaultBaseDir,
		Verbose: false,
		Engine: EngineConfig{
			LeaseTimeout:          5 * time.Minute,
			PollInterval:          time.Second,
			RequeueSleep:          200 * time.Millisecond,
			HeartbeatInterval:     15 * time.Second,
			MaxAttempts:           3,
			MaxPlanRetries:        2,
			MaxImplementorRetries: 3,
			MaxReviewRetries:      3,
		},
	}
}

// RunsRootPath returns the configured runs root, defaulting to
// <base_dir>/runs when unset.
func (c *Config) RunsRootPath() string {
	if c.Engine.RunsRoot != "" {
		return c.Engine.RunsRoot
	}
	return filepath.Join(c.BaseDir, "runs")
}

// WorkspacesRootPath returns the configured workspaces root, defaulting to
// <base_dir>/workspaces when unset.
func (c *Config) WorkspacesRootPath() string {
	if c.Engine.WorkspacesRoot != "" {
		return c.Engine.WorkspacesRoot
	}
	return filepath.Join(c.BaseDir, "workspaces")
}

// QueueDBFilePath returns the configured queue database path, defaulting
// to <base_dir>/queue.db when unset.
func (c *Config) QueueDBFilePath() string {
	if c.Engine.QueueDBPath != "" {
		return c.Engine.QueueDBPath
	}
	return filepath.Join(c.BaseDir, "queue.db")
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load project config
	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentops", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("AGENTOPS_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".agentops", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("AGENTOPS_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("AGENTOPS_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if os.Getenv("AGENTOPS_VERBOSE") == "true" || os.Getenv("AGENTOPS_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("AGENTOPS_RUNS_ROOT"); v != "" {
		cfg.Engine.RunsRoot = v
	}
	if v := os.Getenv("AGENTOPS_WORKSPACES_ROOT"); v != "" {
		cfg.Engine.WorkspacesRoot = v
	}
	if v := os.Getenv("AGENTOPS_QUEUE_DB_PATH"); v != "" {
		cfg.Engine.QueueDBPath = v
	}
	if v := parseDurationEnv("AGENTOPS_LEASE_TIMEOUT"); v > 0 {
		cfg.Engine.LeaseTimeout = v
	}
	if v := parseDurationEnv("AGENTOPS_POLL_INTERVAL"); v > 0 {
		cfg.Engine.PollInterval = v
	}
	if v := parseDurationEnv("AGENTOPS_REQUEUE_SLEEP"); v > 0 {
		cfg.Engine.RequeueSleep = v
	}
	if v := parseDurationEnv("AGENTOPS_HEARTBEAT_INTERVAL"); v > 0 {
		cfg.Engine.HeartbeatInterval = v
	}
	if v := parseIntEnv("AGENTOPS_MAX_ATTEMPTS"); v > 0 {
		cfg.Engine.MaxAttempts = v
	}
	if v := parseIntEnv("AGENTOPS_MAX_PLAN_RETRIES"); v > 0 {
		cfg.Engine.MaxPlanRetries = v
	}
	if v := parseIntEnv("AGENTOPS_MAX_IMPLEMENTOR_RETRIES"); v > 0 {
		cfg.Engine.MaxImplementorRetries = v
	}
	if v := parseIntEnv("AGENTOPS_MAX_REVIEW_RETRIES"); v > 0 {
		cfg.Engine.MaxReviewRetries = v
	}
	return cfg
}

func parseDurationEnv(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func parseIntEnv(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.BaseDir != "" {
		dst.BaseDir = src.BaseDir
	}
	if src.Verbose {
		dst.Verbose = true
	}

	if src.Engine.RunsRoot != "" {
		dst.Engine.RunsRoot = src.Engine.RunsRoot
	}
	if src.Engine.WorkspacesRoot != "" {
		dst.Engine.WorkspacesRoot = src.Engine.WorkspacesRoot
	}
	if src.Engine.QueueDBPath != "" {
		dst.Engine.QueueDBPath = src.Engine.QueueDBPath
	}
	if src.Engine.LeaseTimeout != 0 {
		dst.Engine.LeaseTimeout = src.Engine.LeaseTimeout
	}
	if src.Engine.PollInterval != 0 {
		dst.Engine.PollInterval = src.Engine.PollInterval
	}
	if src.Engine.RequeueSleep != 0 {
		dst.Engine.RequeueSleep = src.Engine.RequeueSleep
	}
	if src.Engine.HeartbeatInterval != 0 {
		dst.Engine.HeartbeatInterval = src.Engine.HeartbeatInterval
	}
	if src.Engine.MaxAttempts != 0 {
		dst.Engine.MaxAttempts = src.Engine.MaxAttempts
	}
	if src.Engine.MaxPlanRetries != 0 {
		dst.Engine.MaxPlanRetries = src.Engine.MaxPlanRetries
	}
	if src.Engine.MaxImplementorRetries != 0 {
		dst.Engine.MaxImplementorRetries = src.Engine.MaxImplementorRetries
	}
	if src.Engine.MaxReviewRetries != 0 {
		dst.Engine.MaxReviewRetries = src.Engine.MaxReviewRetries
	}

	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.agentops/config.yaml"
	SourceProject Source = ".agentops/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// resolved pairs a resolved value with the layer it came from.
type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// resolveStringField resolves a string through the precedence chain.
func resolveStringField(home, project, env, flag, def string) resolved {
	result := resolved{Value: def, Source: SourceDefault}
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}
	return result
}

// ResolvedConfig shows config values with their sources, for `aoq status
// --verbose`-style diagnostics of where a setting actually came from.
type ResolvedConfig struct {
	Output  resolved `json:"output"`
	BaseDir resolved `json:"base_dir"`
	Verbose resolved `json:"verbose"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flagOutput, flagBaseDir string, flagVerbose bool) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var homeOutput, homeBaseDir string
	var homeVerbose bool
	if homeConfig != nil {
		homeOutput = homeConfig.Output
		homeBaseDir = homeConfig.BaseDir
		homeVerbose = homeConfig.Verbose
	}

	var projectOutput, projectBaseDir string
	var projectVerbose bool
	if projectConfig != nil {
		projectOutput = projectConfig.Output
		projectBaseDir = projectConfig.BaseDir
		projectVerbose = projectConfig.Verbose
	}

	envOutput := os.Getenv("AGENTOPS_OUTPUT")
	envBaseDir := os.Getenv("AGENTOPS_BASE_DIR")
	envVerboseRaw := os.Getenv("AGENTOPS_VERBOSE")
	envVerbose := envVerboseRaw == "true" || envVerboseRaw == "1"

	rc := &ResolvedConfig{
		Output:  resolveStringField(homeOutput, projectOutput, envOutput, flagOutput, defaultOutput),
		BaseDir: resolveStringField(homeBaseDir, projectBaseDir, envBaseDir, flagBaseDir, defaultBaseDir),
		Verbose: resolved{Value: false, Source: SourceDefault},
	}

	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	return rc
}
