// Package config loads Weaver's configuration from a YAML file with
// environment-variable overrides, the same two-layer pattern the teacher
// used for linear-fuse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is Weaver's full daemon configuration, covering every knob
// named across the vault, cache, watcher, LLM, workflow, rules, MCP,
// activity, and git-auto-commit components.
type Config struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	Vault    VaultConfig    `yaml:"vault"`
	Cache    CacheConfig    `yaml:"cache"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	LLM      LLMConfig      `yaml:"llm"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Rules    RulesConfig    `yaml:"rules"`
	MCP      MCPConfig      `yaml:"mcp"`
	Activity ActivityConfig `yaml:"activity"`
	GitAuto  GitAutoConfig  `yaml:"git_auto_commit"`
	Log      LogConfig      `yaml:"log"`
}

// VaultConfig names the watched directory and which files Weaver
// considers part of the vault.
type VaultConfig struct {
	Root         string   `yaml:"root"`
	IncludeGlobs []string `yaml:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// CacheConfig locates the SQLite shadow cache. QueryTTL and
// QueryMaxEntries are not read by any component; the MCP response cache
// is sized by LLMConfig's ResponseCacheTTL and ResponseCacheCapacity.
type CacheConfig struct {
	DBPath          string        `yaml:"db_path"`
	QueryTTL        time.Duration `yaml:"query_ttl"`
	QueryMaxEntries int           `yaml:"query_max_entries"`
}

// WatcherConfig tunes the file watcher's debounce window. QueueSize is
// not read; the watcher's event channel always holds 1024 events.
type WatcherConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	QueueSize      int           `yaml:"queue_size"`
}

// LLMConfig configures the Anthropic client's model, rate limiting,
// circuit breaker, and retry behavior.
type LLMConfig struct {
	Model                 string        `yaml:"model"`
	RequestsPerSecond     float64       `yaml:"requests_per_second"`
	Burst                 int           `yaml:"burst"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
	MaxRetries            int           `yaml:"max_retries"`
	CircuitFailureRatio   float64       `yaml:"circuit_failure_ratio"`
	CircuitMinRequests    uint32        `yaml:"circuit_min_requests"`
	CircuitCooldown       time.Duration `yaml:"circuit_cooldown"`
	ResponseCacheTTL      time.Duration `yaml:"response_cache_ttl"`
	ResponseCacheCapacity int           `yaml:"response_cache_capacity"`
}

// WorkflowConfig sizes the durable workflow engine's store and
// concurrency.
type WorkflowConfig struct {
	StoreDir       string `yaml:"store_dir"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// RulesConfig sizes the rule engine's execution log. MaxConcurrency is
// not read; the engine runs every matching rule concurrently with no
// bound.
type RulesConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
	LogCapacity    int `yaml:"log_capacity"`
}

// MCPConfig configures the query surface's transport and request
// pipeline middleware.
type MCPConfig struct {
	Transport            string        `yaml:"transport"`
	Addr                 string        `yaml:"addr"`
	BatchWindow          time.Duration `yaml:"batch_window"`
	MaxBatchSize         int           `yaml:"max_batch_size"`
	CompressionThreshold int           `yaml:"compression_threshold_bytes"`
}

// ActivityConfig sizes the activity logger's in-memory buffer.
type ActivityConfig struct {
	LogDir        string        `yaml:"log_dir"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// GitAutoConfig controls whether and how aggressively Weaver commits
// vault changes on the caller's behalf.
type GitAutoConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	CommitTemplate string        `yaml:"commit_template"`
}

// LogConfig controls the zap logger's level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Vault: VaultConfig{
			IncludeGlobs: []string{"**/*.md"},
			ExcludeGlobs: []string{".git/**", ".obsidian/**"},
		},
		Cache: CacheConfig{
			QueryTTL:        60 * time.Second,
			QueryMaxEntries: 10000,
		},
		Watcher: WatcherConfig{
			DebounceWindow: 500 * time.Millisecond,
			QueueSize:      1024,
		},
		LLM: LLMConfig{
			Model:                 "claude-haiku-4-5",
			RequestsPerSecond:     2,
			Burst:                 4,
			RequestTimeout:        30 * time.Second,
			MaxRetries:            3,
			CircuitFailureRatio:   0.6,
			CircuitMinRequests:    8,
			CircuitCooldown:       30 * time.Second,
			ResponseCacheTTL:      10 * time.Minute,
			ResponseCacheCapacity: 500,
		},
		Workflow: WorkflowConfig{
			MaxConcurrency: 4,
		},
		Rules: RulesConfig{
			MaxConcurrency: 4,
			LogCapacity:    1000,
		},
		MCP: MCPConfig{
			Transport:            "stdio",
			BatchWindow:          50 * time.Millisecond,
			MaxBatchSize:         10,
			CompressionThreshold: 8192,
		},
		Activity: ActivityConfig{
			BufferSize:    256,
			FlushInterval: 5 * time.Second,
		},
		GitAuto: GitAutoConfig{
			Enabled:        false,
			DebounceWindow: 2 * time.Minute,
			CommitTemplate: "weaver: auto-commit ({{.FileCount}} files)",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg, getenv)
	return cfg, nil
}

// LoadFromPath loads configuration from an explicit file path (used by
// the CLI's --config flag, where the caller names the file rather than
// relying on the XDG default), applying the same WEAVER_* environment
// overrides LoadWithEnv does.
func LoadFromPath(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg, getenv)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if apiKey := getenv("WEAVER_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.AnthropicAPIKey = apiKey
	}
	if root := getenv("WEAVER_VAULT_ROOT"); root != "" {
		cfg.Vault.Root = root
	}
	if level := getenv("WEAVER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "weaver", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "weaver", "config.yaml")
}
