package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mockEnv creates an environment lookup function from a map.
func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig() returned nil")
	}
	if cfg.Cache.QueryTTL != 60*time.Second {
		t.Errorf("DefaultConfig() Cache.QueryTTL = %v, want %v", cfg.Cache.QueryTTL, 60*time.Second)
	}
	if cfg.Cache.QueryMaxEntries != 10000 {
		t.Errorf("DefaultConfig() Cache.QueryMaxEntries = %d, want 10000", cfg.Cache.QueryMaxEntries)
	}
	if cfg.Watcher.DebounceWindow != 500*time.Millisecond {
		t.Errorf("DefaultConfig() Watcher.DebounceWindow = %v, want 500ms", cfg.Watcher.DebounceWindow)
	}
	if cfg.LLM.Model == "" {
		t.Error("DefaultConfig() LLM.Model should not be empty")
	}
	if cfg.GitAuto.Enabled != false {
		t.Error("DefaultConfig() GitAuto.Enabled should default to false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("DefaultConfig() Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.AnthropicAPIKey != "" {
		t.Errorf("DefaultConfig() AnthropicAPIKey should be empty, got %q", cfg.AnthropicAPIKey)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "weaver")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
anthropic_api_key: "test_api_key_from_file"
vault:
  root: /home/user/vault
cache:
  query_ttl: 120s
  query_max_entries: 5000
watcher:
  debounce_window: 1s
log:
  level: debug
  file: /var/log/weaver.log
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.AnthropicAPIKey != "test_api_key_from_file" {
		t.Errorf("LoadWithEnv() AnthropicAPIKey = %q, want %q", cfg.AnthropicAPIKey, "test_api_key_from_file")
	}
	if cfg.Vault.Root != "/home/user/vault" {
		t.Errorf("LoadWithEnv() Vault.Root = %q, want %q", cfg.Vault.Root, "/home/user/vault")
	}
	if cfg.Cache.QueryTTL != 120*time.Second {
		t.Errorf("LoadWithEnv() Cache.QueryTTL = %v, want %v", cfg.Cache.QueryTTL, 120*time.Second)
	}
	if cfg.Cache.QueryMaxEntries != 5000 {
		t.Errorf("LoadWithEnv() Cache.QueryMaxEntries = %d, want 5000", cfg.Cache.QueryMaxEntries)
	}
	if cfg.Watcher.DebounceWindow != time.Second {
		t.Errorf("LoadWithEnv() Watcher.DebounceWindow = %v, want 1s", cfg.Watcher.DebounceWindow)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.File != "/var/log/weaver.log" {
		t.Errorf("LoadWithEnv() Log.File = %q, want %q", cfg.Log.File, "/var/log/weaver.log")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "weaver")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `anthropic_api_key: "file_api_key"
vault:
  root: /file/vault
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME":          tmpDir,
		"WEAVER_ANTHROPIC_API_KEY": "env_api_key",
		"WEAVER_VAULT_ROOT":        "/env/vault",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.AnthropicAPIKey != "env_api_key" {
		t.Errorf("LoadWithEnv() AnthropicAPIKey = %q, want %q (env override)", cfg.AnthropicAPIKey, "env_api_key")
	}
	if cfg.Vault.Root != "/env/vault" {
		t.Errorf("LoadWithEnv() Vault.Root = %q, want %q (env override)", cfg.Vault.Root, "/env/vault")
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.Cache.QueryTTL != 60*time.Second {
		t.Errorf("LoadWithEnv() without file should use default Cache.QueryTTL, got %v", cfg.Cache.QueryTTL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() without file should use default Log.Level, got %q", cfg.Log.Level)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "weaver")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	invalidContent := `
anthropic_api_key: [this is invalid yaml
cache:
  query_ttl: not a duration
`
	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	_, err := LoadWithEnv(env)
	if err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestGetConfigPathXDG(t *testing.T) {
	t.Parallel()
	tmpDir := "/custom/config/path"

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	path := getConfigPathWithEnv(env)
	expected := filepath.Join(tmpDir, "weaver", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestGetConfigPathFallback(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})

	path := getConfigPathWithEnv(env)
	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".config", "weaver", "config.yaml")
	if path != expected {
		t.Errorf("getConfigPathWithEnv() = %q, want %q", path, expected)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, "weaver")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	configContent := `
cache:
  query_ttl: 5m
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"XDG_CONFIG_HOME": tmpDir,
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}

	if cfg.Cache.QueryTTL != 5*time.Minute {
		t.Errorf("LoadWithEnv() Cache.QueryTTL = %v, want %v", cfg.Cache.QueryTTL, 5*time.Minute)
	}
	if cfg.Cache.QueryMaxEntries != 10000 {
		t.Errorf("LoadWithEnv() Cache.QueryMaxEntries = %d, want 10000 (default)", cfg.Cache.QueryMaxEntries)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("LoadWithEnv() Log.Level = %q, want %q (default)", cfg.Log.Level, "info")
	}
}
