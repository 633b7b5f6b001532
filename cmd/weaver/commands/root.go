// Package commands implements weaver's cobra command tree: watch, sync,
// mcp, and version, sharing one config-loading path grounded on the
// teacher's cmd/linear-fuse/commands layout.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/config"
	"github.com/weaver-md/weaver/internal/obslog"
)

var (
	cfgFile   string
	vaultRoot string
	apiKey    string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "weaver",
	Short: "An always-on agent for a Markdown knowledge vault",
	Long: `Weaver watches a Markdown vault, keeps a queryable index of its
contents, and drives LLM-backed automations (auto-tag, auto-link, daily
notes, meeting extraction, git auto-commit) as files change.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/weaver/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&vaultRoot, "vault-root", "", "path to the markdown vault")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Anthropic API key")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("vault-root", rootCmd.PersistentFlags().Lookup("vault-root"))
	viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	viper.SetEnvPrefix("WEAVER")
	viper.AutomaticEnv()
}

// loadConfig resolves a *config.Config the way every subcommand needs
// it: config.Load (or config.LoadFromPath, when --config names a file)
// supplies the YAML+env layers, and the root command's persistent flags
// win last, mirroring the teacher's flag-beats-config precedence for
// --api-key.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromPath(cfgFile, os.Getenv)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if v := viper.GetString("vault-root"); v != "" {
		cfg.Vault.Root = v
	}
	if v := viper.GetString("api-key"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}

	if cfg.Vault.Root == "" {
		return nil, fmt.Errorf("vault root is required: set --vault-root, WEAVER_VAULT_ROOT, or vault.root in the config file")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return obslog.New(obslog.Level(cfg.Log.Level), cfg.Log.Dev)
}
