package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weaver-md/weaver/internal/obslog"
	"github.com/weaver-md/weaver/internal/vault/cache"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the shadow cache against the vault once and exit",
	Long: `Sync scans the vault, parses every Markdown file, and brings the
SQLite shadow cache up to date with the files currently on disk, then
exits. It does not watch for further changes or run any automations.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	shadowCache, err := cache.NewShadowCache(cfg.Cache.DBPath, cfg.Vault.Root, obslog.Named(logger, "cache"))
	if err != nil {
		return fmt.Errorf("open shadow cache: %w", err)
	}
	defer shadowCache.Close()

	result, err := shadowCache.SyncVault(context.Background())
	if err != nil {
		return fmt.Errorf("sync vault: %w", err)
	}

	fmt.Printf("synced %d files (%d updated, %d deleted) in %s\n",
		result.Scanned, result.Updated, result.Deleted, result.Duration)
	return nil
}
