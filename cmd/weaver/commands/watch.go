package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weaver-md/weaver/internal/daemon"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the Weaver daemon: index the vault, watch for changes, drive automations",
	Long: `Watch starts Weaver's full daemon: it syncs the shadow cache, watches
the vault for changes, runs the rule engine's automations on every event
and on the daily schedule, and (if enabled) auto-commits the vault to
git. It serves the MCP query surface alongside the watch loop. Press
Ctrl+C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	o, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- o.ServeMCP(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Sugar().Info("weaver: shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			logger.Sugar().Warnw("weaver: mcp transport stopped", "error", err)
		}
	}

	cancel()
	if err := o.Stop(); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}
