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

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run Weaver's MCP query surface, syncing and watching the vault alongside it",
	Long: `Mcp starts the same daemon watch does - shadow cache, file watcher,
rule engine, optional git auto-commit - and exposes the query surface
over MCP. By default it speaks stdio, the way an MCP client expects to
launch it as a subprocess; pass --port to serve over streamable HTTP
instead.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "port to serve HTTP on (uses stdio if not specified)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpPort > 0 {
		cfg.MCP.Transport = "http"
		cfg.MCP.Addr = fmt.Sprintf(":%d", mcpPort)
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

	if cfg.MCP.Transport == "http" {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
		case err := <-serveErrCh:
			if err != nil {
				logger.Sugar().Warnw("weaver: mcp transport stopped", "error", err)
			}
		}
	} else if err := <-serveErrCh; err != nil {
		logger.Sugar().Warnw("weaver: mcp transport stopped", "error", err)
	}

	cancel()
	if err := o.Stop(); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}
