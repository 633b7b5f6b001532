package mcp

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// TransportConfig selects and configures the MCP server's transport,
// mirroring the teacher's stdio-by-default, HTTP-on-port pattern.
type TransportConfig struct {
	Transport string // "stdio" (default) or "http"
	Addr      string // e.g. ":8585", used when Transport == "http"
}

// Serve runs server until ctx is cancelled or the transport returns.
func Serve(ctx context.Context, server *mcpsdk.Server, cfg TransportConfig, log *zap.SugaredLogger) error {
	if cfg.Transport == "http" {
		return serveHTTP(ctx, server, cfg.Addr, log)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, log *zap.SugaredLogger) error {
	if addr == "" {
		addr = ":8585"
	}
	handler := mcpsdk.NewStreamableHTTPHandler(func(req *http.Request) *mcpsdk.Server {
		return server
	}, nil)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: negotiateCompressionHandler(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("mcp http transport listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("mcp http server failed: %w", err)
		}
		return nil
	}
}
