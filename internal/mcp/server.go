package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/vault/cache"
	"github.com/weaver-md/weaver/internal/workflow"
)

// Version is reported to MCP clients in the server's Implementation
// handshake.
const Version = "0.1.0"

// Deps wires the query surface to the daemon's singletons. VaultRoot
// is needed directly (rather than through the cache) for get_file_content
// and search_content, which read file bodies the shadow cache doesn't
// retain.
type Deps struct {
	VaultRoot string
	Cache     *cache.ShadowCache
	Workflow  *workflow.Engine
	Rules     *rules.Engine
	LLM       *llm.Client
	Log       *zap.SugaredLogger
}

// NewServer builds the MCP server and registers every tool in spec.md
// §4.7's catalog plus the supplemented search_content and
// get_rule_admin_snapshot tools, each wrapped by mw's request pipeline.
// Cache invalidation is not a tool; it is mw.InvalidateCache.
func NewServer(deps Deps, mw *Middleware) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "weaver",
		Version: Version,
	}, nil)

	registerQueryTools(server, deps, mw)
	registerWorkflowTools(server, deps, mw)
	registerAdminTools(server, deps, mw)

	return server
}

// registerTool adapts a (ctx, args) -> (any, error) handler into the
// SDK's tool signature, running it through mw and wrapping the
// resulting envelope bytes in a single TextContent block.
func registerTool[A any](server *mcpsdk.Server, mw *Middleware, name, description string, cacheable bool, fn func(ctx context.Context, args A) (any, error)) {
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, args A) (*mcpsdk.CallToolResult, any, error) {
		body, err := mw.Invoke(ctx, name, args, cacheable, func(ctx context.Context) (any, error) {
			return fn(ctx, args)
		})
		if err != nil {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}},
		}, nil, nil
	})
}
