package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerAdminTools exposes the supplemented operational tools:
// health_check (spec.md §4.7) and get_rule_admin_snapshot.
// invalidate_cache is not one of them — spec.md §4.7 calls for it
// "exposed programmatically", so it's Middleware.InvalidateCache, a Go
// method called by mutating tool handlers (trigger_workflow) rather
// than its own MCP tool.
func registerAdminTools(server *mcpsdk.Server, deps Deps, mw *Middleware) {
	type healthCheckArgs struct{}
	registerTool(server, mw, "health_check", "Report readiness of the cache, workflow engine, and rule engine.", false,
		func(ctx context.Context, args healthCheckArgs) (any, error) {
			return healthSnapshot(ctx, deps), nil
		})

	type getRuleAdminSnapshotArgs struct{}
	registerTool(server, mw, "get_rule_admin_snapshot", "Report rule engine health: per-rule stats, duration percentiles, and a health score.", true,
		func(ctx context.Context, args getRuleAdminSnapshotArgs) (any, error) {
			return deps.Rules.Snapshot(), nil
		})
}

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthReport struct {
	Cache     componentHealth `json:"cache"`
	Workflow  componentHealth `json:"workflow"`
	Rules     componentHealth `json:"rules"`
	CheckedAt time.Time       `json:"checkedAt"`
}

func healthSnapshot(ctx context.Context, deps Deps) healthReport {
	report := healthReport{CheckedAt: time.Now()}

	if deps.Cache == nil {
		report.Cache = componentHealth{Status: "unavailable"}
	} else if _, err := deps.Cache.GetStats(ctx); err != nil {
		report.Cache = componentHealth{Status: "degraded", Message: err.Error()}
	} else {
		report.Cache = componentHealth{Status: "ok"}
	}

	if deps.Workflow == nil {
		report.Workflow = componentHealth{Status: "unavailable"}
	} else {
		report.Workflow = componentHealth{Status: "ok"}
	}

	if deps.Rules == nil {
		report.Rules = componentHealth{Status: "unavailable"}
	} else {
		snap := deps.Rules.Snapshot()
		status := "ok"
		if snap.HealthScore < 50 {
			status = "degraded"
		}
		report.Rules = componentHealth{Status: status}
	}

	return report
}
