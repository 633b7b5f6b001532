package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/weaver-md/weaver/internal/weavererr"
	"github.com/weaver-md/weaver/internal/workflow"
)

// registerWorkflowTools exposes the workflow engine as spec.md §4.7's
// trigger_workflow, list_workflows, get_workflow_status, and
// get_workflow_history tools. Only trigger_workflow is non-cacheable —
// it has a side effect every time it's called.
func registerWorkflowTools(server *mcpsdk.Server, deps Deps, mw *Middleware) {
	type triggerWorkflowArgs struct {
		WorkflowID string `json:"workflow_id" jsonschema:"ID of the registered workflow to run"`
		Input      any    `json:"input,omitempty" jsonschema:"Input value passed to the workflow body"`
		Wait       bool   `json:"wait,omitempty" jsonschema:"If true, block until the run finishes and return its output"`
	}
	registerTool(server, mw, "trigger_workflow", "Start a workflow run, optionally waiting for it to finish.", false,
		func(ctx context.Context, args triggerWorkflowArgs) (any, error) {
			if args.WorkflowID == "" {
				return nil, weavererr.NewValidationError("workflow_id is required")
			}
			runID, err := deps.Workflow.Start(args.WorkflowID, args.Input)
			if err != nil {
				return nil, err
			}
			if !args.Wait {
				return map[string]any{"runId": runID, "status": string(workflow.StatusPending)}, nil
			}
			output, err := deps.Workflow.ReturnValue(ctx, runID)
			// A workflow run may have written vault files; the query
			// surface's response cache would otherwise serve stale
			// results until its TTL expires.
			mw.InvalidateCache()
			if err != nil {
				return map[string]any{"runId": runID, "status": string(workflow.StatusFailed), "error": err.Error()}, nil
			}
			return map[string]any{"runId": runID, "status": string(workflow.StatusCompleted), "output": output}, nil
		})

	type listWorkflowsArgs struct {
		EnabledOnly bool `json:"enabled_only,omitempty" jsonschema:"Only list workflows currently enabled"`
	}
	registerTool(server, mw, "list_workflows", "List registered workflow definitions.", true,
		func(ctx context.Context, args listWorkflowsArgs) (any, error) {
			defs := deps.Workflow.List(args.EnabledOnly)
			out := make([]map[string]any, 0, len(defs))
			for _, d := range defs {
				out = append(out, map[string]any{"id": d.ID, "enabled": d.Enabled})
			}
			return out, nil
		})

	type getWorkflowStatusArgs struct {
		RunID string `json:"run_id" jsonschema:"ID of the run returned by trigger_workflow"`
	}
	registerTool(server, mw, "get_workflow_status", "Fetch one workflow run's current status and output.", true,
		func(ctx context.Context, args getWorkflowStatusArgs) (any, error) {
			if args.RunID == "" {
				return nil, weavererr.NewValidationError("run_id is required")
			}
			return deps.Workflow.Status(args.RunID)
		})

	type getWorkflowHistoryArgs struct {
		WorkflowID string `json:"workflow_id,omitempty" jsonschema:"Restrict history to this workflow definition"`
		Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of runs to return"`
		Offset     int    `json:"offset,omitempty" jsonschema:"Number of most-recent runs to skip"`
	}
	registerTool(server, mw, "get_workflow_history", "List past workflow runs, most recent first.", true,
		func(ctx context.Context, args getWorkflowHistoryArgs) (any, error) {
			return deps.Workflow.History(workflow.HistoryParams{
				WorkflowID: args.WorkflowID,
				Limit:      args.Limit,
				Offset:     args.Offset,
			})
		})
}
