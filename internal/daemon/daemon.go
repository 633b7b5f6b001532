// Package daemon wires every Weaver component into one process: the
// shadow cache, LLM client, workflow engine, rule engine, activity
// logger, file watcher, git auto-commit, and MCP query surface. It is
// not a named component of its own — spec.md §9 calls for "a top-level
// orchestrator" coordinating the others' global mutable state, grounded
// on the teacher's internal/sync.Worker Start/Stop (stopCh/doneCh pair),
// generalized from one background worker to N components behind a
// single context.CancelFunc.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/activity"
	"github.com/weaver-md/weaver/internal/config"
	"github.com/weaver-md/weaver/internal/gitauto"
	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/mcp"
	"github.com/weaver-md/weaver/internal/obslog"
	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/rules/builtin"
	"github.com/weaver-md/weaver/internal/vault/cache"
	"github.com/weaver-md/weaver/internal/watcher"
	"github.com/weaver-md/weaver/internal/workflow"
)

// Orchestrator owns the process-wide singletons and their lifecycle.
// New builds every singleton (GitAuto only when enabled); Start launches
// their background goroutines.
type Orchestrator struct {
	cfg *config.Config
	log *zap.Logger
	sl  *zap.SugaredLogger

	Cache    *cache.ShadowCache
	LLM      *llm.Client
	Workflow *workflow.Engine
	Rules    *rules.Engine
	Activity *activity.Logger
	Watcher  *watcher.Watcher
	GitAuto  *gitauto.Committer
	MCPMW    *mcp.Middleware
	mcpSrv   *mcpsdk.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the Orchestrator's singletons but does not start any
// background goroutine; call Start for that.
func New(cfg *config.Config, baseLog *zap.Logger) (*Orchestrator, error) {
	o := &Orchestrator{cfg: cfg, log: baseLog, sl: obslog.Named(baseLog, "daemon")}

	shadowCache, err := cache.NewShadowCache(cfg.Cache.DBPath, cfg.Vault.Root, obslog.Named(baseLog, "cache"))
	if err != nil {
		return nil, fmt.Errorf("daemon: open shadow cache: %w", err)
	}
	o.Cache = shadowCache

	o.LLM = llm.New(llm.Config{
		APIKey:              cfg.AnthropicAPIKey,
		Model:               cfg.LLM.Model,
		RequestsPerSecond:   cfg.LLM.RequestsPerSecond,
		Burst:               cfg.LLM.Burst,
		RequestTimeout:      cfg.LLM.RequestTimeout,
		MaxRetries:          cfg.LLM.MaxRetries,
		CircuitFailureRatio: cfg.LLM.CircuitFailureRatio,
		CircuitMinRequests:  cfg.LLM.CircuitMinRequests,
		CircuitCooldown:     cfg.LLM.CircuitCooldown,
	}, obslog.Named(baseLog, "llm"))

	wf, err := workflow.New(cfg.Workflow.StoreDir, cfg.Workflow.MaxConcurrency, obslog.Named(baseLog, "workflow"))
	if err != nil {
		shadowCache.Close()
		return nil, fmt.Errorf("daemon: open workflow engine: %w", err)
	}
	o.Workflow = wf

	o.Rules = rules.New(o.LLM, o.Cache, cfg.Rules.LogCapacity, 24*time.Hour, obslog.Named(baseLog, "rules"))
	registerBuiltinRules(o.Rules, cfg.Vault.Root)

	actLogger, err := activity.Open(cfg.Activity.LogDir, "", cfg.Activity.BufferSize, cfg.Activity.FlushInterval, obslog.Named(baseLog, "activity"))
	if err != nil {
		shadowCache.Close()
		wf.Close()
		return nil, fmt.Errorf("daemon: open activity logger: %w", err)
	}
	o.Activity = actLogger

	w, err := watcher.New(cfg.Vault.Root, cfg.Vault.IncludeGlobs, cfg.Watcher.DebounceWindow, obslog.Named(baseLog, "watcher"))
	if err != nil {
		shadowCache.Close()
		wf.Close()
		actLogger.Close()
		return nil, fmt.Errorf("daemon: start watcher: %w", err)
	}
	o.Watcher = w

	if cfg.GitAuto.Enabled {
		committer, err := gitauto.New(cfg.Vault.Root, cfg.GitAuto.DebounceWindow, cfg.GitAuto.CommitTemplate, o.LLM, obslog.Named(baseLog, "gitauto"))
		if err != nil {
			shadowCache.Close()
			wf.Close()
			actLogger.Close()
			w.Stop()
			return nil, fmt.Errorf("daemon: start git auto-commit: %w", err)
		}
		o.GitAuto = committer
	}

	o.MCPMW = mcp.NewMiddleware(cfg.LLM.ResponseCacheTTL, cfg.LLM.ResponseCacheCapacity, cfg.MCP.CompressionThreshold, cfg.MCP.BatchWindow, cfg.MCP.MaxBatchSize)
	o.mcpSrv = mcp.NewServer(mcp.Deps{
		VaultRoot: cfg.Vault.Root,
		Cache:     o.Cache,
		Workflow:  o.Workflow,
		Rules:     o.Rules,
		LLM:       o.LLM,
		Log:       obslog.Named(baseLog, "mcp"),
	}, o.MCPMW)

	return o, nil
}

// registerBuiltinRules wires spec.md §4.6's four built-in automations
// into engine using the vault root for every rule that needs one.
func registerBuiltinRules(engine *rules.Engine, vaultRoot string) {
	for _, r := range builtin.AutoTagRules(builtin.AutoTagConfig{VaultRoot: vaultRoot, ByteBudget: 4000}) {
		engine.RegisterRule(r)
	}
	for _, r := range builtin.AutoLinkRules(builtin.AutoLinkConfig{VaultRoot: vaultRoot, MaxCandidates: 50}) {
		engine.RegisterRule(r)
	}
	engine.RegisterRule(builtin.DailyNoteRule(builtin.DailyNoteConfig{VaultRoot: vaultRoot}))
	engine.RegisterRule(builtin.MeetingNoteRule(builtin.MeetingNoteConfig{
		VaultRoot:   vaultRoot,
		MeetingsDir: "meetings",
		TasksDir:    "tasks",
	}))
}

// Start launches every background goroutine: the watcher's fsnotify
// loop, the event fan-out that feeds the cache and rule engine (and, if
// enabled, git auto-commit), the daily-schedule ticker, and the
// workflow engine's crash-recovery resume. It returns once everything
// is running; Stop tears it all down in reverse order.
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if _, err := o.Cache.SyncVault(runCtx); err != nil {
		cancel()
		return fmt.Errorf("daemon: initial vault sync: %w", err)
	}
	if err := o.Workflow.Resume(); err != nil {
		cancel()
		return fmt.Errorf("daemon: resume workflow runs: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Watcher.Run(runCtx); err != nil {
			o.sl.Warnw("daemon: watcher stopped", "error", err)
		}
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.dispatchEvents(runCtx)
	}()

	if o.GitAuto != nil {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.GitAuto.Watch(runCtx, o.Watcher)
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runDailySchedule(runCtx)
	}()

	return nil
}

// dispatchEvents fans out every coalesced watcher.Event to the shadow
// cache (keeping the index current) and the rule engine (running
// file:add/file:change/file:delete automations), sequentially per
// event so two concurrent writers never race on the same path's cache
// row.
func (o *Orchestrator) dispatchEvents(ctx context.Context) {
	for {
		select {
		case ev, ok := <-o.Watcher.Events():
			if !ok {
				return
			}
			o.handleEvent(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev watcher.Event) {
	var trigger rules.Trigger
	switch ev.Kind {
	case watcher.KindAdd:
		trigger = rules.TriggerFileAdd
	case watcher.KindChange:
		trigger = rules.TriggerFileChange
	case watcher.KindUnlink:
		trigger = rules.TriggerFileDelete
	default:
		return
	}

	if trigger == rules.TriggerFileDelete {
		o.Activity.Record(activity.KindWorkflowEvent, "file deleted: "+ev.RelativePath, nil)
		o.MCPMW.InvalidateCache()
		o.Rules.ExecuteRules(ctx, rules.Event{Trigger: trigger, Path: ev.RelativePath, At: time.Now()})
		return
	}

	if err := o.Cache.SyncPath(ctx, ev.RelativePath); err != nil {
		o.sl.Warnw("daemon: sync path failed", "path", ev.RelativePath, "error", err)
		return
	}
	o.MCPMW.InvalidateCache()

	file, err := o.Cache.GetFile(ctx, ev.RelativePath)
	if err != nil {
		o.sl.Warnw("daemon: load synced file failed", "path", ev.RelativePath, "error", err)
		file = nil
	}

	summary := o.Rules.ExecuteRules(ctx, rules.Event{
		Trigger: trigger,
		Path:    ev.RelativePath,
		File:    file,
		At:      time.Now(),
	})
	o.Activity.Record(activity.KindWorkflowEvent, fmt.Sprintf("rules evaluated for %s", ev.RelativePath), map[string]string{
		"trigger":  string(trigger),
		"executed": fmt.Sprintf("%d", len(summary.Executed)),
		"skipped":  fmt.Sprintf("%d", len(summary.Skipped)),
		"failed":   fmt.Sprintf("%d", len(summary.Failed)),
	})
}

// runDailySchedule fires the TriggerSchedule rules (daily-note's
// rollover) once at startup and once every 24h thereafter. A longer
// configurable cadence isn't needed — spec.md §4.6.3 defines the rule
// itself as idempotent per calendar day, so firing more often than
// once a day is harmless, and exactly once a day is sufficient.
func (o *Orchestrator) runDailySchedule(ctx context.Context) {
	o.fireSchedule(ctx)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.fireSchedule(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) fireSchedule(ctx context.Context) {
	o.Rules.ExecuteRules(ctx, rules.Event{Trigger: rules.TriggerSchedule, At: time.Now()})
}

// ServeMCP runs the MCP server on the configured transport until ctx is
// cancelled.
func (o *Orchestrator) ServeMCP(ctx context.Context) error {
	return mcp.Serve(ctx, o.mcpSrv, mcp.TransportConfig{
		Transport: o.cfg.MCP.Transport,
		Addr:      o.cfg.MCP.Addr,
	}, obslog.Named(o.log, "mcp"))
}

// Stop cancels every background goroutine, waits for them to drain,
// then closes singletons in reverse construction order.
func (o *Orchestrator) Stop() error {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	if o.GitAuto != nil {
		o.GitAuto.Close()
	}
	o.Watcher.Stop()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(o.Activity.Close())
	record(o.Workflow.Close())
	record(o.Cache.Close())
	return firstErr
}
