package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/ttlcache"
	"github.com/weaver-md/weaver/internal/vault/cache"
)

// LogStatus is the terminal outcome recorded for one rule's evaluation
// against one event.
type LogStatus string

const (
	LogSkipped   LogStatus = "skipped"
	LogSucceeded LogStatus = "succeeded"
	LogFailed    LogStatus = "failed"
)

// LogEntry is one execution-log record, spec.md §4.6's "every execution
// writes a log entry with timing".
type LogEntry struct {
	RuleID   string
	Trigger  Trigger
	Status   LogStatus
	Error    string
	Duration time.Duration
	At       time.Time
}

// ExecutionSummary is executeRules' return value: what ran, what was
// skipped, what failed.
type ExecutionSummary struct {
	Trigger  Trigger
	Executed []string
	Skipped  []string
	Failed   []string
	Elapsed  time.Duration
}

// Engine dispatches registered rules against incoming events, logging
// every outcome to a bounded ring and accumulating per-rule statistics
// for the admin snapshot.
type Engine struct {
	llm   *llm.Client
	cache *cache.ShadowCache
	log   *zap.SugaredLogger

	mu    sync.RWMutex
	rules map[string]Rule

	entries   *ttlcache.Ring[LogEntry]
	retention time.Duration

	statsMu sync.Mutex
	stats   map[string]*ruleStats
}

// ruleStats accumulates success/fail/skip counts and an exponential
// moving average of action duration per rule.
type ruleStats struct {
	Success int64
	Fail    int64
	Skip    int64
	emaNs   float64
	seeded  bool
}

const emaAlpha = 0.2

// New constructs a rule engine. logCapacity bounds the execution-log
// ring (spec.md §4.6 default 1000); retention trims entries older than
// the window lazily on read (default 24h).
func New(llmClient *llm.Client, shadowCache *cache.ShadowCache, logCapacity int, retention time.Duration, log *zap.SugaredLogger) *Engine {
	return &Engine{
		llm:       llmClient,
		cache:     shadowCache,
		log:       log,
		rules:     make(map[string]Rule),
		entries:   ttlcache.NewRing[LogEntry](logCapacity),
		retention: retention,
		stats:     make(map[string]*ruleStats),
	}
}

// RegisterRule adds or replaces a rule by id.
func (e *Engine) RegisterRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = r
}

// UnregisterRule removes a rule by id; a no-op if absent.
func (e *Engine) UnregisterRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, id)
}

// matchingRules returns enabled rules whose trigger matches event,
// ordered by descending priority.
func (e *Engine) matchingRules(trigger Trigger) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled && r.Trigger == trigger {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched
}

// ExecuteRules dispatches every matching, enabled rule against event:
// guards evaluate concurrently, then actions for rules whose guard
// passed execute concurrently, each isolated from the others' panics
// and errors per spec.md §4.6.
func (e *Engine) ExecuteRules(ctx context.Context, event Event) *ExecutionSummary {
	start := time.Now()
	matched := e.matchingRules(event.Trigger)
	rc := Context{Event: event, LLM: e.llm, Cache: e.cache}

	type guardResult struct {
		rule Rule
		pass bool
		err  error
	}
	results := make([]guardResult, len(matched))
	var wg sync.WaitGroup
	for i, r := range matched {
		wg.Add(1)
		go func(i int, r Rule) {
			defer wg.Done()
			pass, err := e.evalGuard(ctx, r, rc)
			results[i] = guardResult{rule: r, pass: pass, err: err}
		}(i, r)
	}
	wg.Wait()

	summary := &ExecutionSummary{Trigger: event.Trigger}
	var actionWg sync.WaitGroup
	var mu sync.Mutex

	for _, gr := range results {
		if gr.err != nil {
			e.record(gr.rule.ID, event.Trigger, LogFailed, gr.err, 0)
			mu.Lock()
			summary.Failed = append(summary.Failed, gr.rule.ID)
			mu.Unlock()
			continue
		}
		if !gr.pass {
			e.record(gr.rule.ID, event.Trigger, LogSkipped, nil, 0)
			mu.Lock()
			summary.Skipped = append(summary.Skipped, gr.rule.ID)
			mu.Unlock()
			continue
		}

		actionWg.Add(1)
		go func(r Rule) {
			defer actionWg.Done()
			actionStart := time.Now()
			err := e.runAction(ctx, r, rc)
			elapsed := time.Since(actionStart)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.record(r.ID, event.Trigger, LogFailed, err, elapsed)
				summary.Failed = append(summary.Failed, r.ID)
				return
			}
			e.record(r.ID, event.Trigger, LogSucceeded, nil, elapsed)
			summary.Executed = append(summary.Executed, r.ID)
		}(gr.rule)
	}
	actionWg.Wait()

	summary.Elapsed = time.Since(start)
	return summary
}

// evalGuard runs r's guard (true if none configured), converting a
// panic into an error so one bad guard can't take down evaluation of
// the others.
func (e *Engine) evalGuard(ctx context.Context, r Rule, rc Context) (pass bool, err error) {
	if r.Guard == nil {
		return true, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("guard panicked: %v", p)
		}
	}()
	return r.Guard(ctx, rc)
}

// runAction invokes r's action, converting a panic into an error the
// same way evalGuard does.
func (e *Engine) runAction(ctx context.Context, r Rule, rc Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()
	return r.Action(ctx, rc)
}

// record writes a log entry and updates the rule's running statistics.
func (e *Engine) record(ruleID string, trigger Trigger, status LogStatus, err error, d time.Duration) {
	entry := LogEntry{RuleID: ruleID, Trigger: trigger, Status: status, Duration: d, At: time.Now()}
	if err != nil {
		entry.Error = err.Error()
		if e.log != nil {
			e.log.Warnw("rule execution failed", "rule", ruleID, "trigger", trigger, "error", err)
		}
	}
	e.entries.Push(entry)

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	st, ok := e.stats[ruleID]
	if !ok {
		st = &ruleStats{}
		e.stats[ruleID] = st
	}
	switch status {
	case LogSucceeded:
		st.Success++
	case LogFailed:
		st.Fail++
	case LogSkipped:
		st.Skip++
	}
	if d > 0 {
		if !st.seeded {
			st.emaNs = float64(d.Nanoseconds())
			st.seeded = true
		} else {
			st.emaNs = emaAlpha*float64(d.Nanoseconds()) + (1-emaAlpha)*st.emaNs
		}
	}
}

// Logs returns execution-log entries matching the given filters (any
// zero-valued field is unfiltered), newest first, trimmed to entries
// newer than the retention window and limited to limit (0 = unlimited).
func (e *Engine) Logs(ruleID string, status LogStatus, since time.Time, limit int) []LogEntry {
	all := e.entries.Snapshot()
	cutoff := time.Now().Add(-e.retention)

	out := make([]LogEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		entry := all[i]
		if entry.At.Before(cutoff) {
			continue
		}
		if ruleID != "" && entry.RuleID != ruleID {
			continue
		}
		if status != "" && entry.Status != status {
			continue
		}
		if !since.IsZero() && entry.At.Before(since) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
