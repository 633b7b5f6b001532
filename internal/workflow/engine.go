package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weaver-md/weaver/internal/retrypolicy"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// Definition registers a workflow body with the engine. Body receives
// the run's input and a RunContext for step calls.
type Definition struct {
	ID      string
	Body    func(ctx context.Context, rc *RunContext, input any) (any, error)
	Enabled bool
}

// HistoryParams filters the run-history query.
type HistoryParams struct {
	WorkflowID string
	Limit      int
	Offset     int
}

// Engine schedules workflow runs over a bounded worker pool and
// persists every step through Store, matching spec.md §4.5's
// pending→running→{completed,failed,cancelled} state machine with
// crash-safe, at-least-once step execution.
type Engine struct {
	store       *Store
	concurrency int
	group       *errgroup.Group
	retry       retrypolicy.Policy
	log         *zap.SugaredLogger

	mu        sync.RWMutex
	defs      map[string]Definition
	done      map[string]chan struct{}
	cancelled map[string]bool
}

// New opens the JSON-file store at storeDir and constructs an Engine
// bounding concurrent run execution to concurrency (spec.md §4.5's
// default 5), using golang.org/x/sync/errgroup the same way the pack's
// concurrency-bounded dispatchers do.
func New(storeDir string, concurrency int, log *zap.SugaredLogger) (*Engine, error) {
	store, err := OpenStore(storeDir)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 5
	}

	group := &errgroup.Group{}
	group.SetLimit(concurrency)

	return &Engine{
		store:       store,
		concurrency: concurrency,
		group:       group,
		retry:       retrypolicy.Default(),
		log:         log,
		defs:        make(map[string]Definition),
		done:        make(map[string]chan struct{}),
		cancelled:   make(map[string]bool),
	}, nil
}

// Register adds or replaces a workflow definition.
func (e *Engine) Register(def Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.ID] = def
}

// List returns registered definitions, optionally filtered to enabled
// ones.
func (e *Engine) List(enabledOnly bool) []Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Definition, 0, len(e.defs))
	for _, d := range e.defs {
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Start creates a new run, persists its pending record, and schedules
// it onto the worker pool, returning immediately with the new run id.
func (e *Engine) Start(workflowID string, input any) (string, error) {
	e.mu.RLock()
	_, ok := e.defs[workflowID]
	e.mu.RUnlock()
	if !ok {
		return "", weavererr.NewNotFoundError("workflow definition " + workflowID)
	}

	rec := &RunRecord{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     StatusPending,
		Input:      input,
		CreatedAt:  time.Now(),
	}
	if err := e.store.SaveRun(rec); err != nil {
		return "", err
	}

	e.schedule(rec)
	return rec.ID, nil
}

// schedule registers a done channel for rec and dispatches it onto the
// bounded worker pool in the background, so callers of Start/Resume
// never block on pool capacity.
func (e *Engine) schedule(rec *RunRecord) {
	e.mu.Lock()
	e.done[rec.ID] = make(chan struct{})
	e.mu.Unlock()

	go e.group.Go(func() error {
		e.execute(context.Background(), rec)
		return nil
	})
}

func (e *Engine) execute(ctx context.Context, rec *RunRecord) {
	defer e.markDone(rec.ID)

	e.mu.RLock()
	def, ok := e.defs[rec.WorkflowID]
	e.mu.RUnlock()
	if !ok {
		rec.Status = StatusFailed
		rec.Error = "no definition registered for workflow " + rec.WorkflowID
		rec.FinishedAt = time.Now()
		_ = e.store.SaveRun(rec)
		return
	}

	rec.Status = StatusRunning
	rec.StartedAt = time.Now()
	_ = e.store.SaveRun(rec)

	rc := &RunContext{RunID: rec.ID, store: e.store, engine: e, retry: e.retry}
	output, err := def.Body(ctx, rc, rec.Input)
	rec.FinishedAt = time.Now()

	switch {
	case err != nil && weavererr.IsType(err, weavererr.ErrorTypeCancelled):
		rec.Status = StatusCancelled
		rec.Error = err.Error()
	case err != nil:
		rec.Status = StatusFailed
		rec.Error = err.Error()
	default:
		rec.Status = StatusCompleted
		rec.Output = output
	}

	if saveErr := e.store.SaveRun(rec); saveErr != nil && e.log != nil {
		e.log.Errorw("failed to persist terminal run state", "run", rec.ID, "error", saveErr)
	}
}

func (e *Engine) markDone(runID string) {
	e.mu.Lock()
	ch, ok := e.done[runID]
	e.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (e *Engine) isCancelled(runID string) bool {
	e.mu.RLock()
	flag := e.cancelled[runID]
	e.mu.RUnlock()
	return flag
}

// ReturnValue blocks until runID reaches a terminal state (or ctx is
// cancelled) and returns its output, mirroring spec.md §4.5's
// returnValue(runId) → Promise<output>.
func (e *Engine) ReturnValue(ctx context.Context, runID string) (any, error) {
	e.mu.RLock()
	ch, scheduled := e.done[runID]
	e.mu.RUnlock()

	if scheduled {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, weavererr.Wrap(ctx.Err(), weavererr.ErrorTypeCancelled, "wait for run result")
		}
	}

	rec, err := e.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusFailed {
		return nil, weavererr.New(weavererr.ErrorTypeInternal, rec.Error).WithDetails(runID)
	}
	if rec.Status == StatusCancelled {
		return nil, weavererr.New(weavererr.ErrorTypeCancelled, "run was cancelled").WithDetails(runID)
	}
	return rec.Output, nil
}

// Status returns the run's current durable record.
func (e *Engine) Status(runID string) (*RunRecord, error) {
	return e.store.LoadRun(runID)
}

// Cancel marks a run cancelled; the next step boundary observes the
// flag and short-circuits retry with a cancellation error.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	e.cancelled[runID] = true
	e.mu.Unlock()
	return e.store.SetCancelled(runID)
}

// History returns terminal and in-flight runs matching params, newest
// first.
func (e *Engine) History(params HistoryParams) ([]*RunRecord, error) {
	runs, err := e.store.ListRuns()
	if err != nil {
		return nil, err
	}

	filtered := runs[:0:0]
	for _, r := range runs {
		if params.WorkflowID != "" && r.WorkflowID != params.WorkflowID {
			continue
		}
		filtered = append(filtered, r)
	}

	offset := params.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return []*RunRecord{}, nil
	}
	end := len(filtered)
	if params.Limit > 0 && offset+params.Limit < end {
		end = offset + params.Limit
	}
	return filtered[offset:end], nil
}

// Resume replays runs left in state "running" or "pending" by a prior
// process crash, letting Step's memoization skip already-completed steps.
// Callers invoke this once after every Definition has been registered.
func (e *Engine) Resume() error {
	runs, err := e.store.ListRuns()
	if err != nil {
		return err
	}
	for _, rec := range runs {
		if rec.Status != StatusRunning && rec.Status != StatusPending {
			continue
		}
		if cancelled, _ := e.store.IsCancelled(rec.ID); cancelled {
			e.mu.Lock()
			e.cancelled[rec.ID] = true
			e.mu.Unlock()
		}
		e.schedule(rec)
	}
	return nil
}

// Close waits for all in-flight runs to finish. Runs execute under
// context.Background(), so Close returns only after every scheduled
// body has returned.
func (e *Engine) Close() error {
	return e.group.Wait()
}
