package workflow

import (
	"context"
	"time"

	"github.com/weaver-md/weaver/internal/retrypolicy"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// RunContext is passed to a workflow body and is the only way its steps
// reach durable storage and cancellation state.
type RunContext struct {
	RunID   string
	store   *Store
	engine  *Engine
	retry   retrypolicy.Policy
}

// Step runs thunk under name's memoization slot: on first execution the
// thunk runs and its result persists under (run id, step name); on any
// later replay of the same run, the persisted result returns without
// re-running the thunk. A thunk that returns an error retries per the
// run's retry policy (exponential backoff, default max 3 attempts);
// exhausting retries returns the error to the workflow body, which may
// recover from it or let it fail the run.
func (rc *RunContext) Step(ctx context.Context, name string, thunk func(ctx context.Context) (any, error)) (any, error) {
	if rec, ok, err := rc.store.LoadCompletedStep(rc.RunID, name); err != nil {
		return nil, err
	} else if ok {
		return rec.Result, nil
	}

	var result any
	err := retrypolicy.Do(ctx, rc.retry, retryAlways, func(attemptCtx context.Context) error {
		if rc.engine.isCancelled(rc.RunID) {
			return weavererr.New(weavererr.ErrorTypeCancelled, "run "+rc.RunID+" was cancelled")
		}

		attempt, attemptErr := rc.store.NextAttempt(rc.RunID, name)
		if attemptErr != nil {
			return attemptErr
		}

		started := time.Now()
		value, thunkErr := thunk(attemptCtx)

		rec := &StepRecord{
			RunID:     rc.RunID,
			Name:      name,
			Attempt:   attempt,
			StartedAt: started,
			EndedAt:   time.Now(),
		}
		if thunkErr != nil {
			rec.Status = StatusFailed
			rec.Error = thunkErr.Error()
			_ = rc.store.SaveStepAttempt(rec)
			return thunkErr
		}

		rec.Status = StatusCompleted
		rec.Result = value
		if saveErr := rc.store.SaveStepAttempt(rec); saveErr != nil {
			return saveErr
		}
		result = value
		return nil
	})
	return result, err
}

// retryAlways retries every error except cancellation, which should
// short-circuit the run immediately rather than consume a retry slot.
func retryAlways(err error) bool {
	return !weavererr.IsType(err, weavererr.ErrorTypeCancelled)
}

// Cancelled reports whether the owning run has been cancelled, for
// workflow bodies that want to check between steps without calling Step.
func (rc *RunContext) Cancelled() bool {
	return rc.engine.isCancelled(rc.RunID)
}
