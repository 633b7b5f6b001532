package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaver-md/weaver/internal/obslog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir(), 3, obslog.Noop())
	require.NoError(t, err)
	return e
}

func TestStartAndReturnValueSuccess(t *testing.T) {
	e := newTestEngine(t)
	e.Register(Definition{
		ID: "double",
		Body: func(ctx context.Context, rc *RunContext, input any) (any, error) {
			n := input.(float64)
			result, err := rc.Step(ctx, "double-it", func(ctx context.Context) (any, error) {
				return n * 2, nil
			})
			return result, err
		},
	})

	runID, err := e.Start("double", float64(21))
	require.NoError(t, err)

	out, err := e.ReturnValue(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)

	rec, err := e.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestStepMemoizesAcrossReplay(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	e.Register(Definition{
		ID: "count-once",
		Body: func(ctx context.Context, rc *RunContext, input any) (any, error) {
			return rc.Step(ctx, "increment", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				return "done", nil
			})
		},
	})

	runID, err := e.Start("count-once", nil)
	require.NoError(t, err)
	_, err = e.ReturnValue(context.Background(), runID)
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Simulate a replay of the same run id: Step must not re-run the thunk.
	rc := &RunContext{RunID: runID, store: e.store, engine: e, retry: e.retry}
	result, err := rc.Step(context.Background(), "increment", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "should-not-run", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "replay must reuse the persisted result")
}

func TestFailingStepRetriesThenFailsRun(t *testing.T) {
	e := newTestEngine(t)
	e.retry.BaseDelay = time.Millisecond
	e.retry.MaxDelay = 2 * time.Millisecond
	e.retry.MaxAttempts = 2

	var calls int32
	e.Register(Definition{
		ID: "always-fails",
		Body: func(ctx context.Context, rc *RunContext, input any) (any, error) {
			return rc.Step(ctx, "boom", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&calls, 1)
				return nil, errors.New("transient failure")
			})
		},
	})

	runID, err := e.Start("always-fails", nil)
	require.NoError(t, err)

	_, err = e.ReturnValue(context.Background(), runID)
	require.Error(t, err)

	rec, err := e.Status(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCancelShortCircuitsNextStep(t *testing.T) {
	e := newTestEngine(t)
	started := make(chan struct{})
	resume := make(chan struct{})

	e.Register(Definition{
		ID: "cancellable",
		Body: func(ctx context.Context, rc *RunContext, input any) (any, error) {
			_, err := rc.Step(ctx, "first", func(ctx context.Context) (any, error) {
				close(started)
				<-resume
				return "ok", nil
			})
			if err != nil {
				return nil, err
			}
			return rc.Step(ctx, "second", func(ctx context.Context) (any, error) {
				return "unreachable", nil
			})
		},
	})

	runID, err := e.Start("cancellable", nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, e.Cancel(runID))
	close(resume)

	_, err = e.ReturnValue(context.Background(), runID)
	require.Error(t, err)

	rec, statusErr := e.Status(runID)
	require.NoError(t, statusErr)
	assert.Equal(t, StatusCancelled, rec.Status)
}

func TestHistoryFiltersByWorkflowID(t *testing.T) {
	e := newTestEngine(t)
	e.Register(Definition{ID: "a", Body: func(ctx context.Context, rc *RunContext, input any) (any, error) { return nil, nil }})
	e.Register(Definition{ID: "b", Body: func(ctx context.Context, rc *RunContext, input any) (any, error) { return nil, nil }})

	id1, err := e.Start("a", nil)
	require.NoError(t, err)
	id2, err := e.Start("b", nil)
	require.NoError(t, err)
	_, _ = e.ReturnValue(context.Background(), id1)
	_, _ = e.ReturnValue(context.Background(), id2)

	runs, err := e.History(HistoryParams{WorkflowID: "a"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].WorkflowID)
}
