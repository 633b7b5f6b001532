package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaver-md/weaver/internal/weavererr"
)

func TestInvokeCachesReadOnlyCalls(t *testing.T) {
	mw := NewMiddleware(time.Minute, 100, 0, time.Millisecond, 1)
	var calls int32

	args := map[string]any{"a": 1}
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "result", nil
	}

	first, err := mw.Invoke(context.Background(), "tool", args, true, fn)
	require.NoError(t, err)
	second, err := mw.Invoke(context.Background(), "tool", args, true, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var firstEnv, secondEnv Envelope
	require.NoError(t, json.Unmarshal(first, &firstEnv))
	require.NoError(t, json.Unmarshal(second, &secondEnv))
	assert.False(t, firstEnv.Metadata.CacheHit)
	assert.True(t, secondEnv.Metadata.CacheHit)
}

func TestInvokeDoesNotCacheNonCacheableCalls(t *testing.T) {
	mw := NewMiddleware(time.Minute, 100, 0, time.Millisecond, 1)
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "result", nil
	}

	_, err := mw.Invoke(context.Background(), "tool", nil, false, fn)
	require.NoError(t, err)
	_, err = mw.Invoke(context.Background(), "tool", nil, false, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInvokeRetriesTransientErrorsThenSucceeds(t *testing.T) {
	mw := NewMiddleware(0, 0, 0, time.Millisecond, 1)
	mw.retry.MaxAttempts = 3
	mw.retry.BaseDelay = time.Millisecond
	mw.retry.MaxDelay = time.Millisecond

	var attempts int32
	fn := func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return nil, weavererr.NewRateLimitError("test")
		}
		return "ok", nil
	}

	body, err := mw.Invoke(context.Background(), "tool", nil, false, fn)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.True(t, env.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestInvokeReturnsErrorEnvelopeOnNonRetryableFailure(t *testing.T) {
	mw := NewMiddleware(0, 0, 0, time.Millisecond, 1)
	fn := func(ctx context.Context) (any, error) {
		return nil, weavererr.NewValidationError("bad input")
	}

	body, err := mw.Invoke(context.Background(), "tool", nil, false, fn)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "bad input")
}

func TestInvokeCompressesOversizedPayloadsWhenNegotiated(t *testing.T) {
	mw := NewMiddleware(0, 0, 10, time.Millisecond, 1)
	fn := func(ctx context.Context) (any, error) {
		return strings.Repeat("x", 1000), nil
	}

	ctx := WithCompressionSupport(context.Background(), true)
	body, err := mw.Invoke(ctx, "tool", nil, false, fn)
	require.NoError(t, err)

	var wire wireEnvelope
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.True(t, wire.Compressed)
	assert.NotEmpty(t, wire.Payload)
}

func TestInvokeLeavesPayloadUncompressedWithoutNegotiation(t *testing.T) {
	mw := NewMiddleware(0, 0, 10, time.Millisecond, 1)
	fn := func(ctx context.Context) (any, error) {
		return strings.Repeat("x", 1000), nil
	}

	// Plain background context never negotiated compression support -
	// the stdio-transport default - so even an oversized payload must
	// cross the wire uncompressed.
	body, err := mw.Invoke(context.Background(), "tool", nil, false, fn)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	assert.False(t, env.Metadata.Compressed)
}

func TestInvalidateCacheClearsPriorResults(t *testing.T) {
	mw := NewMiddleware(time.Minute, 100, 0, time.Millisecond, 1)
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "result", nil
	}

	_, err := mw.Invoke(context.Background(), "tool", nil, true, fn)
	require.NoError(t, err)
	mw.InvalidateCache()
	_, err = mw.Invoke(context.Background(), "tool", nil, true, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryableResultClassification(t *testing.T) {
	assert.True(t, retryableResult(weavererr.NewRateLimitError("x")))
	assert.True(t, retryableResult(weavererr.NewCircuitOpenError("x")))
	assert.False(t, retryableResult(weavererr.NewValidationError("x")))
	assert.False(t, retryableResult(errors.New("plain")))
}

// TestInvokeBatchesConcurrentDistinctCallsInOrder reproduces spec.md
// §8 scenario 5: five concurrent get_file-shaped calls submitted within
// one batch window, one of them (item 3) failing validation, the rest
// succeeding - every caller gets back exactly its own result (so, from
// each caller's perspective, results come back in the order they were
// submitted), item 3's failure doesn't affect any other item, and the
// five calls run concurrently rather than one at a time.
func TestInvokeBatchesConcurrentDistinctCallsInOrder(t *testing.T) {
	mw := NewMiddleware(0, 0, 0, 200*time.Millisecond, 10)

	paths := []string{"a.md", "b.md", "INVALID", "d.md", "e.md"}
	var inFlight int32
	var maxInFlight int32
	var maxMu sync.Mutex

	results := make([]string, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			body, err := mw.Invoke(context.Background(), "get_file", map[string]string{"path": path}, false,
				func(ctx context.Context) (any, error) {
					n := atomic.AddInt32(&inFlight, 1)
					maxMu.Lock()
					if n > maxInFlight {
						maxInFlight = n
					}
					maxMu.Unlock()
					// Hold the slot briefly so concurrent calls overlap
					// long enough for the assertion below to observe it.
					time.Sleep(20 * time.Millisecond)
					atomic.AddInt32(&inFlight, -1)

					if path == "INVALID" {
						return nil, weavererr.NewValidationError("path is required")
					}
					return path, nil
				})
			errs[i] = err
			if err == nil {
				var env Envelope
				if jsonErr := json.Unmarshal(body, &env); jsonErr == nil {
					if env.Success {
						results[i], _ = env.Data.(string)
					} else {
						errs[i] = errors.New(env.Error)
					}
				}
			}
		}(i, p)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2), "calls should have run concurrently, not serially")

	assert.Equal(t, "a.md", results[0])
	assert.NoError(t, errs[0])
	assert.Equal(t, "b.md", results[1])
	assert.NoError(t, errs[1])
	assert.Error(t, errs[2])
	assert.Contains(t, errs[2].Error(), "path is required")
	assert.Equal(t, "d.md", results[3])
	assert.NoError(t, errs[3])
	assert.Equal(t, "e.md", results[4])
	assert.NoError(t, errs[4])
}

// TestEnqueueFlushesOnMaxBatchSizeWithoutWaitingForWindow checks the
// size-triggered flush path independently of the timer path: with a
// long window and maxBatchSize 2, the second of two concurrent calls
// should trigger an immediate flush rather than block for the window.
func TestEnqueueFlushesOnMaxBatchSizeWithoutWaitingForWindow(t *testing.T) {
	mw := NewMiddleware(0, 0, 0, time.Hour, 2)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mw.Invoke(context.Background(), "tool", i, false, func(ctx context.Context) (any, error) {
				return i, nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second, "size-triggered flush should not wait for the batch window")
}
