package mcp

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weaver-md/weaver/internal/retrypolicy"
	"github.com/weaver-md/weaver/internal/ttlcache"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// Middleware wraps every tool invocation with the request pipeline
// spec.md §4.7 calls for: a batching window that collects concurrent
// calls and runs them together, a response cache for read-only tools,
// retry on transient failures, and negotiated compression of oversized
// payloads.
type Middleware struct {
	cache                *ttlcache.Cache[any]
	sf                   singleflight.Group
	compressionThreshold int
	retry                retrypolicy.Policy

	batchWindow  time.Duration
	maxBatchSize int

	mu      sync.Mutex
	pending []*pendingCall
	timer   *time.Timer
}

// pendingCall is one caller's in-flight request sitting in the batch
// queue, waiting for the window to elapse or the batch to fill up.
type pendingCall struct {
	ctx  context.Context
	key  string
	fn   func(ctx context.Context) (any, error)
	done chan pendingResult
}

type pendingResult struct {
	value any
	err   error
}

// NewMiddleware builds a Middleware. cacheTTL/cacheCapacity of zero
// disable response caching; compressionThreshold of zero or less
// disables compression. maxBatchSize of zero or less dispatches every
// call on its own; batchWindow of zero or less becomes a 1ms window.
func NewMiddleware(cacheTTL time.Duration, cacheCapacity, compressionThreshold int, batchWindow time.Duration, maxBatchSize int) *Middleware {
	var c *ttlcache.Cache[any]
	if cacheTTL > 0 && cacheCapacity > 0 {
		// Sliding expiry: a query that keeps getting asked is exactly
		// the access pattern this cache exists for, so a hit should
		// keep it warm rather than let it age out mid-burst.
		c = ttlcache.NewSliding[any](cacheTTL, cacheCapacity)
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}
	if batchWindow <= 0 {
		batchWindow = time.Millisecond
	}
	return &Middleware{
		cache:                c,
		compressionThreshold: compressionThreshold,
		retry:                retrypolicy.Default(),
		batchWindow:          batchWindow,
		maxBatchSize:         maxBatchSize,
	}
}

// retryableResult is transient: rate limits, timeouts, circuit-open,
// transport and database errors are retried under the middleware's
// retry policy (retrypolicy.Default, up to 3 attempts); everything else
// (validation, not-found) is not.
func retryableResult(err error) bool {
	switch weavererr.GetType(err) {
	case weavererr.ErrorTypeRateLimit, weavererr.ErrorTypeTimeout,
		weavererr.ErrorTypeCircuitOpen, weavererr.ErrorTypeTransport,
		weavererr.ErrorTypeDatabase:
		return true
	default:
		return false
	}
}

// Invoke runs fn through the pipeline and returns the wire-ready
// envelope bytes described by encode. cacheable tools (the read-only
// query surface) consult and populate the response cache; others
// always run. Every call (cacheable or not) that misses the cache is
// queued into the batch so concurrent distinct requests - e.g. five
// different get_file paths arriving at once - execute together rather
// than one at a time.
func (m *Middleware) Invoke(ctx context.Context, toolName string, args any, cacheable bool, fn func(ctx context.Context) (any, error)) ([]byte, error) {
	start := time.Now()
	key := cacheKey(toolName, args)

	if cacheable && m.cache != nil {
		if v, ok := m.cache.Get(key); ok {
			return m.encode(ctx, successEnvelope(v, time.Since(start), true))
		}
	}

	v, err := m.enqueue(ctx, key, fn)

	elapsed := time.Since(start)
	if err != nil {
		return m.encode(ctx, errorEnvelope(weavererr.SafeErrorMessage(err), elapsed))
	}
	if cacheable && m.cache != nil {
		m.cache.Set(key, v)
	}
	return m.encode(ctx, successEnvelope(v, elapsed, false))
}

// enqueue adds a call to the pending batch and blocks until the batch
// that contains it has run. The batch flushes either when maxBatchSize
// calls have accumulated or batchWindow has elapsed since the first
// call joined the current batch, whichever comes first; every call in
// a flushed batch executes concurrently and one call's failure does not
// affect the others.
func (m *Middleware) enqueue(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	call := &pendingCall{ctx: ctx, key: key, fn: fn, done: make(chan pendingResult, 1)}

	m.mu.Lock()
	m.pending = append(m.pending, call)
	full := len(m.pending) >= m.maxBatchSize
	var batch []*pendingCall
	if full {
		batch = m.pending
		m.pending = nil
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
	} else if m.timer == nil {
		m.timer = time.AfterFunc(m.batchWindow, m.flush)
	}
	m.mu.Unlock()

	if batch != nil {
		go m.runBatch(batch)
	}

	select {
	case res := <-call.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Middleware) flush() {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.timer = nil
	m.mu.Unlock()

	if len(batch) > 0 {
		m.runBatch(batch)
	}
}

// runBatch executes every call in batch concurrently. Each call's
// result is delivered only to the caller that submitted it, so the
// original submission order is preserved from each caller's point of
// view regardless of which call finishes first; identical concurrent
// calls (same cache key) still collapse onto one execution via
// singleflight.
func (m *Middleware) runBatch(batch []*pendingCall) {
	var wg sync.WaitGroup
	for _, call := range batch {
		wg.Add(1)
		go func(c *pendingCall) {
			defer wg.Done()
			v, err, _ := m.sf.Do(c.key, func() (any, error) {
				var result any
				callErr := retrypolicy.Do(c.ctx, m.retry, retryableResult, func(ctx context.Context) error {
					r, e := c.fn(ctx)
					if e != nil {
						return e
					}
					result = r
					return nil
				})
				return result, callErr
			})
			c.done <- pendingResult{value: v, err: err}
		}(call)
	}
	wg.Wait()
}

// InvalidateCache drops every cached response. It is not an MCP tool:
// trigger_workflow calls it after a waited run, and the daemon calls it
// after every vault change.
func (m *Middleware) InvalidateCache() {
	if m.cache != nil {
		m.cache.Clear()
	}
}

func cacheKey(toolName string, args any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return toolName
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%x", toolName, sum)
}

// wireEnvelope is what actually crosses the wire. When the marshaled
// envelope exceeds the compression threshold and the caller negotiated
// support for it, Payload carries the gzip-compressed, base64-encoded
// envelope JSON instead of Envelope carrying Data directly; callers
// must check Compressed first.
type wireEnvelope struct {
	Compressed bool   `json:"compressed"`
	Payload    string `json:"payload,omitempty"`
}

// compressionSupportKey is the context key negotiateCompressionHandler
// (HTTP transport) sets from the client's Accept-Encoding header.
// Stdio-transport calls never set it, so compressionSupported(ctx)
// defaults to false for them - exactly spec.md §4.7 item 4's "clients
// that do not indicate support receive uncompressed payloads".
type compressionSupportKey struct{}

// WithCompressionSupport records whether the caller negotiated gzip
// support, so Middleware.encode can decide whether it's allowed to
// compress a response above the threshold.
func WithCompressionSupport(ctx context.Context, supported bool) context.Context {
	return context.WithValue(ctx, compressionSupportKey{}, supported)
}

func compressionSupported(ctx context.Context) bool {
	supported, _ := ctx.Value(compressionSupportKey{}).(bool)
	return supported
}

// negotiateCompressionHandler inspects the incoming HTTP request's
// Accept-Encoding header and threads the result into the request
// context before handing off to the MCP transport handler, so every
// tool call made over this connection carries its negotiated
// compression support through to Middleware.encode.
func negotiateCompressionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supported := strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
		next.ServeHTTP(w, r.WithContext(WithCompressionSupport(r.Context(), supported)))
	})
}

func (m *Middleware) encode(ctx context.Context, env Envelope) ([]byte, error) {
	if m.compressionThreshold > 0 {
		env.Metadata.Compressed = false
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if m.compressionThreshold <= 0 || len(raw) <= m.compressionThreshold || !compressionSupported(ctx) {
		return raw, nil
	}

	env.Metadata.Compressed = true
	raw, err = json.Marshal(env)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return json.Marshal(wireEnvelope{
		Compressed: true,
		Payload:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}
