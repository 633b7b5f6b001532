// Package retrypolicy implements the exponential-backoff-with-jitter
// retry helper shared by the LLM client, the workflow engine's
// step-retry schedule, and the MCP request pipeline's retry middleware —
// one implementation instead of three, grounded on the teacher's
// sync.Worker rate-limit-backoff loop shape.
package retrypolicy

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures an exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default matches spec.md §4.4's LLM retry policy: base 2s, max 16s, up
// to 3 attempts.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 16 * time.Second}
}

// delay returns the backoff duration before attempt (1-indexed),
// doubling each attempt and capping at MaxDelay, with up to ±25% jitter.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}

// Retryable reports whether err should trigger another attempt. Callers
// pass a predicate since each component retries its own set of error
// types (the LLM client's and the MCP middleware's sets differ).
type Retryable func(err error) bool

// Do runs fn up to p.MaxAttempts times, sleeping with backoff between
// attempts, stopping early when fn succeeds, retryable returns false for
// the error, or ctx is cancelled.
func Do(ctx context.Context, p Policy, retryable Retryable, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
