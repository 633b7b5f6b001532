package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/weaver-md/weaver/internal/weavererr"
)

// maxQueueWait bounds how long a caller will wait for a rate-limiter
// reservation before failing fast, implementing spec.md §4.4's "queues
// up to a bound then fails fast with RateLimited on overflow" — the
// teacher's client.go instead calls limiter.Wait(ctx) unbounded, which
// is fine for Linear's generous hourly budget but wrong for an
// interactive LLM call that must not hang indefinitely.
const maxQueueWait = 10 * time.Second

// acquire reserves a rate-limiter token, waiting up to maxQueueWait. It
// fails fast with a RateLimit error on overflow instead of blocking
// forever, and records the wait in stats the way the teacher's
// APIStats.RecordRateLimitWait does.
func acquire(ctx context.Context, limiter *rate.Limiter, stats *Stats) error {
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return weavererr.NewRateLimitError("request exceeds rate limiter burst capacity")
	}

	delay := reservation.Delay()
	if delay > maxQueueWait {
		reservation.Cancel()
		return weavererr.NewRateLimitError("rate limiter queue depth exceeded").WithDetailsf("would wait %s", delay)
	}
	if delay == 0 {
		return nil
	}

	start := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		stats.RecordRateLimitWait(time.Since(start))
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return weavererr.Wrap(ctx.Err(), weavererr.ErrorTypeCancelled, "wait for rate limiter")
	}
}
