package llm

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/weavererr"
)

// newBreaker builds the circuit breaker layer of spec.md §4.4's
// resilience stack: closed → open once a minimum request volume has
// been seen and the failure ratio crosses the configured threshold,
// open fails fast for a cooldown, then half-open admits one probe.
// Settings/ReadyToTrip/OnStateChange wiring follows the pack's gobreaker
// usage (kubernaut's circuit breaker manager construction).
func newBreaker(name string, minRequests uint32, failureRatio float64, cooldown time.Duration, stats *Stats, log *zap.SugaredLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= failureRatio
		},
		OnStateChange: func(breakerName string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				stats.RecordCircuitTrip()
			}
			if log != nil {
				log.Infow("llm circuit breaker state change", "breaker", breakerName, "from", from.String(), "to", to.String())
			}
		},
	})
}

// execute runs fn through the breaker, translating gobreaker's own
// open-state error into the taxonomy's CircuitOpen type so callers don't
// need to know about gobreaker.
func execute(cb *gobreaker.CircuitBreaker, name string, fn func() (any, error)) (any, error) {
	result, err := cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, weavererr.NewCircuitOpenError(name)
	}
	return result, err
}
