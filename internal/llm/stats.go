package llm

import (
	"sync"
	"sync/atomic"
	"time"
)

// rollingWindow bounds how far back Stats keeps call timestamps for its
// per-hour rate view, mirroring the teacher's APIStats rolling window.
const rollingWindow = time.Hour

// attemptStats tracks per-model-call metrics, the LLM analogue of the
// teacher's OperationStats (keyed by GraphQL operation name there, by
// model here).
type attemptStats struct {
	Count       int64
	TotalTimeNs int64
	Errors      int64
}

// Stats accumulates call counts, latency, error counts, and rate-limiter
// wait time for a Client, grounded on the teacher's APIStats.
type Stats struct {
	mu              sync.RWMutex
	byModel         map[string]*attemptStats
	recentCalls     []time.Time
	rateLimitWaitNs int64
	circuitTrips    int64
	startTime       time.Time
}

func newStats() *Stats {
	return &Stats{
		byModel:     make(map[string]*attemptStats),
		recentCalls: make([]time.Time, 0, 256),
		startTime:   time.Now(),
	}
}

// Record logs one completed call's model, duration, and outcome.
func (s *Stats) Record(model string, d time.Duration, err error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byModel[model]
	if !ok {
		st = &attemptStats{}
		s.byModel[model] = st
	}
	st.Count++
	st.TotalTimeNs += d.Nanoseconds()
	if err != nil {
		st.Errors++
	}

	s.recentCalls = append(s.recentCalls, now)
	cutoff := now.Add(-rollingWindow)
	firstValid := 0
	for i, t := range s.recentCalls {
		if t.After(cutoff) {
			firstValid = i
			break
		}
	}
	if firstValid > 0 {
		s.recentCalls = s.recentCalls[firstValid:]
	}
}

// RecordRateLimitWait accumulates time spent blocked on the rate limiter.
func (s *Stats) RecordRateLimitWait(d time.Duration) {
	atomic.AddInt64(&s.rateLimitWaitNs, d.Nanoseconds())
}

// RecordCircuitTrip increments the circuit-open counter, surfaced in the
// rule engine's admin snapshot as part of overall LLM health.
func (s *Stats) RecordCircuitTrip() {
	atomic.AddInt64(&s.circuitTrips, 1)
}

// HourlyCount returns the number of calls within the last rolling hour.
func (s *Stats) HourlyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-rollingWindow)
	count := 0
	for _, t := range s.recentCalls {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// Snapshot captures a point-in-time view of accumulated stats.
type Snapshot struct {
	HourlyCalls     int
	RateLimitWait   time.Duration
	CircuitTrips    int64
	Uptime          time.Duration
	TotalCalls      int64
	TotalErrors     int64
	AverageLatency  time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalCalls, totalErrors, totalNs int64
	for _, st := range s.byModel {
		totalCalls += st.Count
		totalErrors += st.Errors
		totalNs += st.TotalTimeNs
	}

	var avg time.Duration
	if totalCalls > 0 {
		avg = time.Duration(totalNs / totalCalls)
	}

	return Snapshot{
		HourlyCalls:    s.HourlyCount(),
		RateLimitWait:  time.Duration(atomic.LoadInt64(&s.rateLimitWaitNs)),
		CircuitTrips:   atomic.LoadInt64(&s.circuitTrips),
		Uptime:         time.Since(s.startTime),
		TotalCalls:     totalCalls,
		TotalErrors:    totalErrors,
		AverageLatency: avg,
	}
}
