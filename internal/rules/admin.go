package rules

import (
	"fmt"
	"sort"
	"time"
)

// RuleStatsView is one rule's stats as exposed in the admin snapshot.
type RuleStatsView struct {
	RuleID          string
	Success         int64
	Fail            int64
	Skip            int64
	AverageDuration time.Duration
}

// Percentiles summarizes action durations across the retained log
// window.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// AdminSnapshot is the rule engine's self-reported health view, used by
// the supplemented get_rule_admin_snapshot MCP tool.
type AdminSnapshot struct {
	TotalRules      int
	EnabledRules    int
	TotalExecutions int64
	DroppedLogs     uint64
	PerRule         []RuleStatsView
	Percentiles     Percentiles
	HealthScore     float64
	Recommendations []string
}

// Snapshot builds an AdminSnapshot from the engine's current registry
// and accumulated statistics: overview, per-rule statistics, duration
// percentiles, and a health score with recommendations, per spec.md
// §4.6's admin-snapshot contract.
func (e *Engine) Snapshot() AdminSnapshot {
	e.mu.RLock()
	total := len(e.rules)
	enabled := 0
	for _, r := range e.rules {
		if r.Enabled {
			enabled++
		}
	}
	e.mu.RUnlock()

	e.statsMu.Lock()
	perRule := make([]RuleStatsView, 0, len(e.stats))
	var totalExec int64
	for id, st := range e.stats {
		perRule = append(perRule, RuleStatsView{
			RuleID:          id,
			Success:         st.Success,
			Fail:            st.Fail,
			Skip:            st.Skip,
			AverageDuration: time.Duration(st.emaNs),
		})
		totalExec += st.Success + st.Fail + st.Skip
	}
	e.statsMu.Unlock()
	sort.Slice(perRule, func(i, j int) bool { return perRule[i].RuleID < perRule[j].RuleID })

	percentiles := e.computePercentiles()
	health, recs := healthScore(perRule, e.entries.Dropped())

	return AdminSnapshot{
		TotalRules:      total,
		EnabledRules:    enabled,
		TotalExecutions: totalExec,
		DroppedLogs:     e.entries.Dropped(),
		PerRule:         perRule,
		Percentiles:     percentiles,
		HealthScore:     health,
		Recommendations: recs,
	}
}

func (e *Engine) computePercentiles() Percentiles {
	entries := e.entries.Snapshot()
	durations := make([]time.Duration, 0, len(entries))
	for _, entry := range entries {
		if entry.Duration > 0 {
			durations = append(durations, entry.Duration)
		}
	}
	if len(durations) == 0 {
		return Percentiles{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	return Percentiles{
		P50: percentileOf(durations, 0.50),
		P95: percentileOf(durations, 0.95),
		P99: percentileOf(durations, 0.99),
	}
}

func percentileOf(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// healthScore derives a 0-100 score from each rule's failure rate and
// the log ring's drop count, with a short list of human-readable
// recommendations for anything dragging the score down.
func healthScore(perRule []RuleStatsView, dropped uint64) (float64, []string) {
	if len(perRule) == 0 {
		return 100, nil
	}

	var recs []string
	score := 100.0
	for _, r := range perRule {
		totalRuns := r.Success + r.Fail
		if totalRuns == 0 {
			continue
		}
		failRate := float64(r.Fail) / float64(totalRuns)
		if failRate > 0 {
			score -= failRate * 20
		}
		if failRate >= 0.5 {
			recs = append(recs, fmt.Sprintf("rule %s is failing %.0f%% of executions", r.RuleID, failRate*100))
		}
	}

	if dropped > 0 {
		score -= 5
		recs = append(recs, fmt.Sprintf("execution log has dropped %d entries; consider raising log capacity", dropped))
	}

	if score < 0 {
		score = 0
	}
	return score, recs
}
