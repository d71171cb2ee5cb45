// Package telemetry derives per-strategy health figures from ledger
// records and exposes engine counters to Prometheus.
package telemetry

import (
	"math"
	"sort"
	"time"

	"github.com/use-agent/pinpoint/models"
)

// Weights of the stability score terms.
const (
	successWeight  = 0.6
	fallbackWeight = 0.2
	latencyWeight  = 0.2
)

// StabilityScore combines reliability, fallback pressure and latency
// headroom into one number in [0,1]. The latency term is 1 when p95 is
// zero or within budget.
func StabilityScore(successRate, fallbackRate float64, budget, p95 time.Duration) float64 {
	latency := 1.0
	if p95 > 0 {
		latency = math.Min(1, float64(budget)/float64(p95))
	}
	score := successRate*successWeight + (1-fallbackRate)*fallbackWeight + latency*latencyWeight
	return math.Max(0, math.Min(1, score))
}

// Summarize computes stats over records, which are assumed to belong to
// one strategy. An empty slice yields zero stats.
func Summarize(records []models.PerformanceRecord, budget time.Duration) models.StrategyStats {
	var st models.StrategyStats
	if len(records) == 0 {
		return st
	}
	st.StrategyID = records[0].StrategyID
	st.Samples = len(records)

	durations := make([]time.Duration, len(records))
	success, fallback := 0, 0
	for i, r := range records {
		durations[i] = r.Duration
		if r.Success {
			success++
		}
		if r.Fallback {
			fallback++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	st.SuccessRate = float64(success) / float64(st.Samples)
	st.FallbackRate = float64(fallback) / float64(st.Samples)
	st.P50 = Percentile(durations, 0.50)
	st.P95 = Percentile(durations, 0.95)
	st.Worst = durations[len(durations)-1]
	st.StabilityScore = StabilityScore(st.SuccessRate, st.FallbackRate, budget, st.P95)
	return st
}

// Percentile returns the nearest-rank percentile of sorted durations.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// BySelector groups a selector's records per strategy and summarizes each
// group. Output is ordered by strategy id.
func BySelector(records []models.PerformanceRecord, budget time.Duration) []models.StrategyStats {
	groups := make(map[string][]models.PerformanceRecord)
	for _, r := range records {
		groups[r.StrategyID] = append(groups[r.StrategyID], r)
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.StrategyStats, 0, len(ids))
	for _, id := range ids {
		out = append(out, Summarize(groups[id], budget))
	}
	return out
}
