// Package evolution reorders, demotes and disables selector strategies
// based on their recorded performance.
package evolution

import (
	"fmt"
	"time"

	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/drift"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/telemetry"
)

// Policy holds the thresholds behind every recommendation.
type Policy struct {
	MinSamples         int
	BlacklistFloor     float64
	DemoteFloor        float64
	PromoteSuccessRate float64
	PromoteMaxP95      time.Duration
}

// NewPolicy builds a Policy from configuration.
func NewPolicy(cfg config.EvolutionConfig) Policy {
	return Policy{
		MinSamples:         cfg.MinSamples,
		BlacklistFloor:     cfg.BlacklistFloor,
		DemoteFloor:        cfg.DemoteFloor,
		PromoteSuccessRate: cfg.PromoteSuccessRate,
		PromoteMaxP95:      cfg.PromoteMaxP95,
	}
}

// recommend applies the policy to every strategy of def in rank order.
// A rank already claimed by an earlier recommendation downgrades later
// rank moves targeting it to keep.
func (p Policy) recommend(def models.SelectorDefinition, recs []models.PerformanceRecord, driftCfg config.DriftConfig) []models.StrategyRecommendation {
	ordered := def.Ordered()
	last := len(ordered) - 1
	claimed := make(map[int]bool)
	out := make([]models.StrategyRecommendation, 0, len(ordered))

	for rank, s := range ordered {
		own := ledger.FilterStrategy(recs, s.ID)
		stats := telemetry.Summarize(own, 0)
		report := drift.Compute(own, driftCfg)

		m := models.RecommendationMetrics{
			SuccessRate:       stats.SuccessRate,
			RecentSuccessRate: stats.SuccessRate,
			Samples:           stats.Samples,
			P95:               stats.P95,
			Trend:             report.Trend,
			Delta:             report.Delta,
		}
		if n := len(report.SubWindowRates); n > 0 {
			m.RecentSuccessRate = report.SubWindowRates[n-1]
		}

		rec := models.StrategyRecommendation{StrategyID: s.ID, Action: models.ActionKeep, TargetRank: rank, Metrics: m}
		enough := m.Samples >= p.MinSamples && m.Samples > 0

		switch {
		case !s.Enabled:
			rec.Reason = "disabled"
		case enough && m.SuccessRate < p.BlacklistFloor && m.Trend == models.TrendDegrading:
			rec.Action = models.ActionBlacklist
			rec.Reason = fmt.Sprintf("success rate %.2f below %.2f and degrading", m.SuccessRate, p.BlacklistFloor)
		case enough && rank < last && m.RecentSuccessRate < p.DemoteFloor && m.Delta < 0:
			rec.Action = models.ActionDemote
			rec.TargetRank = rank + 1
			rec.Reason = fmt.Sprintf("recent success rate %.2f below %.2f", m.RecentSuccessRate, p.DemoteFloor)
		case enough && rank > 0 && m.SuccessRate >= p.PromoteSuccessRate && m.P95 <= p.PromoteMaxP95:
			rec.Action = models.ActionPromote
			rec.TargetRank = rank - 1
			rec.Reason = fmt.Sprintf("success rate %.2f with p95 %s", m.SuccessRate, m.P95)
		}

		if rec.Action == models.ActionPromote || rec.Action == models.ActionDemote {
			if claimed[rec.TargetRank] {
				rec.Action = models.ActionKeep
				rec.TargetRank = rank
				rec.Reason = "target rank already claimed"
			} else {
				claimed[rec.TargetRank] = true
			}
		}
		out = append(out, rec)
	}
	return out
}
