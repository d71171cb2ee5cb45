package models

import "time"

// PerformanceRecord is one ledger entry: the outcome of a single attempt.
type PerformanceRecord struct {
	SelectorID string        `json:"selector_id"`
	StrategyID string        `json:"strategy_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Success    bool          `json:"success"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration_ns"`
	Fallback   bool          `json:"fallback"`
	Outcome    Outcome       `json:"outcome"`
}

// Trend is the direction of a success rate over time.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDegrading        Trend = "degrading"
	TrendInsufficientData Trend = "insufficient_data"
)

// DriftReport summarizes how a selector (or one of its strategies) has
// been performing across a window.
type DriftReport struct {
	SelectorID     string    `json:"selector_id"`
	StrategyID     string    `json:"strategy_id,omitempty"`
	Trend          Trend     `json:"trend"`
	Volatility     float64   `json:"volatility"`
	Delta          float64   `json:"delta"`
	Slope          float64   `json:"slope"`
	Samples        int       `json:"samples"`
	SubWindowRates []float64 `json:"sub_window_rates,omitempty"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

// Action is what the evolution manager recommends for a strategy.
type Action string

const (
	ActionPromote   Action = "promote"
	ActionDemote    Action = "demote"
	ActionBlacklist Action = "blacklist"
	ActionKeep      Action = "keep"
)

// RecommendationMetrics are the figures that justified a recommendation.
type RecommendationMetrics struct {
	SuccessRate       float64       `json:"success_rate"`
	RecentSuccessRate float64       `json:"recent_success_rate"`
	Samples           int           `json:"samples"`
	P95               time.Duration `json:"p95_ns"`
	Trend             Trend         `json:"trend"`
	Delta             float64       `json:"delta"`
}

// StrategyRecommendation is one proposed mutation of a selector definition.
// TargetRank is the zero-based position in priority order the strategy
// should occupy after a promote or demote.
type StrategyRecommendation struct {
	StrategyID string                `json:"strategy_id"`
	Action     Action                `json:"action"`
	TargetRank int                   `json:"target_rank"`
	Reason     string                `json:"reason,omitempty"`
	Metrics    RecommendationMetrics `json:"metrics"`
}
