package models

import "time"

// ResolveResponse is the response for POST /api/v1/resolve.
type ResolveResponse struct {
	// Success is true when every requested selector resolved.
	Success bool `json:"success"`

	// Results holds one entry per requested selector, in request order.
	Results []*ResolutionResult `json:"results"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// Error is populated only when the request itself failed.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo provides duration breakdowns in milliseconds.
type TimingInfo struct {
	TotalMs    int64 `json:"total_ms"`
	DocumentMs int64 `json:"document_ms"`
	ResolveMs  int64 `json:"resolve_ms"`
}

// StrategyStats are the telemetry figures for one strategy.
type StrategyStats struct {
	StrategyID     string        `json:"strategy_id"`
	Samples        int           `json:"samples"`
	SuccessRate    float64       `json:"success_rate"`
	FallbackRate   float64       `json:"fallback_rate"`
	P50            time.Duration `json:"p50_ns"`
	P95            time.Duration `json:"p95_ns"`
	Worst          time.Duration `json:"worst_ns"`
	StabilityScore float64       `json:"stability_score"`
}

// TelemetryResponse is the response for GET /api/v1/selectors/:id/telemetry.
type TelemetryResponse struct {
	SelectorID string          `json:"selector_id"`
	Window     string          `json:"window"`
	Strategies []StrategyStats `json:"strategies"`
}

// EvolveResponse is the response for POST /api/v1/selectors/:id/evolve.
type EvolveResponse struct {
	SelectorID      string                   `json:"selector_id"`
	Applied         bool                     `json:"applied"`
	Recommendations []StrategyRecommendation `json:"recommendations"`
	Definition      *SelectorDefinition      `json:"definition,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Selectors int    `json:"selectors"`
	Browser   bool   `json:"browser"`
	Uptime    int64  `json:"uptime_seconds"`
}
