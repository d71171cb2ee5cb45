package models

// ResolveRequest is the payload for POST /api/v1/resolve.
type ResolveRequest struct {
	// SelectorIDs lists the registered selectors to resolve. Required.
	SelectorIDs []string `json:"selector_ids" binding:"required,min=1,max=100"`

	// HTML is a static document to resolve against. Either HTML or URL
	// must be set.
	HTML string `json:"html,omitempty"`

	// URL is loaded in the shared browser when HTML is empty.
	URL string `json:"url,omitempty" binding:"omitempty,url"`

	// Stealth opens the page with anti-detection evasions (URL only).
	Stealth bool `json:"stealth,omitempty"`

	// ScopeID labels the document context in results and snapshots.
	ScopeID string `json:"scope_id,omitempty"`

	// TimeoutMs is the overall deadline per selector. Default: resolver
	// default deadline.
	TimeoutMs int `json:"timeout_ms,omitempty" binding:"omitempty,min=0,max=120000"`
}

// Defaults applies default values to unset fields.
func (r *ResolveRequest) Defaults() {
	if r.ScopeID == "" {
		if r.URL != "" {
			r.ScopeID = r.URL
		} else {
			r.ScopeID = "inline"
		}
	}
}

// RecommendationRequest is the optional payload for POST
// /api/v1/selectors/:id/evolve. When Recommendations is empty the
// manager evaluates the selector itself.
type RecommendationRequest struct {
	Recommendations []StrategyRecommendation `json:"recommendations,omitempty"`
}
