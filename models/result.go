package models

import (
	"time"

	"golang.org/x/net/html"
)

// Signals are the raw match facts a strategy reports for its candidate.
type Signals struct {
	// Strength is the strategy's own match quality in [0,1].
	Strength float64 `json:"strength"`
	// Matches is how many nodes satisfied the strategy.
	Matches int `json:"matches"`
	// Exact is set when the match did not rely on partial or fuzzy rules.
	Exact bool `json:"exact"`
	// Depth is the hop distance walked by relational strategies.
	Depth int `json:"depth,omitempty"`
}

// Candidate is a node located by a strategy.
type Candidate struct {
	Node       *html.Node        `json:"-"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OuterHTML  string            `json:"outer_html,omitempty"`
	Path       string            `json:"path"`
	Signals    Signals           `json:"signals"`
}

// ResolutionState is the orchestrator's state machine position.
type ResolutionState string

const (
	StatePending           ResolutionState = "pending"
	StateAttempting        ResolutionState = "attempting"
	StateSucceeded         ResolutionState = "succeeded"
	StateAllAttemptsFailed ResolutionState = "all_attempts_failed"
)

// Outcome of a single strategy attempt.
type Outcome string

const (
	OutcomeMatched       Outcome = "matched"
	OutcomeLowConfidence Outcome = "low_confidence"
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeError         Outcome = "error"
)

// Failure reasons carried by unsuccessful results.
const (
	ReasonNotFound      = "not_found"
	ReasonLowConfidence = "low_confidence"
	ReasonTimeout       = "timeout"
	ReasonCancelled     = "cancelled"
	ReasonNoStrategies  = "no_enabled_strategies"
)

// AttemptOutcome records one strategy attempt within a resolution.
type AttemptOutcome struct {
	StrategyID string        `json:"strategy_id"`
	Kind       StrategyKind  `json:"kind"`
	Priority   int           `json:"priority"`
	Outcome    Outcome       `json:"outcome"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// ResolutionResult is the terminal output of resolving one selector.
type ResolutionResult struct {
	SelectorID    string           `json:"selector_id"`
	Success       bool             `json:"success"`
	State         ResolutionState  `json:"state"`
	StrategyID    string           `json:"strategy_id,omitempty"`
	Candidate     *Candidate       `json:"candidate,omitempty"`
	BestEffort    *Candidate       `json:"best_effort,omitempty"`
	Confidence    float64          `json:"confidence"`
	Duration      time.Duration    `json:"duration_ns"`
	Attempts      []AttemptOutcome `json:"attempts"`
	FailureReason string           `json:"failure_reason,omitempty"`
	SnapshotID    string           `json:"snapshot_id,omitempty"`
}

// StrategiesAttempted lists the ids of every attempted strategy in order.
func (r *ResolutionResult) StrategiesAttempted() []string {
	ids := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		ids = append(ids, a.StrategyID)
	}
	return ids
}
