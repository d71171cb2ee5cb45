// Package resolver runs a selector's strategies in priority order until
// one produces a confident match.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/scoring"
	"github.com/use-agent/pinpoint/snapshot"
	"github.com/use-agent/pinpoint/strategy"
	"github.com/use-agent/pinpoint/telemetry"
)

// SnapshotSink accepts failure captures without blocking.
type SnapshotSink interface {
	Enqueue(doc *document.Context, req snapshot.Request) (id string, accepted bool)
}

// Resolver is the resolution orchestrator. It is safe for concurrent use.
type Resolver struct {
	registry  *registry.Registry
	executor  strategy.Executor
	scorer    *scoring.Scorer
	ledger    ledger.Ledger
	snapshots SnapshotSink
	metrics   *telemetry.Metrics
	cfg       config.ResolverConfig
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSnapshots sends one capture per failed resolution to sink.
func WithSnapshots(sink SnapshotSink) Option { return func(r *Resolver) { r.snapshots = sink } }

// WithMetrics records resolutions and attempts on m.
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// WithExecutor replaces the default strategy executor.
func WithExecutor(e strategy.Executor) Option { return func(r *Resolver) { r.executor = e } }

// New creates a Resolver.
func New(reg *registry.Registry, l ledger.Ledger, cfg config.ResolverConfig, opts ...Option) *Resolver {
	if cfg.StrategyBudget <= 0 {
		cfg.StrategyBudget = 200 * time.Millisecond
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	r := &Resolver{
		registry: reg,
		executor: strategy.NewExecutor(cfg.StabilityWait),
		scorer:   scoring.New(cfg.SignalWeight, cfg.AmbiguityPenalty),
		ledger:   l,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func contextInvalid() error {
	return models.NewEngineError(models.ErrCodeContextInvalid, "document context is no longer valid", document.ErrInvalid)
}

// Resolve resolves a registered selector against doc.
func (r *Resolver) Resolve(ctx context.Context, selectorID string, doc *document.Context) (*models.ResolutionResult, error) {
	def, err := r.registry.Get(selectorID)
	if err != nil {
		return nil, err
	}
	return r.ResolveDefinition(ctx, def, doc)
}

// ResolveDefinition resolves def against doc. Resolution failures are
// reported in the result; the only errors are an invalid document
// context and an invalid definition.
func (r *Resolver) ResolveDefinition(ctx context.Context, def models.SelectorDefinition, doc *document.Context) (*models.ResolutionResult, error) {
	if doc == nil || !doc.Valid() {
		return nil, contextInvalid()
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && r.cfg.DefaultDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DefaultDeadline)
		defer cancel()
	}

	start := r.now()
	res := &models.ResolutionResult{SelectorID: def.ID, State: models.StatePending}
	enabled := def.Enabled()
	// records must land even when the resolution deadline has passed
	recordCtx := context.WithoutCancel(ctx)

	var (
		best      *models.Candidate
		bestScore = -1.0
		stopped   string
	)

	res.State = models.StateAttempting
	for i, spec := range enabled {
		if err := ctx.Err(); err != nil {
			stopped = models.ReasonCancelled
			if errors.Is(err, context.DeadlineExceeded) {
				stopped = models.ReasonTimeout
			}
			break
		}
		if !doc.Valid() {
			return nil, contextInvalid()
		}

		att := r.executor.Attempt(ctx, spec, doc, def.Scope, r.cfg.StrategyBudget)
		score := 0.0
		if att.Candidate != nil {
			score = r.scorer.Score(att.Candidate, def.Rules)
		}
		threshold := math.Max(def.Threshold, spec.Threshold)
		passed := att.Outcome == models.OutcomeMatched && score >= threshold
		outcome := att.Outcome
		if att.Outcome == models.OutcomeMatched && !passed {
			outcome = models.OutcomeLowConfidence
		}

		ao := models.AttemptOutcome{
			StrategyID: spec.ID,
			Kind:       spec.Kind(),
			Priority:   spec.Priority,
			Outcome:    outcome,
			Confidence: score,
			Duration:   att.Duration,
		}
		if att.Err != nil {
			ao.Error = att.Err.Error()
		}
		res.Attempts = append(res.Attempts, ao)
		r.record(recordCtx, def.ID, ao, passed, i > 0)

		if att.Candidate != nil && score > bestScore {
			best, bestScore = att.Candidate, score
		}
		if passed {
			res.Success = true
			res.State = models.StateSucceeded
			res.StrategyID = spec.ID
			res.Candidate = att.Candidate
			res.Confidence = score
			break
		}
		slog.Debug("strategy attempt failed",
			"selector", def.ID,
			"strategy", spec.ID,
			"outcome", outcome,
			"confidence", score,
			"threshold", threshold,
		)
	}

	res.Duration = r.now().Sub(start)
	if res.Success {
		r.metrics.RecordResolution(def.ID, "success", res.Duration)
		return res, nil
	}

	res.State = models.StateAllAttemptsFailed
	switch {
	case stopped != "":
		res.FailureReason = stopped
	case len(enabled) == 0:
		res.FailureReason = models.ReasonNoStrategies
	case allTimedOut(res.Attempts):
		res.FailureReason = models.ReasonTimeout
	case best != nil:
		res.FailureReason = models.ReasonLowConfidence
	default:
		res.FailureReason = models.ReasonNotFound
	}
	if best != nil {
		res.BestEffort = best
		res.Confidence = bestScore
	}
	r.metrics.RecordResolution(def.ID, res.FailureReason, res.Duration)
	slog.Info("selector resolution failed",
		"selector", def.ID,
		"reason", res.FailureReason,
		"attempts", len(res.Attempts),
		"duration_ms", res.Duration.Milliseconds(),
	)
	r.snapshot(def, doc, res)
	return res, nil
}

// allTimedOut reports whether every recorded attempt ran out of budget.
func allTimedOut(attempts []models.AttemptOutcome) bool {
	for _, a := range attempts {
		if a.Outcome != models.OutcomeTimeout {
			return false
		}
	}
	return len(attempts) > 0
}

func (r *Resolver) record(ctx context.Context, selectorID string, ao models.AttemptOutcome, success, fallback bool) {
	r.metrics.RecordAttempt(selectorID, ao.StrategyID, string(ao.Outcome))
	if r.ledger == nil {
		return
	}
	err := r.ledger.Append(ctx, models.PerformanceRecord{
		SelectorID: selectorID,
		StrategyID: ao.StrategyID,
		Timestamp:  r.now(),
		Success:    success,
		Confidence: ao.Confidence,
		Duration:   ao.Duration,
		Fallback:   fallback,
		Outcome:    ao.Outcome,
	})
	if err != nil {
		slog.Warn("ledger append failed",
			"selector", selectorID,
			"strategy", ao.StrategyID,
			"error", err,
		)
	}
}

func (r *Resolver) snapshot(def models.SelectorDefinition, doc *document.Context, res *models.ResolutionResult) {
	if r.snapshots == nil {
		return
	}
	id, ok := r.snapshots.Enqueue(doc, snapshot.Request{
		SelectorID:     def.ID,
		Site:           def.Site,
		Module:         def.Module,
		Operation:      "resolve",
		FailureType:    res.FailureReason,
		ResolutionTime: res.Duration,
		Attempts:       res.Attempts,
		FallbackUsed:   len(res.Attempts) > 1,
	})
	if ok {
		res.SnapshotID = id
	}
}

// ResolveBatch resolves independent selectors concurrently against doc,
// bounded by MaxConcurrency. Results follow the order of ids. Every id is
// checked before any work starts.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []string, doc *document.Context) ([]*models.ResolutionResult, error) {
	defs := make([]models.SelectorDefinition, len(ids))
	for i, id := range ids {
		def, err := r.registry.Get(id)
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}
	if doc == nil || !doc.Valid() {
		return nil, contextInvalid()
	}

	results := make([]*models.ResolutionResult, len(ids))
	errs := make([]error, len(ids))
	sem := make(chan struct{}, r.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for i := range defs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx], errs[idx] = r.ResolveDefinition(ctx, defs[idx], doc)
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}
