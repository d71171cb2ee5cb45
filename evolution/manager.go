package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/drift"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/telemetry"
)

// AppliedFunc is called after recommendations were committed.
type AppliedFunc func(def models.SelectorDefinition, applied []models.StrategyRecommendation)

// Manager evaluates and applies strategy recommendations.
type Manager struct {
	registry *registry.Registry
	ledger   ledger.Ledger
	policy   Policy
	drift    config.DriftConfig
	metrics  *telemetry.Metrics
	onApply  AppliedFunc
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records applied actions on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

// WithAppliedFunc registers a callback for committed changes.
func WithAppliedFunc(fn AppliedFunc) Option {
	return func(mg *Manager) { mg.onApply = fn }
}

// NewManager creates a Manager.
func NewManager(reg *registry.Registry, l ledger.Ledger, policy Policy, driftCfg config.DriftConfig, opts ...Option) *Manager {
	m := &Manager{
		registry: reg,
		ledger:   l,
		policy:   policy,
		drift:    drift.Normalize(driftCfg),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate returns one recommendation per strategy of the selector, in
// current rank order. Nothing is mutated.
func (m *Manager) Evaluate(ctx context.Context, selectorID string) ([]models.StrategyRecommendation, error) {
	def, err := m.registry.Get(selectorID)
	if err != nil {
		return nil, err
	}
	to := m.now()
	recs, err := m.ledger.Query(ctx, selectorID, to.Add(-m.drift.Window), to)
	if err != nil {
		return nil, fmt.Errorf("evolution: query ledger: %w", err)
	}
	return m.policy.recommend(def, recs, m.drift), nil
}

func invalid(format string, args ...any) error {
	return models.NewEngineError(models.ErrCodeRecommendation, fmt.Sprintf(format, args...), nil)
}

// Apply commits recs to the selector's definition atomically: either every
// recommendation takes effect or none does. keep recommendations are
// ignored. Applying the same set twice leaves the definition unchanged
// the second time.
func (m *Manager) Apply(ctx context.Context, selectorID string, recs []models.StrategyRecommendation) (models.SelectorDefinition, error) {
	if err := ctx.Err(); err != nil {
		return models.SelectorDefinition{}, err
	}

	var applied []models.StrategyRecommendation
	def, err := m.registry.Update(selectorID, func(def *models.SelectorDefinition) error {
		var err error
		applied, err = apply(def, recs)
		return err
	})
	if err != nil {
		return models.SelectorDefinition{}, err
	}

	for _, r := range applied {
		m.metrics.RecordEvolution(string(r.Action))
		slog.Info("strategy evolution applied",
			"selector", selectorID,
			"strategy", r.StrategyID,
			"action", r.Action,
			"target_rank", r.TargetRank,
			"reason", r.Reason,
		)
	}
	if len(applied) > 0 && m.onApply != nil {
		m.onApply(def, applied)
	}
	return def, nil
}

// Preview returns the definition Apply would produce for recs without
// committing it.
func (m *Manager) Preview(selectorID string, recs []models.StrategyRecommendation) (models.SelectorDefinition, error) {
	def, err := m.registry.Get(selectorID)
	if err != nil {
		return models.SelectorDefinition{}, err
	}
	if _, err := apply(&def, recs); err != nil {
		return models.SelectorDefinition{}, err
	}
	if err := def.Validate(); err != nil {
		return models.SelectorDefinition{}, err
	}
	return def, nil
}

// apply validates recs against def and mutates def in place. def is the
// registry's working copy, so a returned error discards every change.
func apply(def *models.SelectorDefinition, recs []models.StrategyRecommendation) ([]models.StrategyRecommendation, error) {
	ordered := def.Ordered()
	n := len(ordered)
	index := make(map[string]int, n)
	for i := range def.Strategies {
		index[def.Strategies[i].ID] = i
	}

	var (
		active  []models.StrategyRecommendation
		seen    = make(map[string]bool)
		targets = make(map[int]string)
	)
	for _, r := range recs {
		if _, ok := index[r.StrategyID]; !ok {
			return nil, invalid("unknown strategy %q", r.StrategyID)
		}
		switch r.Action {
		case models.ActionKeep:
			continue
		case models.ActionBlacklist:
		case models.ActionPromote, models.ActionDemote:
			if r.TargetRank < 0 || r.TargetRank >= n {
				return nil, invalid("strategy %q: target rank %d outside [0,%d)", r.StrategyID, r.TargetRank, n)
			}
			if other, dup := targets[r.TargetRank]; dup {
				return nil, invalid("strategies %q and %q both target rank %d", other, r.StrategyID, r.TargetRank)
			}
			targets[r.TargetRank] = r.StrategyID
		default:
			return nil, invalid("strategy %q: unknown action %q", r.StrategyID, r.Action)
		}
		if seen[r.StrategyID] {
			return nil, invalid("strategy %q has more than one recommendation", r.StrategyID)
		}
		seen[r.StrategyID] = true
		active = append(active, r)
	}

	for _, r := range active {
		if r.Action == models.ActionBlacklist {
			def.Strategies[index[r.StrategyID]].Enabled = false
		}
	}

	if len(targets) > 0 {
		priorities := make([]int, n)
		for i, s := range ordered {
			priorities[i] = s.Priority
		}
		sort.Ints(priorities)

		slots := make([]string, n)
		moved := make(map[string]bool, len(targets))
		for rank, id := range targets {
			slots[rank] = id
			moved[id] = true
		}
		rest := ordered[:0:0]
		for _, s := range ordered {
			if !moved[s.ID] {
				rest = append(rest, s)
			}
		}
		next := 0
		for rank := range slots {
			if slots[rank] == "" {
				slots[rank] = rest[next].ID
				next++
			}
		}
		for rank, id := range slots {
			def.Strategies[index[id]].Priority = priorities[rank]
		}
	}
	return active, nil
}

// Evolve evaluates the selector and, unless dryRun is set, applies the
// resulting recommendations.
func (m *Manager) Evolve(ctx context.Context, selectorID string, dryRun bool) (models.EvolveResponse, error) {
	recs, err := m.Evaluate(ctx, selectorID)
	if err != nil {
		return models.EvolveResponse{}, err
	}
	resp := models.EvolveResponse{SelectorID: selectorID, Recommendations: recs}
	if dryRun || !actionable(recs) {
		return resp, nil
	}
	def, err := m.Apply(ctx, selectorID, recs)
	if err != nil {
		return resp, err
	}
	resp.Applied = true
	resp.Definition = &def
	return resp, nil
}

func actionable(recs []models.StrategyRecommendation) bool {
	for _, r := range recs {
		if r.Action != models.ActionKeep {
			return true
		}
	}
	return false
}

// Reinstate re-enables a strategy, typically one that was blacklisted.
func (m *Manager) Reinstate(ctx context.Context, selectorID, strategyID string) (models.SelectorDefinition, error) {
	if err := ctx.Err(); err != nil {
		return models.SelectorDefinition{}, err
	}
	def, err := m.registry.Update(selectorID, func(def *models.SelectorDefinition) error {
		for i := range def.Strategies {
			if def.Strategies[i].ID == strategyID {
				def.Strategies[i].Enabled = true
				return nil
			}
		}
		return invalid("unknown strategy %q", strategyID)
	})
	if err != nil {
		return models.SelectorDefinition{}, err
	}
	slog.Info("strategy reinstated", "selector", selectorID, "strategy", strategyID)
	return def, nil
}

// Run evolves every registered selector each interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evolveAll(ctx)
		}
	}
}

func (m *Manager) evolveAll(ctx context.Context) {
	for _, def := range m.registry.List() {
		if ctx.Err() != nil {
			return
		}
		resp, err := m.Evolve(ctx, def.ID, false)
		if err != nil {
			slog.Warn("periodic evolution failed", "selector", def.ID, "error", err)
			continue
		}
		if resp.Applied {
			slog.Debug("periodic evolution changed selector", "selector", def.ID)
		}
	}
}
