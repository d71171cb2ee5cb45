package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/config"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/snapshot"
	"github.com/use-agent/pinpoint/strategy"
)

// scriptedExecutor returns a fixed match strength per strategy id. A
// missing id means no match.
type scriptedExecutor struct {
	strength map[string]float64
	delay    time.Duration
	mu       sync.Mutex
	calls    []string
}

func (e *scriptedExecutor) Attempt(ctx context.Context, spec models.StrategySpec, _ *document.Context, _ string, _ time.Duration) strategy.Attempt {
	e.mu.Lock()
	e.calls = append(e.calls, spec.ID)
	e.mu.Unlock()
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return strategy.Attempt{Outcome: models.OutcomeTimeout, Err: ctx.Err()}
		}
	}
	s, ok := e.strength[spec.ID]
	if !ok {
		return strategy.Attempt{Outcome: models.OutcomeNoMatch, Duration: time.Millisecond}
	}
	return strategy.Attempt{
		Outcome:  models.OutcomeMatched,
		Duration: time.Millisecond,
		Candidate: &models.Candidate{
			Tag:     "span",
			Text:    spec.ID,
			Signals: models.Signals{Strength: s, Matches: 1},
		},
	}
}

type fakeSink struct {
	mu   sync.Mutex
	reqs []snapshot.Request
}

func (s *fakeSink) Enqueue(_ *document.Context, req snapshot.Request) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return "snap-1", true
}

type failingLedger struct{ ledger.Ledger }

func (failingLedger) Append(context.Context, models.PerformanceRecord) error {
	return errors.New("disk full")
}

func def(id string, n int) models.SelectorDefinition {
	d := models.SelectorDefinition{ID: id, Site: "shop", Module: "product", Threshold: 0.8}
	for i := 1; i <= n; i++ {
		sid := string(rune('a' + i - 1))
		d.Strategies = append(d.Strategies, models.StrategySpec{
			ID: sid, Priority: i, Enabled: true, Text: &models.TextAnchor{Text: sid},
		})
	}
	return d
}

type fixture struct {
	r      *Resolver
	reg    *registry.Registry
	ledger *ledger.Memory
	exec   *scriptedExecutor
	sink   *fakeSink
	doc    *document.Context
}

func newFixture(t *testing.T, exec *scriptedExecutor, defs ...models.SelectorDefinition) *fixture {
	t.Helper()
	reg := registry.New()
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	l := ledger.NewMemory()
	sink := &fakeSink{}
	r := New(reg, l, config.ResolverConfig{DefaultDeadline: time.Second, StrategyBudget: 100 * time.Millisecond, MaxConcurrency: 2, SignalWeight: 1},
		WithExecutor(exec), WithSnapshots(sink))
	doc, err := document.FromHTML("<html><body><p>x</p></body></html>", "test")
	require.NoError(t, err)
	return &fixture{r: r, reg: reg, ledger: l, exec: exec, sink: sink, doc: doc}
}

func (f *fixture) records(t *testing.T, id string) []models.PerformanceRecord {
	t.Helper()
	recs, err := f.ledger.Query(context.Background(), id, time.Time{}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return recs
}

func TestResolve_FirstStrategyWins(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{strength: map[string]float64{"a": 0.95, "b": 1}}, def("price", 2))

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StateSucceeded, res.State)
	assert.Equal(t, "a", res.StrategyID)
	assert.Len(t, res.Attempts, 1)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Empty(t, res.FailureReason)
	assert.Empty(t, f.sink.reqs)

	recs := f.records(t, "price")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.False(t, recs[0].Fallback)
}

func TestResolve_AllLowConfidence(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{strength: map[string]float64{"a": 0.4, "b": 0.45, "c": 0.3}}, def("price", 3))

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.StateAllAttemptsFailed, res.State)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, models.ReasonLowConfidence, res.FailureReason)
	require.NotNil(t, res.BestEffort)
	assert.Equal(t, "b", res.BestEffort.Text)
	assert.InDelta(t, 0.45, res.Confidence, 1e-9)
	for _, a := range res.Attempts {
		assert.Equal(t, models.OutcomeLowConfidence, a.Outcome)
	}

	require.Len(t, f.sink.reqs, 1, "exactly one snapshot")
	snap := f.sink.reqs[0]
	assert.Equal(t, "price", snap.SelectorID)
	assert.Equal(t, models.ReasonLowConfidence, snap.FailureType)
	assert.True(t, snap.FallbackUsed)
	assert.Len(t, snap.Attempts, 3)
	assert.Equal(t, "snap-1", res.SnapshotID)

	recs := f.records(t, "price")
	require.Len(t, recs, 3)
	assert.False(t, recs[0].Fallback)
	assert.True(t, recs[1].Fallback)
	assert.True(t, recs[2].Fallback)
}

func TestResolve_NotFound(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, def("price", 2))
	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonNotFound, res.FailureReason)
	assert.Nil(t, res.BestEffort)
	assert.Len(t, res.Attempts, 2)
}

func TestResolve_StrategyThresholdRaisesBar(t *testing.T) {
	d := def("price", 2)
	d.Strategies[0].Threshold = 0.99
	f := newFixture(t, &scriptedExecutor{strength: map[string]float64{"a": 0.95, "b": 0.9}}, d)

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "b", res.StrategyID)
	assert.Equal(t, []string{"a", "b"}, res.StrategiesAttempted())
}

func TestResolve_SkipsDisabledStrategies(t *testing.T) {
	d := def("price", 3)
	d.Strategies[1].Enabled = false
	f := newFixture(t, &scriptedExecutor{}, d)

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, res.StrategiesAttempted())
}

func TestResolve_NoEnabledStrategies(t *testing.T) {
	d := def("price", 1)
	d.Strategies[0].Enabled = false
	f := newFixture(t, &scriptedExecutor{}, d)

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ReasonNoStrategies, res.FailureReason)
	assert.Empty(t, res.Attempts)
}

func TestResolve_ZeroDeadline(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{strength: map[string]float64{"a": 1}}, def("price", 2))
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	res, err := f.r.Resolve(ctx, "price", f.doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, models.ReasonTimeout, res.FailureReason)
	assert.Empty(t, f.exec.calls)
}

func TestResolve_Cancelled(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, def("price", 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.r.Resolve(ctx, "price", f.doc)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonCancelled, res.FailureReason)
}

func TestResolve_DeadlineStopsMidway(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{delay: 30 * time.Millisecond}, def("price", 5))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := f.r.Resolve(ctx, "price", f.doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.ReasonTimeout, res.FailureReason)
	assert.Less(t, len(res.Attempts), 5)
	assert.NotEmpty(t, res.Attempts)
	assert.Len(t, f.records(t, "price"), len(res.Attempts))
}

func TestResolve_ContextInvalid(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{}, def("price", 1))
	f.doc.Invalidate()

	res, err := f.r.Resolve(context.Background(), "price", f.doc)
	assert.Nil(t, res)
	assert.True(t, models.IsCode(err, models.ErrCodeContextInvalid))
	assert.ErrorIs(t, err, document.ErrInvalid)
}

func TestResolve_UnknownSelector(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{})
	_, err := f.r.Resolve(context.Background(), "missing", f.doc)
	assert.True(t, models.IsCode(err, models.ErrCodeSelectorUnknown))
}

func TestResolveDefinition_Invalid(t *testing.T) {
	f := newFixture(t, &scriptedExecutor{})
	_, err := f.r.ResolveDefinition(context.Background(), models.SelectorDefinition{ID: "x"}, f.doc)
	assert.True(t, models.IsCode(err, models.ErrCodeDefinitionInvalid))
}

func TestResolve_LedgerFailureIsNotFatal(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(def("price", 1)))
	r := New(reg, failingLedger{}, config.ResolverConfig{}, WithExecutor(&scriptedExecutor{strength: map[string]float64{"a": 1}}))
	doc, err := document.FromHTML("<p>x</p>", "test")
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "price", doc)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestResolve_AttemptsEqualEnabledOnFailure(t *testing.T) {
	for n := 1; n <= 6; n++ {
		f := newFixture(t, &scriptedExecutor{strength: map[string]float64{"a": 0.1}}, def("price", n))
		res, err := f.r.Resolve(context.Background(), "price", f.doc)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Len(t, res.Attempts, n)
	}
}

func TestResolveBatch_PreservesOrder(t *testing.T) {
	exec := &scriptedExecutor{strength: map[string]float64{"a": 1}, delay: 5 * time.Millisecond}
	f := newFixture(t, exec, def("one", 1), def("two", 2), def("three", 1))

	results, err := f.r.ResolveBatch(context.Background(), []string{"three", "one", "two"}, f.doc)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "three", results[0].SelectorID)
	assert.Equal(t, "one", results[1].SelectorID)
	assert.Equal(t, "two", results[2].SelectorID)
	for _, res := range results {
		assert.True(t, res.Success)
	}
}

func TestResolveBatch_UnknownFailsFast(t *testing.T) {
	exec := &scriptedExecutor{}
	f := newFixture(t, exec, def("one", 1))
	_, err := f.r.ResolveBatch(context.Background(), []string{"one", "nope"}, f.doc)
	assert.True(t, models.IsCode(err, models.ErrCodeSelectorUnknown))
	assert.Empty(t, exec.calls)
}

const page = `<html><body><main>
<span class="label">Price</span><span class="price" itemprop="price">$24.99</span>
</main></body></html>`

func TestResolve_DefaultExecutorEndToEnd(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(models.SelectorDefinition{
		ID:        "price",
		Threshold: 0.8,
		Strategies: []models.StrategySpec{
			{ID: "itemprop", Priority: 1, Enabled: true, Attribute: &models.AttributeMatch{Attribute: "itemprop", Pattern: "price", Exact: true}},
			{ID: "label", Priority: 2, Enabled: true, Tree: &models.TreeRelationship{Relation: models.RelationNextSibling, Anchor: "span.label"}},
		},
		Rules: []models.ValidationRule{{Kind: models.RuleShape, Weight: 1, Shape: models.ShapePrice}},
	}))
	r := New(reg, ledger.NewMemory(), config.ResolverConfig{SignalWeight: 1})
	doc, err := document.FromHTML(page, "inline")
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "price", doc)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "itemprop", res.StrategyID)
	assert.Equal(t, "$24.99", res.Candidate.Text)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

type timeoutExecutor struct{}

func (timeoutExecutor) Attempt(context.Context, models.StrategySpec, *document.Context, string, time.Duration) strategy.Attempt {
	return strategy.Attempt{Outcome: models.OutcomeTimeout, Err: context.DeadlineExceeded, Duration: 100 * time.Millisecond}
}

func TestResolve_EveryAttemptTimedOut(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(def("price", 2)))
	sink := &fakeSink{}
	r := New(reg, ledger.NewMemory(), config.ResolverConfig{DefaultDeadline: time.Second, StrategyBudget: 100 * time.Millisecond},
		WithExecutor(timeoutExecutor{}), WithSnapshots(sink))
	doc, err := document.FromHTML("<p>x</p>", "test")
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "price", doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Attempts, 2)
	assert.Equal(t, models.ReasonTimeout, res.FailureReason)
	require.Len(t, sink.reqs, 1)
}

// livePage settles after WaitStable sleeps its quiet period, like a rod page.
type livePage struct {
	mu      sync.Mutex
	settled bool
}

func (p *livePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.settled {
		return `<html><body><div class="spinner"></div></body></html>`, nil
	}
	return `<html><body><span itemprop="price">$24.99</span></body></html>`, nil
}

func (p *livePage) URL() string { return "https://shop.test/item" }

func (p *livePage) WaitStable(ctx context.Context, quiet time.Duration) error {
	select {
	case <-time.After(quiet):
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.settled = true
	p.mu.Unlock()
	return nil
}

func TestResolve_LivePageWithDefaultConfig(t *testing.T) {
	cfg := config.Load().Resolver
	reg := registry.New()
	require.NoError(t, reg.Register(models.SelectorDefinition{
		ID: "price", Site: "shop", Threshold: 0.8,
		Strategies: []models.StrategySpec{
			{ID: "s1", Priority: 1, Enabled: true, Attribute: &models.AttributeMatch{Attribute: "itemprop", Pattern: "price", Exact: true}},
		},
	}))
	r := New(reg, ledger.NewMemory(), cfg)
	doc, err := document.New(context.Background(), &livePage{}, "live", document.Options{})
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "price", doc)
	require.NoError(t, err)
	require.True(t, res.Success, "attempts: %+v", res.Attempts)
	assert.Equal(t, "s1", res.StrategyID)
	assert.Equal(t, "$24.99", res.Candidate.Text)
	assert.Equal(t, models.OutcomeMatched, res.Attempts[0].Outcome)
}
