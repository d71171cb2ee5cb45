package strategy

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/models"
)

const productPage = `<!DOCTYPE html>
<html>
<head><title>Shop</title><script>var price = "Add to cart";</script></head>
<body>
<nav role="navigation"><a href="/">Home</a> <a href="/cart">Cart</a></nav>
<main id="main">
  <div class="product">
    <h1 class="title" data-testid="product-title">Blue Kettle</h1>
    <span class="label">Price</span>
    <span class="price" itemprop="price">$24.99</span>
    <div class="actions">
      <button type="submit" data-sku="K-1">Add to cart</button>
      <button type="button" disabled>Wishlist</button>
      <div role="button" aria-label="share">Share</div>
    </div>
  </div>
  <section id="related">
    <h2>Related</h2>
    <ul><li>Red Kettle</li><li>Green Kettle</li></ul>
  </section>
</main>
</body>
</html>`

func attempt(t *testing.T, spec models.StrategySpec, scope string) Attempt {
	t.Helper()
	dc, err := document.FromHTML(productPage, "test")
	require.NoError(t, err)
	return NewExecutor(0).Attempt(context.Background(), spec, dc, scope, time.Second)
}

func TestTextAnchor(t *testing.T) {
	tests := []struct {
		name     string
		anchor   models.TextAnchor
		wantTag  string
		wantText string
		strength float64
		matches  int
	}{
		{"exact innermost", models.TextAnchor{Text: "Add to cart"}, "button", "Add to cart", textExactStrength, 1},
		{"case folded", models.TextAnchor{Text: "blue kettle"}, "h1", "Blue Kettle", textFoldedStrength, 1},
		{"partial", models.TextAnchor{Text: "Kettle", Partial: true}, "h1", "Blue Kettle", textPartialStrength, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := attempt(t, models.StrategySpec{ID: "s", Text: &tt.anchor}, "")
			require.Equal(t, models.OutcomeMatched, res.Outcome, "err=%v", res.Err)
			assert.Equal(t, tt.wantTag, res.Candidate.Tag)
			assert.Equal(t, tt.wantText, res.Candidate.Text)
			assert.Equal(t, tt.strength, res.Candidate.Signals.Strength)
			assert.Equal(t, tt.matches, res.Candidate.Signals.Matches)
		})
	}
}

func TestTextAnchor_CaseSensitiveMiss(t *testing.T) {
	res := attempt(t, models.StrategySpec{ID: "s", Text: &models.TextAnchor{Text: "blue kettle", CaseSensitive: true}}, "")
	assert.Equal(t, models.OutcomeNoMatch, res.Outcome)
	assert.Nil(t, res.Candidate)
}

func TestTextAnchor_Scope(t *testing.T) {
	res := attempt(t, models.StrategySpec{ID: "s", Text: &models.TextAnchor{Text: "Kettle", Partial: true}}, "#related")
	require.Equal(t, models.OutcomeMatched, res.Outcome)
	assert.Equal(t, "Red Kettle", res.Candidate.Text)
	assert.Equal(t, 2, res.Candidate.Signals.Matches)
}

func TestAttributeMatch(t *testing.T) {
	exact := attempt(t, models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "data-testid", Pattern: "product-title", Exact: true}}, "")
	require.Equal(t, models.OutcomeMatched, exact.Outcome)
	assert.Equal(t, "Blue Kettle", exact.Candidate.Text)
	assert.True(t, exact.Candidate.Signals.Exact)
	assert.Equal(t, attrExactStrength, exact.Candidate.Signals.Strength)

	full := attempt(t, models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "data-sku", Pattern: `K-\d+`}}, "")
	require.Equal(t, models.OutcomeMatched, full.Outcome)
	assert.Equal(t, attrFullStrength, full.Candidate.Signals.Strength)
	assert.Equal(t, "K-1", full.Candidate.Attributes["data-sku"])

	partial := attempt(t, models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "class", Pattern: `pri`}}, "")
	require.Equal(t, models.OutcomeMatched, partial.Outcome)
	assert.Equal(t, attrPartialStrength, partial.Candidate.Signals.Strength)
	assert.Equal(t, "$24.99", partial.Candidate.Text)
}

func TestTreeRelationship(t *testing.T) {
	tests := []struct {
		name     string
		tree     models.TreeRelationship
		wantText string
		depth    int
	}{
		{"next sibling", models.TreeRelationship{Relation: models.RelationNextSibling, Anchor: "span.label"}, "$24.99", 1},
		{"previous sibling", models.TreeRelationship{Relation: models.RelationPreviousSibling, Anchor: "span.price"}, "Price", 1},
		{"ancestor with filter", models.TreeRelationship{Relation: models.RelationAncestor, Anchor: "button[data-sku]", Match: ".product"}, "", 2},
		{"descendant with filter", models.TreeRelationship{Relation: models.RelationDescendant, Anchor: "#related", Match: "li", MaxDepth: 2}, "Red Kettle", 2},
		{"child", models.TreeRelationship{Relation: models.RelationChild, Anchor: "#related", Match: "h2"}, "Related", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := attempt(t, models.StrategySpec{ID: "s", Tree: &tt.tree}, "")
			require.Equal(t, models.OutcomeMatched, res.Outcome, "err=%v", res.Err)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, res.Candidate.Text)
			}
			assert.Equal(t, tt.depth, res.Candidate.Signals.Depth)
			assert.InDelta(t, depthStrength(tt.depth), res.Candidate.Signals.Strength, 1e-9)
		})
	}
}

func TestTreeRelationship_DepthBound(t *testing.T) {
	res := attempt(t, models.StrategySpec{ID: "s", Tree: &models.TreeRelationship{
		Relation: models.RelationAncestor, Anchor: "button[data-sku]", Match: "main", MaxDepth: 2,
	}}, "")
	assert.Equal(t, models.OutcomeNoMatch, res.Outcome)
}

func TestRoleBased(t *testing.T) {
	implicit := attempt(t, models.StrategySpec{ID: "s", Role: &models.RoleBased{
		Role: "button", Required: map[string]string{"type": "submit"}, Excluded: []string{"disabled"},
	}}, "")
	require.Equal(t, models.OutcomeMatched, implicit.Outcome)
	assert.Equal(t, "Add to cart", implicit.Candidate.Text)
	assert.Equal(t, roleImplicitStrength, implicit.Candidate.Signals.Strength)

	explicit := attempt(t, models.StrategySpec{ID: "s", Role: &models.RoleBased{
		Role: "button", Required: map[string]string{"aria-label": ""},
	}}, "")
	require.Equal(t, models.OutcomeMatched, explicit.Outcome)
	assert.Equal(t, "Share", explicit.Candidate.Text)
	assert.True(t, explicit.Candidate.Signals.Exact)

	link := attempt(t, models.StrategySpec{ID: "s", Role: &models.RoleBased{Role: "link"}}, "nav")
	require.Equal(t, models.OutcomeMatched, link.Outcome)
	assert.Equal(t, 2, link.Candidate.Signals.Matches)
}

func TestCandidatePath(t *testing.T) {
	res := attempt(t, models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "itemprop", Pattern: "price", Exact: true}}, "")
	require.Equal(t, models.OutcomeMatched, res.Outcome)
	assert.Equal(t, "main#main > div:nth-child(1) > span:nth-child(3)", res.Candidate.Path)
	assert.Contains(t, res.Candidate.OuterHTML, `itemprop="price"`)
}

func TestAttempt_Timeout(t *testing.T) {
	dc, err := document.FromHTML(productPage, "test")
	require.NoError(t, err)
	spec := models.StrategySpec{ID: "s", Text: &models.TextAnchor{Text: "Add to cart"}}
	res := NewExecutor(0).Attempt(context.Background(), spec, dc, "", time.Nanosecond)
	assert.Equal(t, models.OutcomeTimeout, res.Outcome)
	assert.Nil(t, res.Candidate)
}

func TestAttempt_Cancelled(t *testing.T) {
	dc, err := document.FromHTML(productPage, "test")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spec := models.StrategySpec{ID: "s", Text: &models.TextAnchor{Text: "Add to cart"}}
	res := NewExecutor(0).Attempt(ctx, spec, dc, "", time.Second)
	assert.Equal(t, models.OutcomeCancelled, res.Outcome)
}

func TestAttempt_UnknownKind(t *testing.T) {
	res := attempt(t, models.StrategySpec{ID: "empty"}, "")
	assert.Equal(t, models.OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrUnknownKind)
}

func TestOuterHTML_TrimsOnRuneBoundary(t *testing.T) {
	for _, pad := range []string{"", "x"} {
		dc, err := document.FromHTML(`<div id="big`+pad+`">`+strings.Repeat("é", maxOuterHTML)+`</div>`, "test")
		require.NoError(t, err)
		res := NewExecutor(0).Attempt(context.Background(), models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "id", Pattern: "big" + pad, Exact: true}}, dc, "", time.Second)
		require.Equal(t, models.OutcomeMatched, res.Outcome)
		assert.LessOrEqual(t, len(res.Candidate.OuterHTML), maxOuterHTML)
		assert.True(t, utf8.ValidString(res.Candidate.OuterHTML))
	}
}

// slowPage needs a quiet period longer than the attempt budget to settle.
type slowPage struct {
	mu      sync.Mutex
	settled bool
}

func (p *slowPage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return productPage, nil
	}
	return `<html><body><div class="spinner"></div></body></html>`, nil
}

func (p *slowPage) URL() string { return "" }

func (p *slowPage) WaitStable(ctx context.Context, quiet time.Duration) error {
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

func TestAttempt_StabilityWaitOutsideBudget(t *testing.T) {
	dc, err := document.New(context.Background(), &slowPage{}, "live", document.Options{Quiet: 100 * time.Millisecond})
	require.NoError(t, err)
	spec := models.StrategySpec{ID: "s", Attribute: &models.AttributeMatch{Attribute: "itemprop", Pattern: "price", Exact: true}}

	res := NewExecutor(300*time.Millisecond).Attempt(context.Background(), spec, dc, "", 50*time.Millisecond)
	require.Equal(t, models.OutcomeMatched, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, "$24.99", res.Candidate.Text)
}
