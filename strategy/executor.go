// Package strategy runs a single retrieval strategy against a document.
//
// Each strategy kind has its own matching rule:
//   - text_anchor:       element text equal to / containing an anchor string
//   - attribute_match:   attribute value equal to a literal or matching a regexp
//   - tree_relationship: bounded walk from a CSS-selected anchor node
//   - role_based:        explicit or implied ARIA role plus an attribute set
//
// An attempt never panics or returns an error to the orchestrator; every
// condition is expressed through the Attempt outcome.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pinpoint/document"
	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

// ErrUnknownKind is reported for specs that carry no (or several) variants.
var ErrUnknownKind = errors.New("strategy: unknown strategy kind")

// checkEvery is how many nodes a matcher visits between context checks.
const checkEvery = 256

// Attempt is the outcome of running one strategy.
type Attempt struct {
	Candidate *models.Candidate
	// Outcome is OutcomeMatched when a candidate was found; the orchestrator
	// refines it once the candidate is scored.
	Outcome  models.Outcome
	Err      error
	Duration time.Duration
}

// Executor runs one strategy against a document within a time budget.
type Executor interface {
	Attempt(ctx context.Context, spec models.StrategySpec, dc *document.Context, scope string, budget time.Duration) Attempt
}

// DefaultExecutor is the goquery-backed Executor.
type DefaultExecutor struct {
	// StabilityWait bounds the wait for the document to settle before
	// matching. It is not charged to the attempt budget. Zero disables
	// the wait.
	StabilityWait time.Duration
}

// NewExecutor creates a DefaultExecutor.
func NewExecutor(stabilityWait time.Duration) *DefaultExecutor {
	return &DefaultExecutor{StabilityWait: stabilityWait}
}

// match is what a matcher reports before a Candidate is built.
type match struct {
	nodes    []*html.Node
	strength float64
	exact    bool
	depth    int
}

// Attempt runs spec. A zero budget means the attempt is only bounded by ctx.
func (e *DefaultExecutor) Attempt(ctx context.Context, spec models.StrategySpec, dc *document.Context, scope string, budget time.Duration) (res Attempt) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("strategy panicked", "strategy", spec.ID, "panic", r)
			res = Attempt{Outcome: models.OutcomeError, Err: fmt.Errorf("strategy %s panicked: %v", spec.ID, r)}
		}
		res.Duration = time.Since(start)
	}()

	// The stability wait has its own bound; budget covers matching only.
	if e.StabilityWait > 0 {
		if err := dc.Stabilize(ctx, e.StabilityWait); err != nil {
			return interrupted(ctx, ctx, err)
		}
	}

	attemptCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	root := dc.Root(scope)
	var (
		m   match
		err error
	)
	switch spec.Kind() {
	case models.KindTextAnchor:
		m, err = matchText(attemptCtx, root, *spec.Text)
	case models.KindAttributeMatch:
		m, err = matchAttribute(attemptCtx, root, *spec.Attribute)
	case models.KindTreeRelationship:
		m, err = matchTree(attemptCtx, root, *spec.Tree)
	case models.KindRoleBased:
		m, err = matchRole(attemptCtx, root, *spec.Role)
	default:
		err = fmt.Errorf("strategy %s: %w", spec.ID, ErrUnknownKind)
	}
	if err != nil {
		return interrupted(ctx, attemptCtx, err)
	}
	if len(m.nodes) == 0 {
		return Attempt{Outcome: models.OutcomeNoMatch}
	}

	return Attempt{
		Outcome:   models.OutcomeMatched,
		Candidate: newCandidate(m),
	}
}

// interrupted classifies an error raised while an attempt was running.
func interrupted(parent, attemptCtx context.Context, err error) Attempt {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return Attempt{Outcome: models.OutcomeCancelled, Err: err}
	case attemptCtx.Err() != nil:
		return Attempt{Outcome: models.OutcomeTimeout, Err: err}
	default:
		return Attempt{Outcome: models.OutcomeError, Err: err}
	}
}

// eachElement visits every element below root in document order, checking
// ctx periodically. visit returns false to stop early.
func eachElement(ctx context.Context, root *goquery.Selection, visit func(n *html.Node) bool) error {
	var err error
	i := 0
	root.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		i++
		if i%checkEvery == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		return visit(s.Get(0))
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}
