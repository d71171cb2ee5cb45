package strategy

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

// Default hop limits when MaxDepth is zero.
const (
	defaultNearDepth = 1
	defaultFarDepth  = 10
)

// matchTree resolves the anchor selector, then walks the relation from each
// anchor (document order) up to MaxDepth hops. Targets must pass the
// optional Match filter. Strength decays with hop distance.
func matchTree(ctx context.Context, root *goquery.Selection, spec models.TreeRelationship) (match, error) {
	anchorSel, err := cascadia.Compile(spec.Anchor)
	if err != nil {
		return match{}, fmt.Errorf("anchor selector %q: %w", spec.Anchor, err)
	}
	accept := func(*html.Node) bool { return true }
	if spec.Match != "" {
		filter, err := cascadia.Compile(spec.Match)
		if err != nil {
			return match{}, fmt.Errorf("match selector %q: %w", spec.Match, err)
		}
		accept = filter.Match
	}

	maxDepth := spec.MaxDepth
	if maxDepth == 0 {
		switch spec.Relation {
		case models.RelationAncestor, models.RelationDescendant, models.RelationSibling:
			maxDepth = defaultFarDepth
		default:
			maxDepth = defaultNearDepth
		}
	}

	var m match
	seen := make(map[*html.Node]bool)
	anchors := root.FindMatcher(anchorSel)
	for i := 0; i < anchors.Length(); i++ {
		if err := ctx.Err(); err != nil {
			return match{}, err
		}
		target, depth := walk(anchors.Get(i), spec.Relation, maxDepth, accept)
		if target == nil || seen[target] {
			continue
		}
		seen[target] = true
		if len(m.nodes) == 0 {
			m.depth = depth
			m.strength = depthStrength(depth)
			m.exact = depth == 1
		}
		m.nodes = append(m.nodes, target)
	}
	return m, nil
}

func depthStrength(depth int) float64 {
	s := 1 - 0.1*float64(depth-1)
	if s < 0.5 {
		return 0.5
	}
	return s
}

// walk returns the first accepted element reached from anchor along rel
// within maxDepth hops, and the hop count.
func walk(anchor *html.Node, rel models.Relation, maxDepth int, accept func(*html.Node) bool) (*html.Node, int) {
	switch rel {
	case models.RelationParent:
		maxDepth = 1
		fallthrough
	case models.RelationAncestor:
		depth := 0
		for p := anchor.Parent; p != nil && p.Type == html.ElementNode && depth < maxDepth; p = p.Parent {
			depth++
			if accept(p) {
				return p, depth
			}
		}
	case models.RelationChild:
		maxDepth = 1
		fallthrough
	case models.RelationDescendant:
		level := []*html.Node{anchor}
		for depth := 1; depth <= maxDepth && len(level) > 0; depth++ {
			var next []*html.Node
			for _, n := range level {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type != html.ElementNode {
						continue
					}
					if accept(c) {
						return c, depth
					}
					next = append(next, c)
				}
			}
			level = next
		}
	case models.RelationNextSibling:
		return walkSiblings(anchor, maxDepth, accept, true)
	case models.RelationPreviousSibling:
		return walkSiblings(anchor, maxDepth, accept, false)
	case models.RelationSibling:
		next, prev := anchor, anchor
		for depth := 1; depth <= maxDepth; depth++ {
			next = elementSibling(next, true)
			if next != nil && accept(next) {
				return next, depth
			}
			prev = elementSibling(prev, false)
			if prev != nil && accept(prev) {
				return prev, depth
			}
			if next == nil && prev == nil {
				break
			}
		}
	}
	return nil, 0
}

func walkSiblings(anchor *html.Node, maxDepth int, accept func(*html.Node) bool, forward bool) (*html.Node, int) {
	cur := anchor
	for depth := 1; depth <= maxDepth; depth++ {
		cur = elementSibling(cur, forward)
		if cur == nil {
			return nil, 0
		}
		if accept(cur) {
			return cur, depth
		}
	}
	return nil, 0
}

func elementSibling(n *html.Node, forward bool) *html.Node {
	if n == nil {
		return nil
	}
	for {
		if forward {
			n = n.NextSibling
		} else {
			n = n.PrevSibling
		}
		if n == nil || n.Type == html.ElementNode {
			return n
		}
	}
}
