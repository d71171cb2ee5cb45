package strategy

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

// Strengths reported by the text anchor matcher.
const (
	textExactStrength   = 1.0
	textFoldedStrength  = 0.95
	textPartialStrength = 0.75
)

// matchText finds the innermost elements whose text equals (or, when
// partial, contains) the anchor. Outer wrappers whose text matches only
// because a descendant matches are discarded.
func matchText(ctx context.Context, root *goquery.Selection, spec models.TextAnchor) (match, error) {
	anchor := normalizeSpace(spec.Text)
	folded := strings.ToLower(anchor)

	type hit struct {
		node    *html.Node
		quality float64
	}
	var hits []hit
	err := eachElement(ctx, root, func(n *html.Node) bool {
		if n.Data == "script" || n.Data == "style" || n.Data == "head" {
			return true
		}
		text := nodeText(n)
		if text == "" {
			return true
		}
		if q := textQuality(text, anchor, folded, spec); q > 0 {
			hits = append(hits, hit{node: n, quality: q})
		}
		return true
	})
	if err != nil {
		return match{}, err
	}
	if len(hits) == 0 {
		return match{}, nil
	}

	matched := make(map[*html.Node]bool, len(hits))
	for _, h := range hits {
		matched[h.node] = true
	}
	hasMatchingDescendant := make(map[*html.Node]bool)
	for _, h := range hits {
		for p := h.node.Parent; p != nil; p = p.Parent {
			if matched[p] {
				hasMatchingDescendant[p] = true
			}
		}
	}

	var m match
	for _, h := range hits {
		if hasMatchingDescendant[h.node] {
			continue
		}
		if len(m.nodes) == 0 {
			m.strength = h.quality
			m.exact = h.quality == textExactStrength
		}
		m.nodes = append(m.nodes, h.node)
	}
	return m, nil
}

func textQuality(text, anchor, folded string, spec models.TextAnchor) float64 {
	if text == anchor {
		return textExactStrength
	}
	if !spec.CaseSensitive && strings.ToLower(text) == folded {
		return textFoldedStrength
	}
	if !spec.Partial {
		return 0
	}
	if spec.CaseSensitive {
		if strings.Contains(text, anchor) {
			return textPartialStrength
		}
		return 0
	}
	if strings.Contains(strings.ToLower(text), folded) {
		return textPartialStrength
	}
	return 0
}
