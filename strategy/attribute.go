package strategy

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

const (
	attrExactStrength   = 1.0
	attrFullStrength    = 0.9
	attrPartialStrength = 0.85
)

var patternCache sync.Map // pattern (string) -> *regexp.Regexp

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// matchAttribute finds elements whose attribute equals the literal (Exact)
// or matches the pattern. A regexp match covering the whole value scores
// higher than a partial one.
func matchAttribute(ctx context.Context, root *goquery.Selection, spec models.AttributeMatch) (match, error) {
	var re *regexp.Regexp
	if !spec.Exact {
		var err error
		if re, err = compilePattern(spec.Pattern); err != nil {
			return match{}, fmt.Errorf("attribute pattern %q: %w", spec.Pattern, err)
		}
	}

	var m match
	err := eachElement(ctx, root, func(n *html.Node) bool {
		if !hasAttr(n, spec.Attribute) {
			return true
		}
		val := attr(n, spec.Attribute)
		var strength float64
		switch {
		case spec.Exact:
			if val == spec.Pattern {
				strength = attrExactStrength
			}
		case re.MatchString(val):
			strength = attrPartialStrength
			if loc := re.FindStringIndex(val); loc != nil && loc[0] == 0 && loc[1] == len(val) {
				strength = attrFullStrength
			}
		}
		if strength == 0 {
			return true
		}
		if len(m.nodes) == 0 {
			m.strength = strength
			m.exact = spec.Exact
		}
		m.nodes = append(m.nodes, n)
		return true
	})
	if err != nil {
		return match{}, err
	}
	return m, nil
}
