// Package scoring turns a located candidate into a confidence in [0,1].
//
// Score is a pure function of its inputs: the same candidate and rules
// always produce the same value, which keeps resolutions replayable.
package scoring

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/use-agent/pinpoint/models"
)

// Scorer aggregates a candidate's raw match signal and the selector's
// validation rules into a weighted mean.
type Scorer struct {
	// SignalWeight is the weight of the strategy's own match strength
	// relative to the validation rules.
	SignalWeight float64
	// AmbiguityPenalty lowers the signal for every extra node that
	// satisfied the strategy.
	AmbiguityPenalty float64
}

// New creates a Scorer. Non-positive weights fall back to defaults.
func New(signalWeight, ambiguityPenalty float64) *Scorer {
	if signalWeight <= 0 {
		signalWeight = 1.0
	}
	if ambiguityPenalty < 0 {
		ambiguityPenalty = 0
	}
	return &Scorer{SignalWeight: signalWeight, AmbiguityPenalty: ambiguityPenalty}
}

// Score returns the candidate's confidence. A nil candidate scores 0.
func (s *Scorer) Score(c *models.Candidate, rules []models.ValidationRule) float64 {
	if c == nil {
		return 0
	}

	total := s.SignalWeight * s.signal(c.Signals)
	weights := s.SignalWeight
	for _, r := range rules {
		if r.Weight <= 0 {
			continue
		}
		total += r.Weight * ruleScore(c, r)
		weights += r.Weight
	}
	if weights == 0 {
		return 0
	}
	return clamp(total / weights)
}

func (s *Scorer) signal(sig models.Signals) float64 {
	strength := clamp(sig.Strength)
	if sig.Matches > 1 {
		strength /= 1 + s.AmbiguityPenalty*float64(sig.Matches-1)
	}
	return strength
}

var (
	numericRe = regexp.MustCompile(`^[-+]?\d{1,3}(?:[,\s]?\d{3})*(?:[.,]\d+)?$`)
	priceRe   = regexp.MustCompile(`^(?:[$€£¥₹]|[A-Z]{3})?\s?[-+]?\d{1,3}(?:[,.\s]?\d{3})*(?:[.,]\d{1,2})?\s?(?:[$€£¥₹]|[A-Z]{3})?$`)
	dateRe    = regexp.MustCompile(`^(?:\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.]\d{1,2}[/.]\d{2,4}|(?:\d{1,2}\s)?[A-Za-z]{3,9}\.?\s\d{1,2}(?:st|nd|rd|th)?,?\s\d{4}|\d{1,2}\s[A-Za-z]{3,9}\s\d{4})`)
	emailRe   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	letterRe  = regexp.MustCompile(`\pL`)
)

var patternCache sync.Map // pattern (string) -> *regexp.Regexp

func compiled(pattern string) *regexp.Regexp {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	patternCache.Store(pattern, re)
	return re
}

// ruleScore returns a rule's partial score in [0,1].
func ruleScore(c *models.Candidate, r models.ValidationRule) float64 {
	text := strings.TrimSpace(c.Text)
	switch r.Kind {
	case models.RuleShape:
		if shapeMatches(text, r.Shape) {
			return 1
		}
		return 0
	case models.RuleLength:
		return lengthScore(len([]rune(text)), r.Min, r.Max)
	case models.RulePattern:
		re := compiled(r.Pattern)
		if re != nil && re.MatchString(text) {
			return 1
		}
		return 0
	case models.RuleAttribute:
		if _, ok := c.Attributes[r.Attribute]; ok {
			return 1
		}
		return 0
	}
	return 0
}

func shapeMatches(text, shape string) bool {
	switch shape {
	case models.ShapeNonEmpty:
		return text != ""
	case models.ShapeNumeric:
		return numericRe.MatchString(text)
	case models.ShapePrice:
		return priceRe.MatchString(text)
	case models.ShapeDate:
		return dateRe.MatchString(text)
	case models.ShapeEmail:
		return emailRe.MatchString(text)
	case models.ShapeURL:
		u, err := url.Parse(text)
		return err == nil && u.Scheme != "" && u.Host != ""
	case models.ShapeText:
		return letterRe.MatchString(text)
	}
	return false
}

// lengthScore is 1 inside [min,max] and decays with the relative distance
// outside it. max <= 0 means unbounded.
func lengthScore(n, min, max int) float64 {
	switch {
	case n < min:
		if min == 0 {
			return 1
		}
		return clamp(float64(n) / float64(min))
	case max > 0 && n > max:
		return clamp(1 - float64(n-max)/float64(max))
	}
	return 1
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
