package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
)

var validRelations = map[Relation]bool{
	RelationParent:          true,
	RelationAncestor:        true,
	RelationChild:           true,
	RelationDescendant:      true,
	RelationNextSibling:     true,
	RelationPreviousSibling: true,
	RelationSibling:         true,
}

var validShapes = map[string]bool{
	ShapeNonEmpty: true,
	ShapeNumeric:  true,
	ShapePrice:    true,
	ShapeDate:     true,
	ShapeURL:      true,
	ShapeEmail:    true,
	ShapeText:     true,
}

// Validate checks a definition before it is registered. Every problem is
// collected so the caller sees them all at once.
func (d SelectorDefinition) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(d.ID) == "" {
		add("id is required")
	}
	if d.Threshold < 0 || d.Threshold > 1 {
		add("threshold %.3f outside [0,1]", d.Threshold)
	}
	if d.Scope != "" {
		if _, err := cascadia.ParseGroup(d.Scope); err != nil {
			add("scope %q: %v", d.Scope, err)
		}
	}
	if len(d.Strategies) == 0 {
		add("at least one strategy is required")
	}

	ids := make(map[string]bool, len(d.Strategies))
	priorities := make(map[int]string, len(d.Strategies))
	for i, s := range d.Strategies {
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			add("strategy %s: id is required", label)
		} else if ids[s.ID] {
			add("strategy %s: duplicate id", label)
		}
		ids[s.ID] = true

		if other, dup := priorities[s.Priority]; dup {
			add("strategy %s: priority %d already used by %s", label, s.Priority, other)
		}
		priorities[s.Priority] = label

		if s.Threshold < 0 || s.Threshold > 1 {
			add("strategy %s: threshold %.3f outside [0,1]", label, s.Threshold)
		}
		if err := s.validateVariant(); err != nil {
			add("strategy %s: %v", label, err)
		}
	}

	for i, r := range d.Rules {
		if err := r.validate(); err != nil {
			add("rule #%d: %v", i, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return NewEngineError(ErrCodeDefinitionInvalid,
		fmt.Sprintf("selector %q is invalid", d.ID), errors.Join(errs...))
}

func (s StrategySpec) validateVariant() error {
	switch s.Kind() {
	case KindTextAnchor:
		if strings.TrimSpace(s.Text.Text) == "" {
			return errors.New("text anchor requires text")
		}
	case KindAttributeMatch:
		if s.Attribute.Attribute == "" {
			return errors.New("attribute match requires an attribute name")
		}
		if !s.Attribute.Exact {
			if _, err := regexp.Compile(s.Attribute.Pattern); err != nil {
				return fmt.Errorf("attribute pattern: %w", err)
			}
		}
	case KindTreeRelationship:
		if !validRelations[s.Tree.Relation] {
			return fmt.Errorf("unknown relation %q", s.Tree.Relation)
		}
		if _, err := cascadia.ParseGroup(s.Tree.Anchor); err != nil {
			return fmt.Errorf("anchor selector %q: %w", s.Tree.Anchor, err)
		}
		if s.Tree.Match != "" {
			if _, err := cascadia.ParseGroup(s.Tree.Match); err != nil {
				return fmt.Errorf("match selector %q: %w", s.Tree.Match, err)
			}
		}
		if s.Tree.MaxDepth < 0 {
			return errors.New("max_depth must not be negative")
		}
	case KindRoleBased:
		if strings.TrimSpace(s.Role.Role) == "" {
			return errors.New("role based strategy requires a role")
		}
		for _, ex := range s.Role.Excluded {
			if _, clash := s.Role.Required[ex]; clash {
				return fmt.Errorf("attribute %q is both required and excluded", ex)
			}
		}
	default:
		return errors.New("exactly one strategy variant must be set")
	}
	return nil
}

func (r ValidationRule) validate() error {
	if r.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %.3f", r.Weight)
	}
	switch r.Kind {
	case RuleShape:
		if !validShapes[r.Shape] {
			return fmt.Errorf("unknown shape %q", r.Shape)
		}
	case RuleLength:
		if r.Min < 0 || (r.Max > 0 && r.Max < r.Min) {
			return fmt.Errorf("invalid length bounds [%d,%d]", r.Min, r.Max)
		}
	case RulePattern:
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
	case RuleAttribute:
		if r.Attribute == "" {
			return errors.New("attribute rule requires an attribute name")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}
