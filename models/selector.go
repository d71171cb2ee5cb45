package models

import "sort"

// StrategyKind names the variant carried by a StrategySpec.
type StrategyKind string

const (
	KindTextAnchor       StrategyKind = "text_anchor"
	KindAttributeMatch   StrategyKind = "attribute_match"
	KindTreeRelationship StrategyKind = "tree_relationship"
	KindRoleBased        StrategyKind = "role_based"
	KindInvalid          StrategyKind = ""
)

// Relation is the structural relation walked by a TreeRelationship strategy,
// read as "the target is the <relation> of the anchor".
type Relation string

const (
	RelationParent          Relation = "parent"
	RelationAncestor        Relation = "ancestor"
	RelationChild           Relation = "child"
	RelationDescendant      Relation = "descendant"
	RelationNextSibling     Relation = "next_sibling"
	RelationPreviousSibling Relation = "previous_sibling"
	RelationSibling         Relation = "sibling"
)

// TextAnchor locates an element by its visible text.
type TextAnchor struct {
	Text          string `json:"text" yaml:"text"`
	CaseSensitive bool   `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
	Partial       bool   `json:"partial,omitempty" yaml:"partial,omitempty"`
}

// AttributeMatch locates an element by an attribute value.
// Pattern is a regular expression unless Exact is set.
type AttributeMatch struct {
	Attribute string `json:"attribute" yaml:"attribute"`
	Pattern   string `json:"pattern" yaml:"pattern"`
	Exact     bool   `json:"exact,omitempty" yaml:"exact,omitempty"`
}

// TreeRelationship locates an element through its structural relation to
// an anchor node found with a CSS selector.
type TreeRelationship struct {
	Relation Relation `json:"relation" yaml:"relation"`
	Anchor   string   `json:"anchor" yaml:"anchor"`
	Match    string   `json:"match,omitempty" yaml:"match,omitempty"`
	MaxDepth int      `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
}

// RoleBased locates an element by its ARIA role (explicit or implied by
// the tag) and an attribute set. An empty value in Required means the
// attribute only has to be present.
type RoleBased struct {
	Role     string            `json:"role" yaml:"role"`
	Required map[string]string `json:"required,omitempty" yaml:"required,omitempty"`
	Excluded []string          `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

// StrategySpec is one prioritized way of locating a selector's target.
// Exactly one of the variant pointers is set.
type StrategySpec struct {
	ID        string  `json:"id" yaml:"id"`
	Priority  int     `json:"priority" yaml:"priority"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Enabled   bool    `json:"enabled" yaml:"enabled"`

	Text      *TextAnchor       `json:"text_anchor,omitempty" yaml:"text_anchor,omitempty"`
	Attribute *AttributeMatch   `json:"attribute_match,omitempty" yaml:"attribute_match,omitempty"`
	Tree      *TreeRelationship `json:"tree_relationship,omitempty" yaml:"tree_relationship,omitempty"`
	Role      *RoleBased        `json:"role_based,omitempty" yaml:"role_based,omitempty"`
}

// Kind returns the variant carried by the spec, or KindInvalid when zero
// or more than one variant is set.
func (s StrategySpec) Kind() StrategyKind {
	kind := KindInvalid
	n := 0
	if s.Text != nil {
		kind, n = KindTextAnchor, n+1
	}
	if s.Attribute != nil {
		kind, n = KindAttributeMatch, n+1
	}
	if s.Tree != nil {
		kind, n = KindTreeRelationship, n+1
	}
	if s.Role != nil {
		kind, n = KindRoleBased, n+1
	}
	if n != 1 {
		return KindInvalid
	}
	return kind
}

// Rule kinds understood by the confidence scorer.
const (
	RuleShape     = "shape"
	RuleLength    = "length"
	RulePattern   = "pattern"
	RuleAttribute = "attribute"
)

// Content shapes checked by RuleShape.
const (
	ShapeNonEmpty = "non_empty"
	ShapeNumeric  = "numeric"
	ShapePrice    = "price"
	ShapeDate     = "date"
	ShapeURL      = "url"
	ShapeEmail    = "email"
	ShapeText     = "text"
)

// ValidationRule contributes a weighted partial score to a candidate's
// confidence.
type ValidationRule struct {
	Kind      string  `json:"kind" yaml:"kind"`
	Weight    float64 `json:"weight" yaml:"weight"`
	Shape     string  `json:"shape,omitempty" yaml:"shape,omitempty"`
	Min       int     `json:"min,omitempty" yaml:"min,omitempty"`
	Max       int     `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern   string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Attribute string  `json:"attribute,omitempty" yaml:"attribute,omitempty"`
}

// SelectorDefinition describes a named target and every strategy that can
// locate it.
type SelectorDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Site        string           `json:"site,omitempty" yaml:"site,omitempty"`
	Module      string           `json:"module,omitempty" yaml:"module,omitempty"`
	Scope       string           `json:"scope,omitempty" yaml:"scope,omitempty"`
	Threshold   float64          `json:"threshold" yaml:"threshold"`
	Strategies  []StrategySpec   `json:"strategies" yaml:"strategies"`
	Rules       []ValidationRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Clone returns a deep copy so callers can read or mutate it without
// sharing state with the registry.
func (d SelectorDefinition) Clone() SelectorDefinition {
	out := d
	out.Strategies = make([]StrategySpec, len(d.Strategies))
	for i, s := range d.Strategies {
		out.Strategies[i] = s.clone()
	}
	out.Rules = append([]ValidationRule(nil), d.Rules...)
	return out
}

func (s StrategySpec) clone() StrategySpec {
	out := s
	if s.Text != nil {
		t := *s.Text
		out.Text = &t
	}
	if s.Attribute != nil {
		a := *s.Attribute
		out.Attribute = &a
	}
	if s.Tree != nil {
		t := *s.Tree
		out.Tree = &t
	}
	if s.Role != nil {
		r := *s.Role
		if s.Role.Required != nil {
			r.Required = make(map[string]string, len(s.Role.Required))
			for k, v := range s.Role.Required {
				r.Required[k] = v
			}
		}
		r.Excluded = append([]string(nil), s.Role.Excluded...)
		out.Role = &r
	}
	return out
}

// Ordered returns the strategies sorted by ascending priority.
func (d SelectorDefinition) Ordered() []StrategySpec {
	out := append([]StrategySpec(nil), d.Strategies...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Enabled returns the enabled strategies in ascending priority.
func (d SelectorDefinition) Enabled() []StrategySpec {
	var out []StrategySpec
	for _, s := range d.Ordered() {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Strategy returns the strategy with the given id.
func (d SelectorDefinition) Strategy(id string) (StrategySpec, bool) {
	for _, s := range d.Strategies {
		if s.ID == id {
			return s, true
		}
	}
	return StrategySpec{}, false
}
