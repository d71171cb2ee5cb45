package strategy

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

const (
	roleExplicitStrength = 1.0
	roleImplicitStrength = 0.9
)

// implicitRoles maps tags to the ARIA role they carry without a role
// attribute. Tags whose role depends on attributes are handled in
// implicitRole.
var implicitRoles = map[string]string{
	"button":   "button",
	"nav":      "navigation",
	"main":     "main",
	"header":   "banner",
	"footer":   "contentinfo",
	"aside":    "complementary",
	"form":     "form",
	"table":    "table",
	"tr":       "row",
	"td":       "cell",
	"th":       "columnheader",
	"ul":       "list",
	"ol":       "list",
	"li":       "listitem",
	"article":  "article",
	"dialog":   "dialog",
	"option":   "option",
	"progress": "progressbar",
	"textarea": "textbox",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
}

var inputRoles = map[string]string{
	"button":   "button",
	"submit":   "button",
	"reset":    "button",
	"image":    "button",
	"checkbox": "checkbox",
	"radio":    "radio",
	"range":    "slider",
	"number":   "spinbutton",
	"search":   "searchbox",
	"text":     "textbox",
	"email":    "textbox",
	"tel":      "textbox",
	"url":      "textbox",
	"":         "textbox",
}

func implicitRole(n *html.Node) string {
	switch n.Data {
	case "a", "area":
		if hasAttr(n, "href") {
			return "link"
		}
		return ""
	case "img":
		if alt, ok := attrValue(n, "alt"); ok && alt == "" {
			return "presentation"
		}
		return "img"
	case "input":
		return inputRoles[strings.ToLower(attr(n, "type"))]
	case "select":
		if hasAttr(n, "multiple") {
			return "listbox"
		}
		return "combobox"
	}
	return implicitRoles[n.Data]
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// elementRole returns the effective role and whether it was explicit.
// The first token of an explicit role attribute wins over the tag.
func elementRole(n *html.Node) (string, bool) {
	if explicit := strings.Fields(attr(n, "role")); len(explicit) > 0 {
		return strings.ToLower(explicit[0]), true
	}
	return implicitRole(n), false
}

// matchRole finds elements with the requested role whose attributes
// satisfy the required/excluded sets.
func matchRole(ctx context.Context, root *goquery.Selection, spec models.RoleBased) (match, error) {
	want := strings.ToLower(strings.TrimSpace(spec.Role))

	var m match
	err := eachElement(ctx, root, func(n *html.Node) bool {
		role, explicit := elementRole(n)
		if role != want {
			return true
		}
		for key, val := range spec.Required {
			got, ok := attrValue(n, key)
			if !ok || (val != "" && got != val) {
				return true
			}
		}
		for _, key := range spec.Excluded {
			if hasAttr(n, key) {
				return true
			}
		}
		if len(m.nodes) == 0 {
			m.exact = explicit
			m.strength = roleImplicitStrength
			if explicit {
				m.strength = roleExplicitStrength
			}
		}
		m.nodes = append(m.nodes, n)
		return true
	})
	if err != nil {
		return match{}, err
	}
	return m, nil
}
