package strategy

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/use-agent/pinpoint/models"
	"golang.org/x/net/html"
)

// maxOuterHTML caps the outer HTML carried by a candidate.
const maxOuterHTML = 4096

func newCandidate(m match) *models.Candidate {
	n := m.nodes[0]

	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}

	return &models.Candidate{
		Node:       n,
		Tag:        n.Data,
		Text:       nodeText(n),
		Attributes: attrs,
		OuterHTML:  outerHTML(n),
		Path:       cssPath(n),
		Signals: models.Signals{
			Strength: m.strength,
			Matches:  len(m.nodes),
			Exact:    m.exact,
			Depth:    m.depth,
		},
	}
}

func outerHTML(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	out := buf.String()
	if len(out) > maxOuterHTML {
		cut := maxOuterHTML
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// cssPath builds a "html > body > div#main > p:nth-child(2)" style path.
func cssPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		part := cur.Data
		if id := attr(cur, "id"); id != "" {
			part += "#" + id
			parts = append(parts, part)
			break
		}
		if idx, total := childIndex(cur); total > 1 {
			part += fmt.Sprintf(":nth-child(%d)", idx)
		}
		parts = append(parts, part)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// childIndex returns n's 1-based position among its parent's element
// children and the number of element children.
func childIndex(n *html.Node) (int, int) {
	if n.Parent == nil {
		return 1, 1
	}
	idx, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		total++
		if c == n {
			idx = total
		}
	}
	return idx, total
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nodeText returns the normalized text content of n.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				return
			}
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return normalizeSpace(b.String())
}
