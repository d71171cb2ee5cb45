package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// shingleSize is the n-gram width used over tag sequences.
const shingleSize = 3

// FingerprintHTML fingerprints the tag structure of an HTML string.
// Text content and attributes are ignored, so a page whose text is still
// streaming in but whose layout has settled fingerprints the same.
func FingerprintHTML(htmlStr string) uint64 {
	return fingerprintTags(extractTags(htmlStr))
}

// FingerprintNode fingerprints the tag structure below an already parsed node.
func FingerprintNode(root *html.Node) uint64 {
	var tags []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tags = append(tags, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return fingerprintTags(tags)
}

func fingerprintTags(tags []string) uint64 {
	if len(tags) == 0 {
		return 0
	}
	shingles := makeShingles(tags, shingleSize)
	if len(shingles) == 0 {
		return Fingerprint([]string{strings.Join(tags, " ")})
	}
	return Fingerprint(shingles)
}

// extractTags walks HTML with the tokenizer and collects open tag names in order.
func extractTags(htmlStr string) []string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	var tags []string

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tags = append(tags, string(tn))
		}
	}
}

// makeShingles creates n-gram shingles from a slice of tokens.
func makeShingles(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}

	shingles := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+n], "_"))
	}
	return shingles
}
