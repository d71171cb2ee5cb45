package snapshot

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// excerptLimit caps the page excerpt stored in metadata.
const excerptLimit = 300

// newMarkdownConverter creates a goroutine-safe converter for document.md:
// the base plugin drops script, style and head noise, commonmark renders
// the body and the table plugin keeps tabular layout readable.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// newViewPolicy builds the sanitizer for document.view.html, a copy of the
// document that is safe to open in a browser. Scripts, event handlers and
// remote embeds are stripped; the attributes strategies match on survive so
// a failed selector can still be located by eye.
func newViewPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "id", "role", "name", "type", "value", "placeholder",
		"itemprop", "itemscope", "itemtype", "aria-label", "aria-labelledby",
		"aria-describedby", "aria-hidden", "aria-disabled", "aria-checked",
		"aria-expanded", "aria-selected", "disabled", "checked", "selected").Globally()
	p.AllowElements("button", "label", "form", "select", "option", "main", "nav", "header", "footer", "section", "article", "aside")
	p.AllowDataAttributes()
	return p
}

// toMarkdown renders rawHTML, resolving relative links against pageURL
// when it is known.
func toMarkdown(conv *converter.Converter, rawHTML, pageURL string) (string, error) {
	if pageURL == "" {
		return conv.ConvertString(rawHTML)
	}
	return conv.ConvertString(rawHTML, converter.WithDomain(pageURL))
}

// pageInfo is the human-oriented summary written to metadata.json.
type pageInfo struct {
	Title   string `json:"title,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
	Byline  string `json:"byline,omitempty"`
	Lang    string `json:"lang,omitempty"`
}

// describePage runs readability over rawHTML. Failures are logged and
// yield an empty summary; a snapshot never fails because of it.
func describePage(rawHTML, pageURL string) pageInfo {
	parsed, err := nurl.Parse(pageURL)
	if err != nil {
		slog.Debug("snapshot: invalid page URL for readability", "url", pageURL, "error", err)
		parsed = &nurl.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		slog.Debug("snapshot: readability failed", "url", pageURL, "error", err)
		return pageInfo{}
	}
	excerpt := strings.TrimSpace(article.Excerpt)
	if excerpt == "" {
		excerpt = strings.TrimSpace(article.TextContent)
	}
	if r := []rune(excerpt); len(r) > excerptLimit {
		excerpt = string(r[:excerptLimit])
	}
	return pageInfo{
		Title:   strings.TrimSpace(article.Title),
		Excerpt: excerpt,
		Byline:  strings.TrimSpace(article.Byline),
		Lang:    article.Language,
	}
}
