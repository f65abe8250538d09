package sanitize

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	rendererhtml "github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

var allowedElements = []string{
	"address", "article", "aside", "footer", "header", "main", "nav", "section",
	"h1", "h2", "h3", "h4", "h5", "h6", "hgroup",
	"blockquote", "dd", "div", "dl", "dt", "figcaption", "figure", "hr",
	"li", "ol", "ul", "p", "pre",
	"abbr", "b", "bdi", "bdo", "br", "cite", "code", "data", "dfn", "em", "i",
	"kbd", "mark", "q", "s", "samp", "small", "span", "strong", "sub", "sup",
	"time", "u", "var", "wbr",
	"caption", "col", "colgroup", "table", "tbody", "td", "tfoot", "th", "thead", "tr",
}

type Sanitizer struct {
	policy *bluemonday.Policy
	md     goldmark.Markdown
}

func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedElements...)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("mailto", "http", "https")
	return &Sanitizer{
		policy: p,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(rendererhtml.WithUnsafe()),
		),
	}
}

// Clean turns user content into the stored form: markdown is rendered to
// HTML first, then everything goes through the allow-list.
func (s *Sanitizer) Clean(ctx context.Context, content string, format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatHTML, FormatText:
	case FormatMarkdown, "md":
		var buf bytes.Buffer
		if err := s.md.Convert([]byte(content), &buf); err != nil {
			return "", fmt.Errorf("render markdown: %w", err)
		}
		content = buf.String()
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
	out := strings.TrimSpace(s.policy.Sanitize(content))
	logutil.GetLogger(ctx).Debug("content sanitized",
		zap.Int("input_size", len(content)),
		zap.Int("output_size", len(out)),
	)
	return out, nil
}
