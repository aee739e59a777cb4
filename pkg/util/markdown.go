package util

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultArticleTitle is used when a Markdown body has no top-level heading.
const DefaultArticleTitle = "AI/Tech Weekly Roundup"

var markdown = goldmark.New()

// MarkdownTitle returns the text of the first level-one heading in src,
// or DefaultArticleTitle when there is none.
func MarkdownTitle(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level != 1 {
			return ast.WalkContinue, nil
		}
		title = strings.TrimSpace(nodeText(heading, source))
		return ast.WalkStop, nil
	})

	if title == "" {
		return DefaultArticleTitle
	}
	return title
}

// nodeText concatenates the text segments beneath n.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteString(nodeText(c, source))
	}
	return b.String()
}
