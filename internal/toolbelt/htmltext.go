package toolbelt

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content should be excluded when
// reducing an HTML error page to observation text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
}

// htmlText parses HTML and returns its visible text, collapsed to
// single spaces. Returns "" when nothing readable is found or the input
// is not parseable as HTML.
func htmlText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}

	var b strings.Builder
	extractText(doc, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// extractText recursively extracts visible text from the DOM.
func extractText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && skipElements[n.DataAtom] {
		return
	}
	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b)
	}
}
