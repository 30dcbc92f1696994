package loader

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/schema"
)

// Tried in order on scraped pages only. Local files keep their whole body.
var contentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "body": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true, "header": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "li": true, "main": true, "nav": true, "ol": true, "p": true,
	"section": true, "table": true, "tr": true, "ul": true,
}

type htmlMode int

const (
	// htmlFile keeps every element of the body.
	htmlFile htmlMode = iota
	// htmlPage drops site chrome and prefers the page's main content.
	htmlPage
)

func parseHTML(body []byte, mode htmlMode) ([]schema.Document, error) {
	return parseHTMLReader(bytes.NewReader(body), mode)
}

// parseHTMLReader returns at most one document. Block elements become paragraphs
// separated by a blank line; <br> becomes a line break.
func parseHTMLReader(r io.Reader, mode htmlMode) ([]schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if mode == htmlPage {
		doc.Find("nav, footer").Remove()
		root = mainContent(doc)
	}

	var text blockText
	root.Each(func(_ int, s *goquery.Selection) {
		text.breakBlock()
		text.walk(s)
		text.breakBlock()
	})
	content := text.String()
	if content == "" {
		return nil, nil
	}

	meta := map[string]any{}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	return []schema.Document{{PageContent: content, Metadata: meta}}, nil
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		selected := doc.Find(selector)
		if strings.TrimSpace(selected.Text()) == "" {
			continue
		}
		// Nested matches would repeat their text.
		return selected.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ParentsFiltered(selector).Length() == 0
		})
	}
	return doc.Find("body")
}

// blockText accumulates text with whitespace collapsed inside each line.
type blockText struct {
	blocks []string
	lines  []string
	cur    strings.Builder
}

func (b *blockText) walk(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.cur.WriteString(c.Text())
		case name == "br":
			b.breakLine()
		case name == "pre":
			b.breakBlock()
			for _, line := range strings.Split(c.Text(), "\n") {
				b.cur.WriteString(line)
				b.breakLine()
			}
			b.breakBlock()
		case name == "td" || name == "th":
			b.cur.WriteString(" ")
			b.walk(c)
			b.cur.WriteString(" ")
		case blockElements[name]:
			b.breakBlock()
			b.walk(c)
			b.breakBlock()
		case strings.HasPrefix(name, "#"):
			// comments and doctype
		default:
			b.walk(c)
		}
	})
}

func (b *blockText) breakLine() {
	if line := strings.Join(strings.Fields(b.cur.String()), " "); line != "" {
		b.lines = append(b.lines, line)
	}
	b.cur.Reset()
}

func (b *blockText) breakBlock() {
	b.breakLine()
	if len(b.lines) > 0 {
		b.blocks = append(b.blocks, strings.Join(b.lines, "\n"))
		b.lines = nil
	}
}

func (b *blockText) String() string {
	b.breakBlock()
	return strings.Join(b.blocks, "\n\n")
}
