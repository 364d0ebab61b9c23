package source

import (
	"bytes"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLSource reads a script exported as HTML. Each block element becomes a
// line, <br> splits lines, and <hr> or an empty paragraph is a blank line.
type HTMLSource struct {
	path string
}

func (h *HTMLSource) Text() (string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return "", err
	}
	return HTMLText(data)
}

func (h *HTMLSource) Close() error { return nil }

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, hr, br"

func HTMLText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	doc.Find("body").Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "hr":
			lines = append(lines, "")
			return
		case "br":
			return
		}
		// nested blocks are visited on their own
		if s.Find(blockSelector).Not("br").Length() > 0 {
			return
		}
		html, _ := s.Html()
		if goquery.NodeName(s) != "pre" {
			html = strings.ReplaceAll(html, "\n", " ")
		}
		for _, part := range strings.Split(brToNewline(html), "\n") {
			frag, err := goquery.NewDocumentFromReader(strings.NewReader(part))
			if err != nil {
				continue
			}
			lines = append(lines, normSpace(frag.Text()))
		}
	})
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func brToNewline(html string) string {
	for _, br := range []string{"<br/>", "<br />", "<br>"} {
		html = strings.ReplaceAll(html, br, "\n")
	}
	return html
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
