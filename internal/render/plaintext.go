package render

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var spaceRun = regexp.MustCompile(`\s+`)

// blockElements end a line in the text rendering
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true,
	"h1": true, "h2": true, "h3": true, "tr": true,
}

// PlainText converts a rendered HTML message into the text/plain alternative
func PlainText(htmlBody string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return "", err
	}

	doc.Find("head, style, script").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			walk(&b, n)
		}
	})

	return collapse(b.String()), nil
}

func walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(spaceRun.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
		if n.Data == "li" {
			b.WriteString("- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(b, c)
	}

	if n.Type == html.ElementNode && blockElements[n.Data] {
		b.WriteString("\n")
	}
}

// collapse trims every line and drops repeated blank lines
func collapse(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
