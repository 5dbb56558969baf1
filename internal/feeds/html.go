package feeds

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanHTML converts an HTML fragment into plain text with collapsed
// whitespace. Block elements are separated by a space so adjacent
// paragraphs do not run together.
func CleanHTML(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, li, h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
