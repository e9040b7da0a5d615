package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup from a description and collapses whitespace so
// the text stays compact when it is sent to the model.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}

	doc.Find("script, style, iframe").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
