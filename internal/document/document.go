// Package document wraps the HTML parser shared by discovery and extraction.
package document

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a parsed page. It is read-only after Parse returns, so the
// discoverer and the extractor may walk it concurrently. Code that needs to
// mutate a tree re-parses Raw instead.
type Document struct {
	URL  *url.URL
	Raw  string
	Root *goquery.Document
}

// Parse builds a Document from raw HTML. The parser recovers from malformed
// markup; only reader failures are reported.
func Parse(raw string, base *url.URL) (*Document, error) {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if base != nil {
		root.Url = base
	}
	return &Document{URL: base, Raw: raw, Root: root}, nil
}

// Find runs a CSS selector against the document root.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.Root.Find(selector)
}

// Title returns the trimmed <title> text.
func (d *Document) Title() string {
	return strings.TrimSpace(d.Root.Find("title").First().Text())
}
