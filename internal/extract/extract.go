// Package extract pulls the primary readable text out of a parsed page.
//
// Strategies run in a fixed order and the first whose cleaned output reaches
// the minimum length wins: readability, well-known content selectors, a
// link-density heuristic and finally the whole document text. Every result
// is cleaned and, optionally, screened by an anomaly gate.
package extract

import (
	"html"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/FranksOps/harvest/internal/document"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	nethtml "golang.org/x/net/html"
)

// Strategy names the method that produced a Result.
type Strategy string

const (
	StrategyReadability Strategy = "readability"
	StrategySelector    Strategy = "selector"
	StrategyDensity     Strategy = "density"
	StrategyFullText    Strategy = "fulltext"
)

// RejectedText replaces text that fails the anomaly gate.
const RejectedText = "[content rejected: anomalous text]"

// DefaultSelectors are tried in order after readability.
var DefaultSelectors = []string{
	"article",
	"main",
	".article",
	".content",
	".post-content",
	".entry-content",
	".story-content",
	".article-body",
	"#article",
	"#content",
	"#main-content",
	"#post-content",
}

// minBlockRunes is the smallest block the density heuristic considers.
const minBlockRunes = 50

// Options controls extraction.
type Options struct {
	Readability          bool
	AnomalyDetection     bool
	MinContentLength     int
	LinkDensityThreshold float64
	Selectors            []string
	Logger               *slog.Logger
}

// OptionsFrom maps crawl settings onto extraction options.
func OptionsFrom(s settings.CrawlSettings) Options {
	return Options{
		Readability:          s.AIExtraction,
		AnomalyDetection:     s.AnomalyDetection,
		MinContentLength:     s.MinContentLength,
		LinkDensityThreshold: s.LinkDensityThreshold,
	}
}

// Result is the outcome of ExtractMainText.
type Result struct {
	Text     string
	Strategy Strategy
	// Degraded is set when only the whole-document fallback produced text.
	Degraded bool
	// Anomalous is set when the anomaly gate rejected the text.
	Anomalous bool
	Features  Features
}

// ExtractMainText returns the main text of doc. It never returns empty text
// for a document with any text in it.
func ExtractMainText(doc *document.Document, opts Options) Result {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = settings.Default().MinContentLength
	}
	if opts.LinkDensityThreshold <= 0 {
		opts.LinkDensityThreshold = settings.Default().LinkDensityThreshold
	}
	if opts.Selectors == nil {
		opts.Selectors = DefaultSelectors
	}

	res := extract(doc, opts)
	if opts.AnomalyDetection {
		res.Features = Measure(res.Text)
		if res.Features.Anomalous() {
			opts.Logger.Warn("anomalous text rejected", "url", urlOf(doc), "strategy", res.Strategy,
				"repetition", res.Features.RepetitionRatio, "special", res.Features.SpecialCharRatio)
			res.Text = RejectedText
			res.Anomalous = true
		}
	}

	metrics.RecordExtraction(string(res.Strategy), res.Degraded, res.Anomalous)
	return res
}

func extract(doc *document.Document, opts Options) Result {
	long := func(s string) bool { return utf8.RuneCountInString(s) >= opts.MinContentLength }

	if opts.Readability {
		text, err := fromReadability(doc)
		if err != nil {
			opts.Logger.Debug("readability failed", "url", urlOf(doc), "err", err)
		} else if text = Clean(text); long(text) {
			return Result{Text: text, Strategy: StrategyReadability}
		}
	}

	for _, sel := range opts.Selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := Clean(textOf(node, "\n")); long(text) {
			return Result{Text: text, Strategy: StrategySelector}
		}
	}

	if text := Clean(byDensity(doc, opts.LinkDensityThreshold)); text != "" {
		return Result{Text: text, Strategy: StrategyDensity}
	}

	text := Clean(textOf(doc.Root.Selection, "\n"))
	if text == "" {
		text = Clean(doc.Root.Text())
	}
	if text == "" {
		text = strings.TrimSpace(doc.Raw)
	}
	return Result{Text: text, Strategy: StrategyFullText, Degraded: true}
}

// fromReadability parses a fresh copy of the raw markup, since readability
// rewrites the tree it is given.
func fromReadability(doc *document.Document) (string, error) {
	base := doc.URL
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(doc.Raw), base)
	if err != nil {
		return "", err
	}
	// TextContent runs adjacent blocks together on minified markup.
	if article.Content != "" {
		content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if err == nil {
			if text := textOf(content.Selection, "\n"); text != "" {
				return text, nil
			}
		}
	}
	return article.TextContent, nil
}

// byDensity keeps p and div blocks whose anchor text share is below
// threshold. A block inside an already kept block is skipped.
func byDensity(doc *document.Document, threshold float64) string {
	var (
		parts []string
		kept  = map[*nethtml.Node]bool{}
	)
	doc.Find("p, div").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		for p := node.Parent; p != nil; p = p.Parent {
			if kept[p] {
				return
			}
		}

		text := textOf(s, "")
		total := utf8.RuneCountInString(text)
		if total < minBlockRunes {
			return
		}

		anchors := 0
		s.Find("a").Each(func(_ int, a *goquery.Selection) {
			anchors += utf8.RuneCountInString(textOf(a, ""))
		})
		if LinkDensity(anchors, total) >= threshold {
			return
		}

		kept[node] = true
		parts = append(parts, text)
	})
	return strings.Join(parts, "\n\n")
}

// LinkDensity is anchor runes over block runes, zero for an empty block.
func LinkDensity(anchorRunes, totalRunes int) float64 {
	if totalRunes == 0 {
		return 0
	}
	return float64(anchorRunes) / float64(totalRunes)
}

var skipText = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// textOf joins the trimmed, non-empty text nodes under s with sep.
func textOf(s *goquery.Selection, sep string) string {
	var parts []string
	var walk func(*nethtml.Node)
	walk = func(n *nethtml.Node) {
		switch n.Type {
		case nethtml.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case nethtml.ElementNode:
			if skipText[n.Data] {
				return
			}
		case nethtml.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, sep)
}

var (
	reBlankLines = regexp.MustCompile(`\n{3,}`)
	reControl    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x{9f}\x{200b}]`)
	reSpaces     = regexp.MustCompile(`[ \t]{2,}`)
)

// Clean normalizes extracted text: collapses blank lines, unescapes
// entities, strips control and zero-width characters, trims and collapses
// runs of spaces.
func Clean(text string) string {
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	text = html.UnescapeString(text)
	text = reControl.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	return reSpaces.ReplaceAllString(text, " ")
}

func urlOf(doc *document.Document) string {
	if doc.URL == nil {
		return ""
	}
	return doc.URL.String()
}
