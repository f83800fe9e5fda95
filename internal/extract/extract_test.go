package extract

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/FranksOps/harvest/internal/document"
)

func parse(t *testing.T, raw string) *document.Document {
	t.Helper()
	base, _ := url.Parse("http://example.com/post")
	doc, err := document.Parse(raw, base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return doc
}

func sentence(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Sentence number %d describes the harvest in plain words. ", i)
	}
	return b.String()
}

func baseOptions() Options {
	return Options{MinContentLength: 500, LinkDensityThreshold: 0.3}
}

func TestExtractMainText_Selector(t *testing.T) {
	body := sentence(20)
	doc := parse(t, `<html><body><nav>Home | About</nav><article><h1>Title</h1><p>`+body+`</p></article></body></html>`)

	res := ExtractMainText(doc, baseOptions())
	if res.Strategy != StrategySelector {
		t.Fatalf("expected selector strategy, got %s", res.Strategy)
	}
	if strings.Contains(res.Text, "Home | About") {
		t.Errorf("expected navigation to be excluded, got %q", res.Text[:40])
	}
	if !strings.HasPrefix(res.Text, "Title\n") {
		t.Errorf("expected heading on its own line, got %q", res.Text[:20])
	}
	if res.Degraded {
		t.Errorf("expected non-degraded result")
	}
}

func TestExtractMainText_SelectorTooShortFallsThrough(t *testing.T) {
	doc := parse(t, `<html><body><article>tiny</article><div>`+sentence(3)+`</div></body></html>`)

	res := ExtractMainText(doc, baseOptions())
	if res.Strategy != StrategyDensity {
		t.Fatalf("expected density strategy, got %s", res.Strategy)
	}
}

func TestExtractMainText_Readability(t *testing.T) {
	var paras strings.Builder
	for i := 0; i < 6; i++ {
		paras.WriteString("<p>" + sentence(4) + "</p>")
	}
	doc := parse(t, `<html><head><title>Story</title></head><body><div id="story">`+paras.String()+`</div><footer>Copyright</footer></body></html>`)

	opts := baseOptions()
	opts.Readability = true
	res := ExtractMainText(doc, opts)
	if res.Strategy != StrategyReadability {
		t.Fatalf("expected readability strategy, got %s", res.Strategy)
	}
	if !strings.Contains(res.Text, "Sentence number 3") {
		t.Errorf("expected story text, got %q", res.Text)
	}
	if utf8.RuneCountInString(res.Text) < 500 {
		t.Errorf("expected at least 500 runes, got %d", utf8.RuneCountInString(res.Text))
	}
}

func TestExtractMainText_MinifiedLongArticle(t *testing.T) {
	var paras strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&paras, "<p>Paragraph %d notes that plot %d grew %d rows of beans while plot %d rested for the season. Keeper %d logged %d visits.</p>",
			i, i*7, i*3+11, i*13, i*17, i*19)
	}
	doc := parse(t, `<html><head><title>Allotment diary</title></head><body><nav><a href="/">Home</a></nav><article><h1>Headline</h1>`+
		paras.String()+`</article></body></html>`)

	opts := baseOptions()
	opts.Readability = true
	opts.AnomalyDetection = true
	res := ExtractMainText(doc, opts)
	if res.Anomalous || res.Text == RejectedText {
		t.Fatalf("expected article to pass the anomaly gate, features %+v", res.Features)
	}
	if res.Strategy != StrategyReadability {
		t.Errorf("expected readability strategy, got %s", res.Strategy)
	}
	if res.Features.Runes <= maxAvgLineRunes {
		t.Errorf("expected more than %d runes, got %d", maxAvgLineRunes, res.Features.Runes)
	}
	if res.Features.Lines < 50 {
		t.Errorf("expected paragraphs on separate lines, got %d lines", res.Features.Lines)
	}
	if strings.Contains(res.Text, "visits.Paragraph") {
		t.Errorf("expected paragraph break between blocks, got run-together text")
	}
}

func TestExtractMainText_DensityBoundary(t *testing.T) {
	block := func(anchorRunes int) string {
		return `<p><a href="/x">` + strings.Repeat("a", anchorRunes) + `</a>` + strings.Repeat("b", 100-anchorRunes) + `</p>`
	}

	tests := []struct {
		name    string
		anchors int
		kept    bool
	}{
		{"below threshold", 29, true},
		{"at threshold", 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, `<html><body>`+block(tt.anchors)+`</body></html>`)
			got := byDensity(doc, 0.3)
			if kept := got != ""; kept != tt.kept {
				t.Errorf("density %d/100: kept = %v, want %v", tt.anchors, kept, tt.kept)
			}
		})
	}
}

func TestExtractMainText_DensitySkipsNested(t *testing.T) {
	inner := sentence(2)
	doc := parse(t, `<html><body><div><p>`+inner+`</p></div></body></html>`)

	got := byDensity(doc, 0.3)
	if strings.Count(got, "Sentence number 0") != 1 {
		t.Errorf("expected nested block to be emitted once, got %q", got)
	}
}

func TestExtractMainText_FullTextFallback(t *testing.T) {
	doc := parse(t, `<html><head><style>body{}</style><script>var x = 1;</script></head><body><span>short</span> <b>words</b></body></html>`)

	res := ExtractMainText(doc, baseOptions())
	if res.Strategy != StrategyFullText || !res.Degraded {
		t.Fatalf("expected degraded full text, got %s degraded=%v", res.Strategy, res.Degraded)
	}
	if res.Text != "short\nwords" {
		t.Errorf("unexpected text %q", res.Text)
	}
}

func TestExtractMainText_NeverEmptyForNonEmptyInput(t *testing.T) {
	inputs := []string{
		"plain text without markup",
		"<html><body><script>only()</script></body></html>",
		"<div>&amp;</div>",
	}
	for _, raw := range inputs {
		res := ExtractMainText(parse(t, raw), baseOptions())
		if res.Text == "" {
			t.Errorf("empty text for input %q", raw)
		}
	}
}

func TestExtractMainText_AnomalyGate(t *testing.T) {
	repeated := strings.Repeat(strings.Repeat("x", 50), 20)
	doc := parse(t, `<html><body><article>`+repeated+`</article></body></html>`)

	opts := baseOptions()
	opts.AnomalyDetection = true
	res := ExtractMainText(doc, opts)
	if !res.Anomalous {
		t.Fatalf("expected repeated text to be flagged")
	}
	if res.Text != RejectedText {
		t.Errorf("expected rejection marker, got %q", res.Text)
	}

	opts.AnomalyDetection = false
	if res := ExtractMainText(doc, opts); res.Anomalous {
		t.Errorf("expected gate to be off")
	}
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a\n\n\n\nb", "a\n\nb"},
		{"fish &amp; chips", "fish & chips"},
		{"zero\u200bwidth\x07bell", "zerowidthbell"},
		{"  padded  ", "padded"},
		{"too    many\t\tspaces", "too many spaces"},
		{"c1\u0085control", "c1control"},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMeasure(t *testing.T) {
	f := Measure(strings.Repeat("ab", 50) + "\n" + strings.Repeat("cd", 50))
	if f.Lines != 2 {
		t.Errorf("expected 2 lines, got %d", f.Lines)
	}
	if f.AvgLineLength != 100 {
		t.Errorf("expected average line length 100, got %v", f.AvgLineLength)
	}
	if f.SpecialCharRatio != 0 {
		t.Errorf("expected no special characters, got %v", f.SpecialCharRatio)
	}

	var prose, blob strings.Builder
	for i := 0; i < 800; i++ {
		fmt.Fprintf(&prose, "row %d holds %d leeks ", i, i*3)
		fmt.Fprintf(&blob, "%08x", uint32(i)*2654435761)
	}
	if f := Measure(prose.String()); f.Lines != 1 || f.Runes <= maxAvgLineRunes || f.Anomalous() {
		t.Errorf("expected long single-line prose to pass, got %+v", f)
	}
	if f := Measure(blob.String()); !f.Anomalous() {
		t.Errorf("expected single-line blob to be flagged, got %+v", f)
	}

	short := Measure(strings.Repeat("!", 99))
	if short.Anomalous() {
		t.Errorf("expected texts under 100 runes to pass")
	}
}
