// Package report aggregates crawl history into summaries.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	texttemplate "text/template"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/harvest/internal/storage"
)

// Summary contains aggregated metrics about a set of crawls.
type Summary struct {
	TotalCrawls     int
	Failed          int
	Degraded        int
	Anomalous       int
	TotalDetections int
	TotalAttempts   int
	TotalTextRunes  int
	TotalImages     int
	TotalLinks      int
	StatusCodes     map[int]int
	DetectionsBySrc map[string]int
	// Strategies counts which fetch strategy won each successful crawl.
	Strategies map[string]int
	// Extractions counts extraction strategies.
	Extractions map[string]int
	ErrorKinds  map[string]int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}

// AvgAttempts is the mean number of network tries per crawl.
func (s Summary) AvgAttempts() float64 {
	if s.TotalCrawls == 0 {
		return 0
	}
	return float64(s.TotalAttempts) / float64(s.TotalCrawls)
}

// SuccessRate is the share of crawls that produced a document.
func (s Summary) SuccessRate() float64 {
	if s.TotalCrawls == 0 {
		return 0
	}
	return float64(s.TotalCrawls-s.Failed) / float64(s.TotalCrawls)
}

// Summarize aggregates records.
func Summarize(records []*storage.CrawlRecord) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		DetectionsBySrc: make(map[string]int),
		Strategies:      make(map[string]int),
		Extractions:     make(map[string]int),
		ErrorKinds:      make(map[string]int),
	}

	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	for _, r := range records {
		s.TotalCrawls++
		s.TotalAttempts += r.Attempts
		if r.ErrorKind != "" {
			s.ErrorKinds[r.ErrorKind]++
		}
		if r.Failed() {
			s.Failed++
		} else {
			if r.Strategy != "" {
				s.Strategies[r.Strategy]++
			}
			if r.Extraction != "" {
				s.Extractions[r.Extraction]++
			}
			s.TotalTextRunes += utf8.RuneCountInString(r.Text)
			s.TotalImages += r.Images
			s.TotalLinks += r.Links
		}
		if r.Degraded {
			s.Degraded++
		}
		if r.Anomalous {
			s.Anomalous++
		}
		if r.DetectedBot {
			s.TotalDetections++
			s.DetectionsBySrc[r.DetectionSrc]++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

const textTmpl = `Harvest Crawl Summary
---------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Crawls:        {{.TotalCrawls}} ({{printf "%.1f" (pct .SuccessRate)}}% ok, {{.Failed}} failed)
Attempts:      {{.TotalAttempts}} ({{printf "%.2f" .AvgAttempts}} per crawl)
Text:          {{.TotalTextRunes}} runes ({{.Degraded}} degraded, {{.Anomalous}} rejected)
Resources:     {{.TotalImages}} images, {{.TotalLinks}} links

Fetch Strategies:
{{- range $name, $count := .Strategies}}
  {{$name}}: {{$count}}
{{- else}}
  None
{{- end}}

Extraction:
{{- range $name, $count := .Extractions}}
  {{$name}}: {{$count}}
{{- else}}
  None
{{- end}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Errors:
{{- range $kind, $count := .ErrorKinds}}
  {{$kind}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.TotalDetections}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}
`

var funcs = map[string]any{
	"pct": func(f float64) float64 { return f * 100 },
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Harvest Crawl Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Harvest Crawl Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card"><div>Crawls</div><div class="stat-val">{{.TotalCrawls}}</div></div>
  <div class="stat-card"><div>Failed</div><div class="stat-val">{{.Failed}}</div></div>
  <div class="stat-card"><div>Detections</div><div class="stat-val">{{.TotalDetections}}</div></div>
  <div class="stat-card"><div>Images</div><div class="stat-val">{{.TotalImages}}</div></div>
  <div class="stat-card"><div>Links</div><div class="stat-val">{{.TotalLinks}}</div></div>
{{range $title, $rows := tables .}}
  <h3>{{$title}}</h3>
  <table>
    <tr><th>Key</th><th>Count</th></tr>
    {{- range $k, $v := $rows}}
    <tr><td>{{$k}}</td><td>{{$v}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
{{end}}
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Funcs(template.FuncMap{
		"tables": func(s Summary) map[string]map[string]int {
			codes := make(map[string]int, len(s.StatusCodes))
			for c, n := range s.StatusCodes {
				codes[fmt.Sprint(c)] = n
			}
			return map[string]map[string]int{
				"Fetch Strategies":     s.Strategies,
				"Extraction":           s.Extractions,
				"Status Codes":         codes,
				"Errors":               s.ErrorKinds,
				"Detections By Source": s.DetectionsBySrc,
			}
		},
	}).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
