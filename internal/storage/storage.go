// Package storage persists crawl history.
package storage

import (
	"context"
	"time"

	"github.com/FranksOps/harvest/internal/crawlerr"
)

// CrawlRecord is the persisted outcome of one crawl, successful or not.
type CrawlRecord struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	FinalURL     string              `json:"final_url,omitempty"`
	StatusCode   int                 `json:"status_code"`
	Strategy     string              `json:"strategy,omitempty"` // winning fetch strategy
	Attempts     int                 `json:"attempts"`
	Headers      map[string][]string `json:"headers,omitempty"`
	Encoding     string              `json:"encoding,omitempty"`
	Title        string              `json:"title,omitempty"`
	Text         string              `json:"text,omitempty"`
	Extraction   string              `json:"extraction,omitempty"` // extraction strategy
	Degraded     bool                `json:"degraded"`
	Anomalous    bool                `json:"anomalous"`
	Images       int                 `json:"images"`
	Links        int                 `json:"links"`
	Duration     time.Duration       `json:"duration"`
	DetectedBot  bool                `json:"detected_bot"`
	DetectionSrc string              `json:"detection_src,omitempty"` // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
	CreatedAt    time.Time           `json:"created_at"`
	ErrorKind    string              `json:"error_kind,omitempty"` // empty on success
	Error        string              `json:"error,omitempty"`
}

// Failed reports whether the crawl produced no document.
func (r *CrawlRecord) Failed() bool {
	return r.ErrorKind != "" && !r.partial()
}

// partial kinds still carry a document.
func (r *CrawlRecord) partial() bool {
	return r.ErrorKind == crawlerr.KindExtractionDegraded.String() ||
		r.ErrorKind == crawlerr.KindAnomalyRejected.String()
}

// Filter allows querying for specific CrawlRecords.
type Filter struct {
	URL         string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Backend defines the interface for storing and querying crawl records.
type Backend interface {
	Save(ctx context.Context, record *CrawlRecord) error
	Query(ctx context.Context, filter Filter) ([]*CrawlRecord, error)
	Close() error
}
