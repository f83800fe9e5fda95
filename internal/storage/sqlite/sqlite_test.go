package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/storage"
)

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "harvest.db")
	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	rec := &storage.CrawlRecord{
		ID:           "test1234",
		URL:          "http://example.com",
		FinalURL:     "http://example.com/",
		StatusCode:   200,
		Strategy:     "bypass",
		Attempts:     3,
		Headers:      map[string][]string{"Content-Type": {"text/html"}},
		Encoding:     "utf-8",
		Title:        "Example",
		Text:         "hello world",
		Extraction:   "fulltext",
		Degraded:     true,
		Images:       4,
		Links:        7,
		Duration:     50 * time.Millisecond,
		DetectedBot:  true,
		DetectionSrc: "Cloudflare",
		CreatedAt:    now,
		ErrorKind:    "extraction degraded",
	}

	if err := b.Save(ctx, rec); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("Failed to query records: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}

	got := results[0]
	if got.ID != rec.ID || got.FinalURL != rec.FinalURL || got.Strategy != rec.Strategy {
		t.Errorf("Expected %+v, got %+v", rec, got)
	}
	if got.Attempts != 3 || got.Images != 4 || got.Links != 7 {
		t.Errorf("Expected counters to round-trip, got %+v", got)
	}
	if got.Headers["Content-Type"][0] != "text/html" {
		t.Errorf("Expected Headers %v, got %v", rec.Headers, got.Headers)
	}
	if got.Text != rec.Text || got.Title != rec.Title || !got.Degraded {
		t.Errorf("Expected extraction fields to round-trip, got %+v", got)
	}
	if got.Duration.Milliseconds() != rec.Duration.Milliseconds() {
		t.Errorf("Expected Duration %v, got %v", rec.Duration, got.Duration)
	}
	if !got.DetectedBot || got.DetectionSrc != "Cloudflare" {
		t.Errorf("Expected detection to round-trip, got %v %q", got.DetectedBot, got.DetectionSrc)
	}
	if got.ErrorKind != rec.ErrorKind {
		t.Errorf("Expected ErrorKind %q, got %q", rec.ErrorKind, got.ErrorKind)
	}
}

func TestSQLiteBackend_FilterAndPaging(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "harvest.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := b.Save(ctx, &storage.CrawlRecord{
			ID:          fmt.Sprintf("rec-%d", i),
			URL:         fmt.Sprintf("http://example.com/%d", i),
			DetectedBot: i%2 == 0,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Failed to save record: %v", err)
		}
	}

	bot := true
	results, err := b.Query(ctx, storage.Filter{DetectedBot: &bot})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected 3 bot-flagged records, got %d", len(results))
	}

	results, err = b.Query(ctx, storage.Filter{Offset: 1})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 4 || results[0].ID != "rec-3" {
		t.Errorf("Expected newest-first paging from rec-3, got %d results", len(results))
	}

	results, _ = b.Query(ctx, storage.Filter{Limit: 2})
	if len(results) != 2 || results[0].ID != "rec-4" {
		t.Errorf("Expected 2 newest records, got %d", len(results))
	}
}
