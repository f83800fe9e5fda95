package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRobotsAuditor_CanFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`
User-agent: *
Disallow: /admin/
Allow: /admin/public/

User-agent: BadBot
Disallow: /
		`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	auditor, err := NewRobotsAuditor(nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if !auditor.CanFetch(ctx, ts.URL+"/public-page", "GoodBot") {
		t.Errorf("expected /public-page to be allowed")
	}
	if auditor.CanFetch(ctx, ts.URL+"/admin/secret", "GoodBot") {
		t.Errorf("expected /admin/secret to be disallowed")
	}
	if !auditor.CanFetch(ctx, ts.URL+"/admin/public/index.html", "GoodBot") {
		t.Errorf("expected /admin/public/index.html to be allowed")
	}
	if auditor.CanFetch(ctx, ts.URL+"/public-page", "BadBot") {
		t.Errorf("expected /public-page to be disallowed for BadBot")
	}
}

func TestRobotsAuditor_FailsOpen(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"missing", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			auditor, _ := NewRobotsAuditor(nil, nil)
			if !auditor.CanFetch(context.Background(), ts.URL+"/anything", "Bot") {
				t.Errorf("expected status %d to default to allowed", tt.status)
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		addr := ts.URL
		ts.Close()

		auditor, _ := NewRobotsAuditor(nil, nil)
		if !auditor.CanFetch(context.Background(), addr+"/anything", "Bot") {
			t.Errorf("expected unreachable host to default to allowed")
		}
	})
}

func TestRobotsAuditor_Caches(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer ts.Close()

	auditor, _ := NewRobotsAuditor(nil, nil)
	for i := 0; i < 5; i++ {
		auditor.CanFetch(context.Background(), ts.URL+"/page", "Bot")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected robots.txt to be fetched once, got %d", got)
	}
}

func TestRobotsAuditor_Sitemaps(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`
User-agent: *
Sitemap: http://example.com/sitemap.xml
Sitemap: http://example.com/sitemap2.xml
		`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	auditor, _ := NewRobotsAuditor(nil, slog.Default())

	sitemaps := auditor.SitemapExtracts(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
	if len(sitemaps) != 2 {
		t.Fatalf("expected 2 sitemaps, got %d", len(sitemaps))
	}
	if sitemaps[0] != "http://example.com/sitemap.xml" {
		t.Errorf("expected sitemap.xml, got %s", sitemaps[0])
	}
}

func TestRobotsAuditor_SlowOriginDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	var slowHits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slowHits.Add(1)
		<-release
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer fast.Close()

	auditor, _ := NewRobotsAuditor(nil, nil)

	var wg sync.WaitGroup
	slowResults := make(chan bool, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slowResults <- auditor.CanFetch(context.Background(), slow.URL+"/page", "Bot")
		}()
	}

	done := make(chan bool, 1)
	go func() { done <- auditor.CanFetch(context.Background(), fast.URL+"/private/x", "Bot") }()
	select {
	case allowed := <-done:
		if allowed {
			t.Errorf("expected /private to be disallowed on the fast origin")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("permission check on one origin waited for another origin's robots.txt")
	}

	release <- struct{}{}
	wg.Wait()
	close(slowResults)
	for allowed := range slowResults {
		if allowed {
			t.Errorf("expected slow origin to disallow everything")
		}
	}
	if n := slowHits.Load(); n != 1 {
		t.Errorf("expected concurrent checks to share one robots.txt fetch, got %d", n)
	}
}
