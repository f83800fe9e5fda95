package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/frontier"
	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/internal/scraper"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/alicebob/miniredis/v2"
)

type memBackend struct {
	mu      sync.Mutex
	records []*storage.CrawlRecord
}

func (m *memBackend) Save(_ context.Context, r *storage.CrawlRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memBackend) Query(context.Context, storage.Filter) ([]*storage.CrawlRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records), nil
}

func (m *memBackend) Close() error { return nil }

func testSettings() settings.CrawlSettings {
	s := settings.Default()
	s.RequestDelay = settings.DurationFrom(0)
	s.Backoff = settings.DurationFrom(time.Millisecond)
	s.ConnectTimeout = settings.DurationFrom(5 * time.Second)
	s.ReadTimeout = settings.DurationFrom(5 * time.Second)
	s.TLSFingerprint = false
	s.RespectRobots = false
	return s
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Fetcher == nil {
		pool, err := identity.New(identity.Config{UserAgents: []string{"TestBrowser/1.0"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f, err := scraper.NewFetcher(scraper.FetchConfig{Identity: pool})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(f.Close)
		cfg.Fetcher = f
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func article(paragraphs int) string {
	var b strings.Builder
	for i := range paragraphs {
		fmt.Fprintf(&b, "<p>Section %d covers orchard harvest planning for season %d and the crews involved.</p>\n", i, 2000+i)
	}
	return b.String()
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

func TestCrawl_Success(t *testing.T) {
	page := `<html><head><title>Orchard</title>
<meta property="og:image" content="/og.jpg"></head>
<body><nav><a href="/about">About</a><a href="/blog#top">Blog</a><a href="https://elsewhere.test/">Out</a></nav>
<article>` + article(12) + `<img src="/img/a.png"></article></body></html>`

	ts := httptest.NewServer(serveHTML(page))
	defer ts.Close()

	backend := &memBackend{}
	p := newPipeline(t, Config{Backend: backend})

	res, err := p.Crawl(context.Background(), ts.URL+"/", testSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Err != nil {
		t.Errorf("expected no extraction error, got %v", res.Err)
	}
	if res.Title != "Orchard" {
		t.Errorf("expected title Orchard, got %q", res.Title)
	}
	if !strings.Contains(res.Text, "Section 11 covers orchard harvest planning") {
		t.Errorf("expected article text, got %q", res.Text)
	}
	if res.Extraction.Degraded {
		t.Errorf("expected a non-degraded extraction, got %s", res.Extraction.Strategy)
	}
	wantImages := []string{ts.URL + "/img/a.png", ts.URL + "/og.jpg"}
	if !slices.Equal(res.Images, wantImages) {
		t.Errorf("expected images %v, got %v", wantImages, res.Images)
	}
	wantLinks := []string{ts.URL + "/about", ts.URL + "/blog"}
	if !slices.Equal(res.Links, wantLinks) {
		t.Errorf("expected links %v, got %v", wantLinks, res.Links)
	}
	if res.Fetch.StatusCode != http.StatusOK || res.Fetch.Attempts != 1 {
		t.Errorf("unexpected fetch summary: %+v", res.Fetch)
	}
	if res.Enqueued != 0 {
		t.Errorf("expected no links enqueued outside distributed mode, got %d", res.Enqueued)
	}

	records, _ := backend.Query(context.Background(), storage.Filter{})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.Failed() || rec.Images != 2 || rec.Links != 2 || rec.Title != "Orchard" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestCrawl_AlreadySeen(t *testing.T) {
	var hits int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		serveHTML("<html><body><p>once</p></body></html>")(w, r)
	}))
	defer ts.Close()

	p := newPipeline(t, Config{})
	s := testSettings()

	if _, err := p.Crawl(context.Background(), ts.URL+"/page", s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := p.Crawl(context.Background(), ts.URL+"/page#again", s)
	if !errors.Is(err, crawlerr.AlreadySeen) {
		t.Fatalf("expected already seen, got %v", err)
	}

	s.SkipSeen = false
	if _, err := p.Crawl(context.Background(), ts.URL+"/page", s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("expected 2 requests, got %d", hits)
	}
}

func TestCrawl_InvalidInput(t *testing.T) {
	backend := &memBackend{}
	p := newPipeline(t, Config{Backend: backend})

	for _, raw := range []string{"", "#top", "ftp://example.com/file"} {
		_, err := p.Crawl(context.Background(), raw, testSettings())
		if !errors.Is(err, crawlerr.InvalidInput) {
			t.Errorf("%q: expected invalid input, got %v", raw, err)
		}
	}
	if len(backend.records) != 0 {
		t.Errorf("expected invalid input to leave no records, got %d", len(backend.records))
	}
}

func TestCrawl_FetchFailureIsRecorded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer ts.Close()

	backend := &memBackend{}
	p := newPipeline(t, Config{Backend: backend})

	_, err := p.Crawl(context.Background(), ts.URL+"/gone", testSettings())
	if crawlerr.StatusCode(err) != http.StatusGone {
		t.Fatalf("expected status 410 error, got %v", err)
	}

	seen, _ := p.Frontier().Seen(context.Background(), ts.URL+"/gone")
	if seen {
		t.Errorf("expected failed fetch to stay unseen")
	}

	if len(backend.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(backend.records))
	}
	rec := backend.records[0]
	if !rec.Failed() || rec.StatusCode != http.StatusGone || rec.ErrorKind != "http status" {
		t.Errorf("unexpected failure record: %+v", rec)
	}
}

func TestCrawl_DegradedStillReturnsText(t *testing.T) {
	ts := httptest.NewServer(serveHTML("<html><body><div>tiny page</div></body></html>"))
	defer ts.Close()

	p := newPipeline(t, Config{})
	res, err := p.Crawl(context.Background(), ts.URL, testSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(res.Err, crawlerr.ExtractionDegraded) {
		t.Errorf("expected extraction degraded, got %v", res.Err)
	}
	if res.Text != "tiny page" {
		t.Errorf("expected fallback text, got %q", res.Text)
	}
}

func TestCrawl_TextCrawlingOff(t *testing.T) {
	ts := httptest.NewServer(serveHTML(`<html><body><img src="/x.png"><p>ignored</p></body></html>`))
	defer ts.Close()

	s := testSettings()
	s.TextCrawling = false
	p := newPipeline(t, Config{})
	res, err := p.Crawl(context.Background(), ts.URL, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "" || res.Err != nil {
		t.Errorf("expected no extraction, got %q / %v", res.Text, res.Err)
	}
	if len(res.Images) != 1 {
		t.Errorf("expected 1 image, got %v", res.Images)
	}
}

func TestCrawl_DistributedEnqueuesLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", serveHTML(`<html><body><a href="/a">A</a><a href="/b">B</a><a href="/a">A again</a></body></html>`))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mr := miniredis.RunT(t)
	store, err := frontier.NewRedis(context.Background(), frontier.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	s := testSettings()
	s.Distributed = true

	p := newPipeline(t, Config{Frontier: store})
	res, err := p.Crawl(context.Background(), ts.URL+"/", s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Enqueued != 2 {
		t.Errorf("expected 2 links enqueued, got %d", res.Enqueued)
	}

	n, err := store.Len(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 queued urls, got %d", n)
	}
	seen, _ := store.Seen(context.Background(), ts.URL+"/")
	if !seen {
		t.Errorf("expected crawled url to be marked seen")
	}
}

func siteMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", serveHTML(`<html><body><a href="/a">A</a><a href="/b">B</a></body></html>`))
	mux.HandleFunc("/a", serveHTML(`<html><body><a href="/c">C</a><a href="/">Home</a></body></html>`))
	mux.HandleFunc("/b", serveHTML(`<html><body><a href="/a">A</a></body></html>`))
	mux.HandleFunc("/c", serveHTML(`<html><body>leaf</body></html>`))
	return mux
}

func TestDrain_FollowsLinksOnce(t *testing.T) {
	ts := httptest.NewServer(siteMux())
	defer ts.Close()

	var mu sync.Mutex
	crawled := map[string]int{}
	p := newPipeline(t, Config{
		Follow: true,
		OnResult: func(u string, res *Result, err error) {
			if err != nil {
				t.Errorf("unexpected error for %s: %v", u, err)
			}
			mu.Lock()
			crawled[u]++
			mu.Unlock()
		},
	})

	if _, err := p.Frontier().Enqueue(context.Background(), ts.URL+"/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Drain(ctx, testSettings(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(crawled) != 4 {
		t.Errorf("expected 4 pages crawled, got %v", crawled)
	}
	for u, n := range crawled {
		if n != 1 {
			t.Errorf("expected %s crawled once, got %d", u, n)
		}
	}
}

func TestDrain_MaxPages(t *testing.T) {
	ts := httptest.NewServer(siteMux())
	defer ts.Close()

	var mu sync.Mutex
	count := 0
	p := newPipeline(t, Config{
		Follow:   true,
		MaxPages: 2,
		OnResult: func(string, *Result, error) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	})
	if _, err := p.Frontier().Enqueue(context.Background(), ts.URL+"/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Drain(ctx, testSettings(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 crawls, got %d", count)
	}
}

func TestDrain_EmptyQueueReturns(t *testing.T) {
	p := newPipeline(t, Config{})

	done := make(chan error, 1)
	go func() { done <- p.Drain(context.Background(), testSettings(), 4) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return on an empty queue")
	}
}

func TestNew_RequiresFetcher(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without a fetcher")
	}
}
