// Package pipeline runs the fetch, extract and dedup stages for one URL and
// drains the shared frontier with a pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/discover"
	"github.com/FranksOps/harvest/internal/document"
	"github.com/FranksOps/harvest/internal/extract"
	"github.com/FranksOps/harvest/internal/frontier"
	"github.com/FranksOps/harvest/internal/scraper"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const pollInterval = 50 * time.Millisecond

// Fetcher retrieves one target. *scraper.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, target scraper.Target, s settings.CrawlSettings) (*scraper.FetchResult, error)
}

// Config wires the collaborators of a Pipeline.
type Config struct {
	Fetcher  Fetcher
	Frontier frontier.Store
	// Backend records every crawl outcome. Optional.
	Backend storage.Backend
	Logger  *slog.Logger
	// Follow enqueues discovered links even when the frontier is local.
	Follow bool
	// MaxPages caps the number of crawls Drain starts. Zero means no cap.
	MaxPages int
	// OnResult receives every outcome produced by Drain.
	OnResult func(url string, res *Result, err error)
}

// FetchSummary is the part of a FetchResult worth handing to callers.
type FetchSummary struct {
	ID           string
	FinalURL     string
	StatusCode   int
	Strategy     scraper.StrategyName
	Attempts     int
	Encoding     string
	DetectedBot  bool
	DetectionSrc string
	Duration     time.Duration
}

// Result is the outcome of a crawl that produced a document. Err is only
// ever an ExtractionDegraded or AnomalyRejected error.
type Result struct {
	URL        string
	Title      string
	Text       string
	Images     []string
	Links      []string
	Extraction extract.Result
	Fetch      FetchSummary
	// Enqueued counts links newly added to the frontier.
	Enqueued int
	Err      error
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	fetcher  Fetcher
	frontier frontier.Store
	backend  storage.Backend
	logger   *slog.Logger
	follow   bool
	maxPages int
	onResult func(string, *Result, error)
}

// New validates cfg. A nil Frontier gets an in-process store.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if cfg.Frontier == nil {
		cfg.Frontier = frontier.NewLocal()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		fetcher:  cfg.Fetcher,
		frontier: cfg.Frontier,
		backend:  cfg.Backend,
		logger:   cfg.Logger,
		follow:   cfg.Follow,
		maxPages: cfg.MaxPages,
		onResult: cfg.OnResult,
	}, nil
}

// Frontier returns the store the pipeline dedups against.
func (p *Pipeline) Frontier() frontier.Store { return p.frontier }

// Crawl fetches rawURL, parses it once and runs discovery and extraction
// over the shared document. Fatal failures are returned as errors tagged
// with a crawlerr kind.
func (p *Pipeline) Crawl(ctx context.Context, rawURL string, s settings.CrawlSettings) (*Result, error) {
	target, err := scraper.NewTarget(rawURL)
	if err != nil {
		return nil, err
	}
	key := target.String()

	if s.SkipSeen {
		seen, err := p.frontier.Seen(ctx, key)
		if err != nil {
			p.logger.Warn("frontier lookup failed", "url", key, "err", err)
		} else if seen {
			p.logger.Debug("skipping seen url", "url", key)
			return nil, crawlerr.New(crawlerr.KindAlreadySeen, key, nil)
		}
	}

	start := time.Now()
	fetched, err := p.fetcher.Fetch(ctx, target, s)
	if err != nil {
		p.record(ctx, failedRecord(key, err, start))
		return nil, err
	}

	if err := p.frontier.MarkSeen(ctx, key); err != nil {
		p.logger.Warn("failed to mark url seen", "url", key, "err", err)
	}
	if fetched.FinalURL != "" && fetched.FinalURL != key {
		if err := p.frontier.MarkSeen(ctx, fetched.FinalURL); err != nil {
			p.logger.Warn("failed to mark url seen", "url", fetched.FinalURL, "err", err)
		}
	}

	base := target.URL()
	if u, err := url.Parse(fetched.FinalURL); err == nil && u.Host != "" {
		base = u
	}
	doc, err := document.Parse(fetched.Text, base)
	if err != nil {
		err = crawlerr.New(crawlerr.KindParseFailure, key, err)
		p.record(ctx, failedRecord(key, err, start))
		return nil, err
	}

	res := &Result{
		URL:   key,
		Title: doc.Title(),
		Fetch: summarize(fetched),
	}

	var g errgroup.Group
	g.Go(func() error {
		if s.ImageCrawling {
			res.Images = discover.FindImages(doc, base, s.MaxImages)
		}
		if s.MaxDepth > 0 {
			res.Links = discover.FindLinks(doc, base, s.MaxDepth)
		}
		return nil
	})
	if s.TextCrawling {
		g.Go(func() error {
			opts := extract.OptionsFrom(s)
			opts.Logger = p.logger
			res.Extraction = extract.ExtractMainText(doc, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("crawl %s: %w", key, err)
	}

	res.Text = res.Extraction.Text
	switch {
	case res.Extraction.Anomalous:
		res.Err = crawlerr.New(crawlerr.KindAnomalyRejected, key, nil)
	case res.Extraction.Degraded:
		res.Err = crawlerr.New(crawlerr.KindExtractionDegraded, key, nil)
	}

	if s.Distributed || p.follow {
		res.Enqueued = p.enqueue(ctx, res.Links)
	}

	p.record(ctx, recordOf(res, fetched))
	p.logger.Info("crawled", "url", key, "strategy", res.Fetch.Strategy, "status", res.Fetch.StatusCode,
		"extraction", res.Extraction.Strategy, "images", len(res.Images), "links", len(res.Links))
	return res, nil
}

func (p *Pipeline) enqueue(ctx context.Context, links []string) int {
	n := 0
	for _, link := range links {
		added, err := p.frontier.Enqueue(ctx, link)
		if err != nil {
			p.logger.Warn("failed to enqueue link", "url", link, "err", err)
			continue
		}
		if added {
			n++
		}
	}
	return n
}

func (p *Pipeline) record(ctx context.Context, rec *storage.CrawlRecord) {
	if p.backend == nil {
		return
	}
	if err := p.backend.Save(ctx, rec); err != nil {
		p.logger.Error("failed to save crawl record", "url", rec.URL, "err", err)
	}
}

// Drain runs workers that dequeue and crawl until the frontier is empty and
// no crawl is in flight, MaxPages is reached or ctx is done. Per-URL failures
// go to OnResult and never stop the drain.
func (p *Pipeline) Drain(ctx context.Context, s settings.CrawlSettings, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	var inflight, started atomic.Int64
	g, gctx := errgroup.WithContext(ctx)

	for range workers {
		g.Go(func() error {
			// An empty queue seen twice with nothing in flight means no
			// crawl can still add work.
			idle := 0
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				if p.maxPages > 0 && started.Add(1) > int64(p.maxPages) {
					return nil
				}

				inflight.Add(1)
				raw, ok, err := p.frontier.Dequeue(gctx)
				if err != nil {
					inflight.Add(-1)
					return fmt.Errorf("dequeue: %w", err)
				}
				if !ok {
					if p.maxPages > 0 {
						started.Add(-1)
					}
					if inflight.Add(-1) == 0 {
						if idle++; idle >= 2 {
							return nil
						}
						continue
					}
					idle = 0
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(pollInterval):
					}
					continue
				}
				idle = 0

				res, err := p.Crawl(gctx, raw, s)
				if err != nil && !crawlerr.IsKind(err, crawlerr.KindAlreadySeen) {
					p.logger.Warn("crawl failed", "url", raw, "err", err)
				}
				if p.onResult != nil {
					p.onResult(raw, res, err)
				}
				inflight.Add(-1)
			}
		})
	}

	return g.Wait()
}

func summarize(f *scraper.FetchResult) FetchSummary {
	return FetchSummary{
		ID:           f.ID,
		FinalURL:     f.FinalURL,
		StatusCode:   f.StatusCode,
		Strategy:     f.Strategy,
		Attempts:     len(f.Attempts),
		Encoding:     f.Encoding,
		DetectedBot:  f.DetectedBot,
		DetectionSrc: f.DetectionSrc,
		Duration:     f.Duration,
	}
}

func recordOf(res *Result, f *scraper.FetchResult) *storage.CrawlRecord {
	rec := &storage.CrawlRecord{
		ID:           f.ID,
		URL:          res.URL,
		FinalURL:     f.FinalURL,
		StatusCode:   f.StatusCode,
		Strategy:     string(f.Strategy),
		Attempts:     len(f.Attempts),
		Headers:      f.Headers,
		Encoding:     f.Encoding,
		Title:        res.Title,
		Text:         res.Text,
		Extraction:   string(res.Extraction.Strategy),
		Degraded:     res.Extraction.Degraded,
		Anomalous:    res.Extraction.Anomalous,
		Images:       len(res.Images),
		Links:        len(res.Links),
		Duration:     f.Duration,
		DetectedBot:  f.DetectedBot,
		DetectionSrc: f.DetectionSrc,
		CreatedAt:    f.CreatedAt,
	}
	if res.Err != nil {
		rec.ErrorKind = crawlerr.KindOf(res.Err).String()
		rec.Error = res.Err.Error()
	}
	return rec
}

func failedRecord(rawURL string, err error, start time.Time) *storage.CrawlRecord {
	rec := &storage.CrawlRecord{
		ID:         uuid.NewString(),
		URL:        rawURL,
		StatusCode: crawlerr.StatusCode(err),
		Duration:   time.Since(start),
		CreatedAt:  start,
		ErrorKind:  crawlerr.KindOf(err).String(),
		Error:      err.Error(),
	}
	var ce *crawlerr.Error
	if errors.As(err, &ce) {
		rec.Attempts = ce.Attempts
	}
	return rec
}
