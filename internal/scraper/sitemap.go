package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/FranksOps/harvest/internal/settings"
	"github.com/oxffaa/gopher-parse-sitemap"
)

// maxSitemapDepth bounds how many index levels are followed.
const maxSitemapDepth = 3

// SitemapFetcher fetches sitemaps and sitemap indexes to discover seed URLs.
type SitemapFetcher struct {
	fetcher  *Fetcher
	settings settings.CrawlSettings
	logger   *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher. Sitemaps are fetched
// through fetcher under s.
func NewSitemapFetcher(fetcher *Fetcher, s settings.CrawlSettings, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{
		fetcher:  fetcher,
		settings: s,
		logger:   logger,
	}
}

// FetchSitemap fetches a sitemap XML or sitemap index and returns the page
// URLs it lists, in document order with duplicates and non-http(s) entries
// removed.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	locs, err := s.fetchSitemap(ctx, sitemapURL, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(locs))
	urls := locs[:0]
	for _, loc := range locs {
		loc = strings.TrimSpace(loc)
		if _, err := NewTarget(loc); err != nil {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}
		urls = append(urls, loc)
	}
	return urls, nil
}

func (s *SitemapFetcher) fetchSitemap(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL)

	target, err := NewTarget(sitemapURL)
	if err != nil {
		return nil, err
	}
	result, err := s.fetcher.Fetch(ctx, target, s.settings)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}

	var urls []string
	err = sitemap.Parse(bytes.NewReader(result.Body), func(e sitemap.Entry) error {
		urls = append(urls, e.GetLocation())
		return nil
	})
	if err == nil && len(urls) > 0 {
		return urls, nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(result.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		if err == nil {
			err = errors.New("no entries found")
		}
		return nil, fmt.Errorf("failed to parse as sitemap or index: %w", err)
	}
	if depth >= maxSitemapDepth {
		s.logger.Warn("sitemap index nesting too deep", "url", sitemapURL)
		return nil, nil
	}

	for _, nestedURL := range nested {
		nestedURLs, fetchErr := s.fetchSitemap(ctx, nestedURL, depth+1)
		if fetchErr != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", fetchErr)
			continue
		}
		urls = append(urls, nestedURLs...)
	}
	return urls, nil
}
