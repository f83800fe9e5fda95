package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/harvest/pkg/httpclient"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsChecker decides whether a URL may be fetched by a user agent.
type RobotsChecker interface {
	CanFetch(ctx context.Context, rawURL, userAgent string) bool
}

// maxRobotsBytes bounds how much of a robots.txt file is read.
const maxRobotsBytes = 512 << 10

// RobotsAuditor fetches, caches and enforces robots.txt per origin. Any
// failure to obtain or parse the file allows the fetch.
type RobotsAuditor struct {
	client *httpclient.Client
	logger *slog.Logger
	mu     sync.RWMutex
	cache  map[string]*robotstxt.RobotsData

	// inflight collapses concurrent fetches of one origin. The cache lock is
	// never held across the network.
	inflight singleflight.Group
}

// NewRobotsAuditor creates a new instance. A nil client gets a plain one
// with short timeouts.
func NewRobotsAuditor(client *httpclient.Client, logger *slog.Logger) (*RobotsAuditor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		c, err := httpclient.New(httpclient.Config{
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    5 * time.Second,
			MaxRedirects:   5,
		})
		if err != nil {
			return nil, fmt.Errorf("build robots client: %w", err)
		}
		client = c
	}
	return &RobotsAuditor{
		client: client,
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}, nil
}

// CanFetch reports whether userAgent may fetch rawURL.
func (r *RobotsAuditor) CanFetch(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := r.getOrFetch(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, userAgent)
}

func (r *RobotsAuditor) getOrFetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	if data, ok := r.cached(origin); ok {
		return data
	}

	v, _, _ := r.inflight.Do(origin, func() (any, error) {
		if data, ok := r.cached(origin); ok {
			return data, nil
		}
		data, err := r.fetch(ctx, origin+"/robots.txt")
		if err != nil {
			r.logger.Debug("robots.txt unavailable, defaulting to allow", "url", origin, "err", err)
			// Cancellation is not cached so the next crawl can try again.
			if ctx.Err() != nil {
				return nil, nil
			}
		}
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
		return data, nil
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data
}

func (r *RobotsAuditor) cached(origin string) (*robotstxt.RobotsData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.cache[origin]
	return data, ok
}

func (r *RobotsAuditor) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A server error would make robotstxt disallow everything.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots.txt status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return data, nil
}

// SitemapExtracts returns the sitemap URLs listed in the host's robots.txt.
func (r *RobotsAuditor) SitemapExtracts(ctx context.Context, host string) []string {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	data := r.getOrFetch(ctx, strings.TrimRight(host, "/"))
	if data == nil {
		return nil
	}
	return data.Sitemaps
}
