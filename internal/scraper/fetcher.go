package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/render"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/pkg/httpclient"
	"github.com/FranksOps/harvest/pkg/ratelimit"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 16 << 20

// FetchConfig wires the fetcher's collaborators.
type FetchConfig struct {
	Identity *identity.Pool
	// Robots is consulted when settings.RespectRobots is set. Nil skips the gate.
	Robots RobotsChecker
	// Renderer backs the render strategy. Nil disables it.
	Renderer render.Renderer
	// Strategies replaces the default chain when non-nil.
	Strategies   []Strategy
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Fetcher retrieves documents through an ordered chain of strategies.
// Transports are pooled per TLS profile and timeout combination so
// connections are reused across fetches.
type Fetcher struct {
	identity   *identity.Pool
	robots     RobotsChecker
	renderer   render.Renderer
	strategies []Strategy
	maxBody    int64
	logger     *slog.Logger

	mu         sync.Mutex
	transports map[transportKey]http.RoundTripper
	clients    map[transportKey]*httpclient.Client
}

type transportKey struct {
	profile  fingerprint.Profile
	insecure bool
	connect  time.Duration
	read     time.Duration
	cookies  bool
}

// NewFetcher initializes a Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Identity == nil {
		pool, err := identity.New(identity.Config{})
		if err != nil {
			return nil, fmt.Errorf("default identity pool: %w", err)
		}
		cfg.Identity = pool
	}

	f := &Fetcher{
		identity:   cfg.Identity,
		robots:     cfg.Robots,
		renderer:   cfg.Renderer,
		maxBody:    cfg.MaxBodyBytes,
		logger:     cfg.Logger,
		transports: make(map[transportKey]http.RoundTripper),
		clients:    make(map[transportKey]*httpclient.Client),
	}
	f.strategies = cfg.Strategies
	if f.strategies == nil {
		f.strategies = defaultStrategies(f)
	}
	return f, nil
}

// Fetch retrieves target under s. The robots gate runs before anything is
// sent to the target, then the rate-shaping delay, then the strategy chain.
//
// A challenge page from the chain re-enters it once at the bypass stage.
// A transport failure with several proxies configured rotates the proxy and
// restarts the chain, at most s.RetryTimes times. Every network try draws
// from a budget of s.RetryTimes plus the number of strategies.
func (f *Fetcher) Fetch(ctx context.Context, target Target, s settings.CrawlSettings) (*FetchResult, error) {
	start := time.Now()
	id := f.identity.NextIdentity()
	logger := f.logger.With("url", target.String())

	if s.RespectRobots && f.robots != nil && !f.robots.CanFetch(ctx, target.String(), id.UserAgent) {
		metrics.RecordFetch(target.Host(), crawlerr.KindPermissionDenied.String(), "", 0)
		return nil, crawlerr.New(crawlerr.KindPermissionDenied, target.String(), errors.New("disallowed by robots.txt"))
	}

	if err := ratelimit.NewLimiter(s.RequestDelay.Duration).Wait(ctx); err != nil {
		return nil, crawlerr.New(crawlerr.KindTransport, target.String(), err)
	}

	r := &Request{
		Target:   target,
		Settings: s,
		Identity: id,
		budget:   s.RetryTimes + len(f.strategies),
	}
	if s.UseProxy {
		r.Proxy = f.identity.CurrentProxy()
	}

	startAt := 0
	rotations := 0
	for {
		resp, name, err := f.runChain(ctx, r, startAt)
		if err == nil && resp.usable() {
			f.identity.MarkProxy(r.Proxy, true)
			return f.buildResult(target, r, resp, name, start), nil
		}
		if ctx.Err() != nil {
			return nil, f.fail(target, r, nil, ctx.Err())
		}

		if bypassAt := f.indexOf(StrategyBypass); resp.challenge() && !r.ForceBypass && bypassAt >= 0 && r.Remaining() > 0 {
			logger.Info("challenge detected, retrying with bypass client", "status", resp.StatusCode)
			r.ForceBypass = true
			startAt = bypassAt
			continue
		}

		transportFailure := resp == nil && err != nil && !errors.Is(err, ErrBudgetExhausted)
		if transportFailure && s.UseProxy && f.identity.ProxyCount() > 1 && rotations < s.RetryTimes && r.Remaining() > 0 {
			if r.Proxy != nil {
				f.identity.MarkProxy(r.Proxy, false)
				metrics.ProxyFailures.WithLabelValues(r.Proxy.String()).Inc()
			}
			r.Proxy = f.identity.RotateProxy()
			rotations++
			logger.Info("transport failure, rotating proxy", "proxy", r.Proxy, "err", err)
			startAt = 0
			continue
		}

		return nil, f.fail(target, r, resp, err)
	}
}

// runChain runs enabled strategies from index startAt and returns the first
// usable response, or the last outcome seen.
func (f *Fetcher) runChain(ctx context.Context, r *Request, startAt int) (*Response, StrategyName, error) {
	var (
		last     *Response
		lastErr  error
		lastName StrategyName
	)
	for _, st := range f.strategies[startAt:] {
		if !st.Enabled(r) {
			continue
		}
		if r.Remaining() <= 0 {
			break
		}

		resp, err := st.Fetch(ctx, r)
		if errors.Is(err, ErrBudgetExhausted) && resp == nil {
			if last == nil && lastErr == nil {
				lastErr = err
			}
			break
		}
		if err == nil && resp.usable() {
			return resp, st.Name(), nil
		}

		f.logger.Debug("strategy did not yield content", "url", r.Target.String(), "strategy", st.Name(), "err", err, "status", statusOf(resp))
		last, lastErr, lastName = resp, err, st.Name()
		if ctx.Err() != nil {
			break
		}
	}
	if last == nil && lastErr == nil {
		lastErr = errors.New("no strategy produced a response")
	}
	return last, lastName, lastErr
}

func (f *Fetcher) indexOf(name StrategyName) int {
	for i, st := range f.strategies {
		if st.Name() == name {
			return i
		}
	}
	return -1
}

func (f *Fetcher) buildResult(target Target, r *Request, resp *Response, name StrategyName, start time.Time) *FetchResult {
	text, enc := resp.Text, "utf-8"
	if text == "" {
		text, enc = decodeText(resp.Body, resp.Headers.Get("Content-Type"))
	}
	verdict := bypass.Analyze(&bypass.Response{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body}, bypass.DefaultDetectors())

	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = target.String()
	}

	res := &FetchResult{
		ID:           uuid.New().String(),
		URL:          target.String(),
		FinalURL:     finalURL,
		StatusCode:   resp.StatusCode,
		Headers:      resp.Headers,
		Body:         resp.Body,
		Text:         text,
		Encoding:     enc,
		Strategy:     name,
		Attempts:     r.Attempts(),
		DetectedBot:  verdict.Detected,
		DetectionSrc: verdict.Source,
		Duration:     time.Since(start),
		CreatedAt:    start.UTC(),
	}
	metrics.RecordFetch(target.Host(), string(name), verdict.Source, len(resp.Body))
	f.logger.Debug("fetched", "url", res.URL, "strategy", name, "status", res.StatusCode, "attempts", len(res.Attempts), "encoding", enc)
	return res
}

func (f *Fetcher) fail(target Target, r *Request, resp *Response, err error) error {
	attempts := len(r.Attempts())

	var ce *crawlerr.Error
	switch {
	case resp != nil:
		ce = crawlerr.HTTPStatus(resp.StatusCode, target.String())
	case err != nil:
		ce = crawlerr.New(crawlerr.KindTransport, target.String(), err)
	default:
		ce = crawlerr.New(crawlerr.KindTransport, target.String(), errors.New("no response"))
	}
	ce.Attempts = attempts

	src := ""
	if resp != nil {
		src = bypass.Analyze(&bypass.Response{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: resp.Body}, bypass.DefaultDetectors()).Source
	}
	metrics.RecordFetch(target.Host(), ce.Kind.String(), src, 0)
	f.logger.Warn("fetch failed", "url", target.String(), "attempts", attempts, "err", ce)
	return ce
}

// get issues one GET with identity headers and the request's proxy.
func (f *Fetcher) get(ctx context.Context, client *httpclient.Client, r *Request, rawURL string, headers http.Header) (*Response, error) {
	if r.Proxy != nil {
		ctx = context.WithValue(ctx, proxyKey, r.Proxy)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", r.Identity.UserAgent)

	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, f.maxBody)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		FinalURL:   resp.Request.URL.String(),
	}, nil
}

// sharedClient returns a pooled client for profile. With cookies enabled
// the jar lives as long as the Fetcher.
func (f *Fetcher) sharedClient(s settings.CrawlSettings, profile fingerprint.Profile) (*httpclient.Client, error) {
	key := keyFor(s, profile)

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	rt, err := f.transportLocked(key)
	if err != nil {
		return nil, err
	}
	c, err := httpclient.New(httpclient.Config{
		ConnectTimeout: key.connect,
		ReadTimeout:    key.read,
		UseCookieJar:   key.cookies,
		Transport:      rt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	f.clients[key] = c
	return c, nil
}

// sessionClient returns a client with a fresh cookie jar over a pooled transport.
func (f *Fetcher) sessionClient(s settings.CrawlSettings, profile fingerprint.Profile) (*httpclient.Client, error) {
	key := keyFor(s, profile)

	f.mu.Lock()
	rt, err := f.transportLocked(key)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c, err := httpclient.New(httpclient.Config{
		ConnectTimeout: key.connect,
		ReadTimeout:    key.read,
		UseCookieJar:   true,
		Transport:      rt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth client: %w", err)
	}
	return c, nil
}

func keyFor(s settings.CrawlSettings, profile fingerprint.Profile) transportKey {
	return transportKey{
		profile:  profile,
		insecure: s.IgnoreSSL,
		connect:  s.ConnectTimeout.Duration,
		read:     s.ReadTimeout.Duration,
		cookies:  s.UseCookies,
	}
}

// transportLocked must be called with f.mu held.
func (f *Fetcher) transportLocked(key transportKey) (http.RoundTripper, error) {
	tk := key
	tk.cookies = false
	if rt, ok := f.transports[tk]; ok {
		return rt, nil
	}
	rt, err := fingerprint.Transport(fingerprint.Options{
		Profile:               key.profile,
		Proxy:                 proxyFromContext,
		InsecureSkipVerify:    key.insecure,
		ConnectTimeout:        key.connect,
		ResponseHeaderTimeout: key.read,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup transport: %w", err)
	}
	f.transports[tk] = rt
	return rt, nil
}

// proxyFromContext routes a request through the proxy stored in its
// context, so one pooled transport can serve every proxy in rotation.
func proxyFromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
		return u, nil
	}
	return nil, nil
}

func statusOf(r *Response) int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}

// Close releases idle pooled connections.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.CloseIdleConnections()
	}
}
