package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/harvest/internal/bypass"
	"github.com/FranksOps/harvest/internal/fingerprint"
	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/render"
	"github.com/FranksOps/harvest/internal/settings"
)

// ErrBudgetExhausted is returned by Request.Try once a fetch has used all
// of its network tries.
var ErrBudgetExhausted = errors.New("attempt budget exhausted")

// Strategy is one stage of the fetch chain. Stages run in order and the
// first usable response wins.
type Strategy interface {
	Name() StrategyName
	Enabled(r *Request) bool
	Fetch(ctx context.Context, r *Request) (*Response, error)
}

// Response is what a strategy hands back to the chain.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	FinalURL   string
	// Text is set by strategies that already produce decoded markup.
	Text string
}

func (r *Response) usable() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) challenge() bool {
	if r == nil {
		return false
	}
	return bypass.IsChallenge(&bypass.Response{StatusCode: r.StatusCode, Headers: r.Headers, Body: r.Body})
}

// Request carries the state of one Fetch call through the chain.
type Request struct {
	Target      Target
	Settings    settings.CrawlSettings
	Identity    identity.Identity
	Proxy       *url.URL
	ForceBypass bool

	mu       sync.Mutex
	attempts []FetchAttempt
	budget   int
}

// Remaining reports how many network tries are left.
func (r *Request) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget
}

// Attempts returns a copy of the tries made so far.
func (r *Request) Attempts() []FetchAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FetchAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

// Try spends one unit of budget on fn and records the outcome.
func (r *Request) Try(ctx context.Context, strategy StrategyName, target string, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	r.mu.Lock()
	if r.budget <= 0 {
		r.mu.Unlock()
		return nil, ErrBudgetExhausted
	}
	r.budget--
	r.mu.Unlock()

	start := time.Now()
	resp, err := fn(ctx)
	elapsed := time.Since(start)

	a := FetchAttempt{Strategy: strategy, URL: target, Err: err, Elapsed: elapsed}
	if r.Proxy != nil {
		a.Proxy = r.Proxy.String()
	}
	if resp != nil {
		a.Status = resp.StatusCode
	}

	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()

	metrics.RecordAttempt(string(strategy), a.Status, err, elapsed)
	return resp, err
}

// defaultStrategies is the stock chain: fingerprint spoofing, challenge
// bypass, headless rendering and finally the plain retrying client.
func defaultStrategies(f *Fetcher) []Strategy {
	return []Strategy{
		&spoofStrategy{f: f},
		&bypassStrategy{f: f},
		&renderStrategy{f: f},
		&directStrategy{f: f},
	}
}

type spoofStrategy struct{ f *Fetcher }

func (s *spoofStrategy) Name() StrategyName { return StrategySpoof }

func (s *spoofStrategy) Enabled(r *Request) bool { return r.Settings.TLSFingerprint }

func (s *spoofStrategy) Fetch(ctx context.Context, r *Request) (*Response, error) {
	profile, err := fingerprint.ParseProfile(r.Settings.FingerprintProfile)
	if err != nil {
		return nil, err
	}
	client, err := s.f.sharedClient(r.Settings, profile)
	if err != nil {
		return nil, err
	}
	return r.Try(ctx, StrategySpoof, r.Target.String(), func(ctx context.Context) (*Response, error) {
		return s.f.get(ctx, client, r, r.Target.String(), navigationHeaders(r.Identity.Referer))
	})
}

// bypassStrategy behaves like a fresh browser session: it visits the site
// root first to collect clearance cookies, pauses, then requests the target
// as a same-origin navigation.
type bypassStrategy struct{ f *Fetcher }

func (s *bypassStrategy) Name() StrategyName { return StrategyBypass }

func (s *bypassStrategy) Enabled(r *Request) bool { return r.ForceBypass || r.Settings.UseBypass }

func (s *bypassStrategy) Fetch(ctx context.Context, r *Request) (*Response, error) {
	client, err := s.f.sessionClient(r.Settings, fingerprint.ProfileChrome)
	if err != nil {
		return nil, err
	}

	origin := r.Target.Origin() + "/"
	if origin != r.Target.String() {
		_, err := r.Try(ctx, StrategyBypass, origin, func(ctx context.Context) (*Response, error) {
			return s.f.get(ctx, client, r, origin, navigationHeaders(r.Identity.Referer))
		})
		if errors.Is(err, ErrBudgetExhausted) {
			return nil, err
		}
		if err := sleepCtx(ctx, r.Settings.RequestDelay.Duration); err != nil {
			return nil, err
		}
	}

	return r.Try(ctx, StrategyBypass, r.Target.String(), func(ctx context.Context) (*Response, error) {
		h := navigationHeaders(origin)
		h.Set("Sec-Fetch-Site", "same-origin")
		return s.f.get(ctx, client, r, r.Target.String(), h)
	})
}

type renderStrategy struct{ f *Fetcher }

func (s *renderStrategy) Name() StrategyName { return StrategyRender }

func (s *renderStrategy) Enabled(r *Request) bool {
	return r.Settings.DynamicRendering && s.f.renderer != nil
}

func (s *renderStrategy) Fetch(ctx context.Context, r *Request) (*Response, error) {
	return r.Try(ctx, StrategyRender, r.Target.String(), func(ctx context.Context) (*Response, error) {
		html, err := s.f.renderer.Render(ctx, r.Target.String(), render.Options{
			UserAgent:        r.Identity.UserAgent,
			Proxy:            r.Proxy,
			IgnoreSSL:        r.Settings.IgnoreSSL,
			SimulateBehavior: r.Settings.BehaviorSimulation,
			Timeout:          r.Settings.ConnectTimeout.Duration + r.Settings.ReadTimeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		return &Response{
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
			Body:       []byte(html),
			FinalURL:   r.Target.String(),
			Text:       html,
		}, nil
	})
}

// directStrategy is the baseline client. It retries transport errors and
// retryable statuses with exponential backoff.
type directStrategy struct{ f *Fetcher }

func (s *directStrategy) Name() StrategyName { return StrategyDirect }

func (s *directStrategy) Enabled(*Request) bool { return true }

func (s *directStrategy) Fetch(ctx context.Context, r *Request) (*Response, error) {
	client, err := s.f.sharedClient(r.Settings, fingerprint.ProfileGo)
	if err != nil {
		return nil, err
	}

	var (
		last    *Response
		lastErr error
	)
	for try := 0; try <= r.Settings.RetryTimes; try++ {
		if try > 0 {
			wait := backoffDelay(r.Settings.Backoff.Duration, try, last, time.Now())
			s.f.logger.Debug("retrying", "url", r.Target.String(), "strategy", StrategyDirect, "attempt", try+1, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return last, err
			}
		}

		resp, err := r.Try(ctx, StrategyDirect, r.Target.String(), func(ctx context.Context) (*Response, error) {
			return s.f.get(ctx, client, r, r.Target.String(), baseHeaders(r.Identity.Referer))
		})
		if errors.Is(err, ErrBudgetExhausted) {
			if last == nil && lastErr == nil {
				lastErr = err
			}
			break
		}
		last, lastErr = resp, err
		if err != nil {
			continue
		}
		if !isRetryable(resp.StatusCode) {
			return resp, nil
		}
	}
	if last != nil {
		return last, nil
	}
	return nil, lastErr
}

func baseHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Upgrade-Insecure-Requests", "1")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func navigationHeaders(referer string) http.Header {
	h := baseHeaders(referer)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	return h
}
