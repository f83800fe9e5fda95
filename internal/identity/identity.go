// Package identity supplies the request identity for each crawl: a user
// agent, a referer and a rotating proxy endpoint.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/FranksOps/harvest/pkg/proxy"
	"github.com/FranksOps/harvest/pkg/useragent"
)

// Identity is the header identity presented on one request.
type Identity struct {
	UserAgent string
	Referer   string
}

// Config builds a Pool. Empty lists fall back to the curated defaults.
type Config struct {
	UserAgents []string
	Referers   []string
	Proxies    []string
	// Generator optionally supplies live user agents. Failures fall back to
	// the static list.
	Generator useragent.Generator

	ProbeURL     string
	ProbeTimeout time.Duration

	ProxyMaxFailures int
	ProxyCooldown    time.Duration
}

// Pool hands out identities and owns the proxy rotation state.
type Pool struct {
	agents       *useragent.Pool
	referers     *useragent.Pool
	proxies      *proxy.Pool
	probeURL     string
	probeTimeout time.Duration
}

// New creates a Pool from cfg.
func New(cfg Config) (*Pool, error) {
	agents := useragent.NewPool(cfg.UserAgents)
	if cfg.Generator != nil {
		agents.WithGenerator(cfg.Generator)
	}

	proxies := proxy.NewPool(proxy.Config{
		MaxFailures: cfg.ProxyMaxFailures,
		Cooldown:    cfg.ProxyCooldown,
	})
	if err := proxies.Add(cfg.Proxies...); err != nil {
		return nil, fmt.Errorf("add proxies: %w", err)
	}

	return &Pool{
		agents:       agents,
		referers:     useragent.NewRefererPool(cfg.Referers),
		proxies:      proxies,
		probeURL:     cfg.ProbeURL,
		probeTimeout: cfg.ProbeTimeout,
	}, nil
}

// NextIdentity picks a user agent and a referer independently at random.
func (p *Pool) NextIdentity() Identity {
	return Identity{
		UserAgent: p.agents.GetRandom(),
		Referer:   p.referers.GetRandom(),
	}
}

// CurrentProxy returns the active proxy, or nil when none are configured.
func (p *Pool) CurrentProxy() *url.URL {
	return p.proxies.Current()
}

// RotateProxy advances to the next proxy and returns it.
func (p *Pool) RotateProxy() *url.URL {
	return p.proxies.Rotate()
}

// ProxyCount reports how many proxies are configured.
func (p *Pool) ProxyCount() int {
	return p.proxies.Len()
}

// ProxyHealthy probes endpoint once against the known-good probe URL.
func (p *Pool) ProxyHealthy(ctx context.Context, endpoint *url.URL) bool {
	return proxy.Probe(ctx, endpoint, p.probeURL, p.probeTimeout)
}

// MarkProxy feeds a request outcome into the proxy health counters.
// Unknown or nil proxies are ignored.
func (p *Pool) MarkProxy(endpoint *url.URL, ok bool) {
	if endpoint == nil {
		return
	}
	if ok {
		_ = p.proxies.MarkSuccess(endpoint)
		return
	}
	_ = p.proxies.MarkFailure(endpoint)
}

// ProxyStatus lists the configured proxies with their health counters.
func (p *Pool) ProxyStatus() []proxy.Proxy {
	return p.proxies.Snapshot()
}
