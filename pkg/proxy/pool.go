package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Proxy is one endpoint plus its health counters.
type Proxy struct {
	URL           *url.URL
	Failures      int
	Successes     int
	Disabled      bool
	DisabledUntil time.Time
}

// Pool rotates round-robin over a fixed list of proxies. The current index
// is the only mutable rotation state and is guarded by mu.
type Pool struct {
	mu           sync.Mutex
	proxies      []*Proxy
	currentIndex int
	maxFailures  int
	cooldown     time.Duration
}

// Config defines settings for the Proxy Pool.
type Config struct {
	// MaxFailures before a proxy is marked unhealthy.
	MaxFailures int
	// Cooldown is how long a proxy stays unhealthy after hitting MaxFailures.
	Cooldown time.Duration
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile reads one proxy URL per line. Blank lines and '#' comments are ignored.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy file: %w", err)
	}
	return p.Add(urls...)
}

// Add parses raw proxy URLs, defaulting to http:// when no scheme is given.
func (p *Pool) Add(rawURLs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range rawURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse proxy: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy %q has no host", raw)
		}
		p.proxies = append(p.proxies, &Proxy{URL: u})
	}
	return nil
}

// Len returns the number of configured proxies.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Current returns the proxy at the rotation index, or nil for an empty pool.
func (p *Pool) Current() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}
	return p.proxies[p.currentIndex].URL
}

// Rotate advances the index by exactly one with wraparound and returns the
// new current proxy. Concurrent callers each advance it once.
func (p *Pool) Rotate() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return nil
	}
	p.currentIndex = (p.currentIndex + 1) % len(p.proxies)
	return p.proxies[p.currentIndex].URL
}

// Healthy reports whether proxyURL is known and not cooling down.
func (p *Pool) Healthy(proxyURL *url.URL) bool {
	if proxyURL == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.findProxy(proxyURL)
	if prx == nil {
		return false
	}
	p.revive(prx, time.Now())
	return !prx.Disabled
}

// Snapshot returns a copy of every proxy's counters.
func (p *Pool) Snapshot() []Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make([]Proxy, 0, len(p.proxies))
	for _, prx := range p.proxies {
		p.revive(prx, now)
		out = append(out, *prx)
	}
	return out
}

// MarkSuccess records a successful request through proxyURL.
func (p *Pool) MarkSuccess(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxyURL cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.findProxy(proxyURL)
	if prx == nil {
		return errors.New("proxy not found in pool")
	}
	prx.Successes++
	if prx.Failures > 0 {
		prx.Failures--
	}
	return nil
}

// MarkFailure records a failure. Reaching MaxFailures marks the proxy
// unhealthy for the cooldown period.
func (p *Pool) MarkFailure(proxyURL *url.URL) error {
	if proxyURL == nil {
		return errors.New("proxyURL cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prx := p.findProxy(proxyURL)
	if prx == nil {
		return errors.New("proxy not found in pool")
	}
	prx.Failures++
	if prx.Failures >= p.maxFailures {
		prx.Disabled = true
		prx.DisabledUntil = time.Now().Add(p.cooldown)
	}
	return nil
}

// revive re-enables a proxy whose cooldown has passed. Must be called with lock held.
func (p *Pool) revive(prx *Proxy, now time.Time) {
	if prx.Disabled && now.After(prx.DisabledUntil) {
		prx.Disabled = false
		prx.Failures = 0
	}
}

// findProxy locates a proxy by its String() form. Must be called with lock held.
func (p *Pool) findProxy(u *url.URL) *Proxy {
	target := u.String()
	for _, prx := range p.proxies {
		if prx.URL.String() == target {
			return prx
		}
	}
	return nil
}
