package useragent

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"
)

// DefaultPool provides a realistic set of modern desktop browser User-Agents.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 18_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// DefaultReferers are search engine landing pages used as plausible referers.
var DefaultReferers = []string{
	"https://www.google.com/",
	"https://www.bing.com/",
	"https://duckduckgo.com/",
	"https://search.yahoo.com/",
	"https://www.baidu.com/",
	"https://yandex.com/",
	"https://www.ecosia.org/",
}

// Generator produces a fresh User-Agent, e.g. from a live browser-version feed.
type Generator func() (string, error)

// Pool hands out entries from a fixed list, sequentially or at random.
type Pool struct {
	items     []string
	counter   atomic.Uint64
	generator Generator
}

// NewPool creates a pool. An empty slice falls back to DefaultPool.
func NewPool(items []string) *Pool {
	if len(items) == 0 {
		items = DefaultPool
	}
	copied := make([]string, len(items))
	copy(copied, items)
	return &Pool{items: copied}
}

// NewRefererPool creates a pool of referers. An empty slice falls back to
// DefaultReferers.
func NewRefererPool(items []string) *Pool {
	if len(items) == 0 {
		items = DefaultReferers
	}
	return NewPool(items)
}

// WithGenerator makes GetRandom prefer gen, falling back to the static list
// whenever gen fails or returns an empty string.
func (p *Pool) WithGenerator(gen Generator) *Pool {
	p.generator = gen
	return p
}

// GetSequential returns the next entry round-robin. Safe for concurrent use.
func (p *Pool) GetSequential() string {
	if len(p.items) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return p.items[idx%uint64(len(p.items))]
}

// GetRandom returns a uniformly random entry. Safe for concurrent use.
func (p *Pool) GetRandom() string {
	if p.generator != nil {
		if s, err := p.generator(); err == nil && s != "" {
			return s
		}
	}
	if len(p.items) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.items))))
	if err != nil {
		return p.GetSequential()
	}
	return p.items[n.Int64()]
}

// GetAll returns a copy of the static list.
func (p *Pool) GetAll() []string {
	copied := make([]string, len(p.items))
	copy(copied, p.items)
	return copied
}
