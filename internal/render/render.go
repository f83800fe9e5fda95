// Package render defines the headless-browser collaborator used by the
// fetcher for pages that need JavaScript.
package render

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrUnavailable is returned when no browser can be started.
var ErrUnavailable = errors.New("renderer unavailable")

// Options shape a single render.
type Options struct {
	UserAgent        string
	Proxy            *url.URL
	IgnoreSSL        bool
	SimulateBehavior bool
	Timeout          time.Duration
}

// Renderer loads a URL in a browser and returns the final DOM as HTML.
// Retry and evasion policy belong to the caller.
type Renderer interface {
	Render(ctx context.Context, rawURL string, opts Options) (string, error)
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, rawURL string, opts Options) (string, error)

func (f Func) Render(ctx context.Context, rawURL string, opts Options) (string, error) {
	return f(ctx, rawURL, opts)
}

// Isolate bounds r to n concurrent renders so slow browser sessions cannot
// starve the lightweight fetch paths that share the process.
func Isolate(r Renderer, n int) Renderer {
	if n <= 0 {
		n = 1
	}
	return &isolated{next: r, sem: make(chan struct{}, n)}
}

type isolated struct {
	next Renderer
	sem  chan struct{}
}

func (i *isolated) Render(ctx context.Context, rawURL string, opts Options) (string, error) {
	select {
	case i.sem <- struct{}{}:
		defer func() { <-i.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return i.next.Render(ctx, rawURL, opts)
}
