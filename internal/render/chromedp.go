package render

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// ChromedpConfig configures the chromedp renderer.
type ChromedpConfig struct {
	ExecPath     string
	ShowWindow   bool
	Timeout      time.Duration
	MaxBodyBytes int
	Logger       *slog.Logger
}

// Chromedp renders pages in a fresh headless Chrome per call.
type Chromedp struct {
	cfg    ChromedpConfig
	logger *slog.Logger
}

// NewChromedp creates a renderer. Wrap it with Isolate to bound concurrency.
func NewChromedp(cfg ChromedpConfig) *Chromedp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chromedp{cfg: cfg, logger: logger}
}

// Render navigates to rawURL, optionally simulates a reader, and returns the
// outer HTML of the final document.
func (c *Chromedp) Render(parent context.Context, rawURL string, opts Options) (string, error) {
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !c.cfg.ShowWindow),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
	)
	if c.cfg.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if opts.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Proxy != nil {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.Proxy.String()))
	}
	if opts.IgnoreSSL {
		execOpts = append(execOpts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		waitForDocumentReady(),
	}
	if opts.SimulateBehavior {
		actions = append(actions, simulate(newPlan(rand.Float64))...)
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	start := time.Now()
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		c.logger.Warn("chromedp render failed", "url", rawURL, "err", err)
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	if len(html) > c.cfg.MaxBodyBytes {
		html = html[:c.cfg.MaxBodyBytes]
	}

	c.logger.Debug("chromedp render complete", "url", rawURL, "elapsed", time.Since(start), "bytes", len(html))
	return html, nil
}

// step is one simulated reader action.
type step struct {
	kind   string // scroll, move, click
	x, y   float64
	scroll float64
	pause  time.Duration
}

// newPlan draws a short sequence of reader actions: three to five scrolls
// down the page, a handful of mouse moves, and a click 30% of the time.
func newPlan(rnd func() float64) []step {
	var plan []step
	scrolls := 3 + int(rnd()*3)
	for i := 0; i < scrolls; i++ {
		plan = append(plan, step{
			kind:   "scroll",
			scroll: 0.2 + rnd()*0.6,
			pause:  time.Duration(500+rnd()*1000) * time.Millisecond,
		})
	}
	moves := 3 + int(rnd()*5)
	for i := 0; i < moves; i++ {
		plan = append(plan, step{
			kind:  "move",
			x:     100 + rnd()*1100,
			y:     100 + rnd()*500,
			pause: time.Duration(100+rnd()*400) * time.Millisecond,
		})
	}
	if rnd() < 0.3 {
		plan = append(plan, step{
			kind:  "click",
			x:     200 + rnd()*900,
			y:     150 + rnd()*400,
			pause: time.Second,
		})
	}
	return plan
}

func simulate(plan []step) []chromedp.Action {
	actions := make([]chromedp.Action, 0, len(plan)*2)
	for _, s := range plan {
		switch s.kind {
		case "scroll":
			js := fmt.Sprintf(`window.scrollTo(0, document.body.scrollHeight * %.3f)`, s.scroll)
			actions = append(actions, chromedp.Evaluate(js, nil))
		case "move":
			actions = append(actions, chromedp.MouseEvent(input.MouseMoved, s.x, s.y))
		case "click":
			actions = append(actions, chromedp.MouseClickXY(s.x, s.y))
		}
		actions = append(actions, chromedp.Sleep(s.pause))
	}
	return actions
}

func waitForDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
