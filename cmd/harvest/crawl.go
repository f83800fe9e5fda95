package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/export"
	"github.com/FranksOps/harvest/internal/media"
	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type crawlOptions struct {
	follow         bool
	workers        int
	maxPages       int
	outDir         string
	export         bool
	downloadImages bool
	jsonOutput     bool
}

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <url>...",
		Short: "Crawl one or more URLs",
		Long: `Crawl fetches each URL, extracts its main text and discovers images and links.

Examples:
  # Crawl a single article and print a summary
  harvest crawl https://example.com/article

  # Write text, links and image lists to ./out and download the images
  harvest crawl --export --download-images --out ./out https://example.com/article

  # Follow same-host links up to 50 pages
  harvest crawl --follow --max-pages 50 https://example.com/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, root, opts, args)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.follow, "follow", false, "Enqueue discovered links and keep crawling until the queue is empty")
	f.IntVarP(&opts.workers, "workers", "w", 0, "Concurrent crawls (default: max_threads)")
	f.IntVar(&opts.maxPages, "max-pages", 0, "Stop after this many pages when following links (0 = no limit)")
	f.StringVarP(&opts.outDir, "out", "o", ".", "Directory for exports and images")
	f.BoolVar(&opts.export, "export", false, "Write text, links and image links files")
	f.BoolVar(&opts.downloadImages, "download-images", false, "Download discovered images")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print one JSON object per crawled page")
	return cmd
}

func runCrawl(cmd *cobra.Command, root *rootOptions, opts *crawlOptions, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()

	h, err := newResultHandler(cmd.OutOrStdout(), a, opts)
	if err != nil {
		return err
	}

	workers := opts.workers
	if workers <= 0 {
		workers = a.settings.MaxThreads
	}

	if opts.follow {
		p, err := a.pipeline(pipeline.Config{
			Follow:   true,
			MaxPages: opts.maxPages,
			OnResult: func(u string, res *pipeline.Result, err error) { h.handle(ctx, u, res, err) },
		})
		if err != nil {
			return err
		}
		for _, raw := range args {
			if _, err := p.Frontier().Enqueue(ctx, raw); err != nil {
				return fmt.Errorf("enqueue %s: %w", raw, err)
			}
		}
		if err := p.Drain(ctx, a.settings, workers); err != nil {
			return err
		}
		return h.err()
	}

	p, err := a.pipeline(pipeline.Config{})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, raw := range args {
		g.Go(func() error {
			res, err := p.Crawl(gctx, raw, a.settings)
			h.handle(gctx, raw, res, err)
			return nil
		})
	}
	_ = g.Wait()
	return h.err()
}

// resultHandler prints, exports and downloads crawl results. It is shared
// by concurrent crawls.
type resultHandler struct {
	out        io.Writer
	jsonOutput bool
	exporter   *export.Writer
	downloader *media.Downloader
	settings   settings.CrawlSettings

	mu     sync.Mutex
	failed int
	total  int
}

func newResultHandler(out io.Writer, a *app, opts *crawlOptions) (*resultHandler, error) {
	h := &resultHandler{out: out, jsonOutput: opts.jsonOutput, settings: a.settings}
	if opts.export {
		h.exporter = export.New(opts.outDir, a.logger)
	}
	if opts.downloadImages {
		d, err := media.NewDownloader(media.Config{OutDir: opts.outDir, Identity: a.identity, Logger: a.logger})
		if err != nil {
			return nil, err
		}
		h.downloader = d
	}
	return h, nil
}

type pageView struct {
	URL        string   `json:"url"`
	FinalURL   string   `json:"final_url,omitempty"`
	Status     int      `json:"status,omitempty"`
	Strategy   string   `json:"strategy,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
	Title      string   `json:"title,omitempty"`
	Extraction string   `json:"extraction,omitempty"`
	Text       string   `json:"text,omitempty"`
	Images     []string `json:"images,omitempty"`
	Links      []string `json:"links,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	Error      string   `json:"error,omitempty"`
	Files      []string `json:"files,omitempty"`
	Downloaded int      `json:"downloaded,omitempty"`
}

func (h *resultHandler) handle(ctx context.Context, raw string, res *pipeline.Result, err error) {
	view := pageView{URL: raw}
	switch {
	case crawlerr.IsKind(err, crawlerr.KindAlreadySeen):
		view.Warning = err.Error()
	case err != nil:
		view.Error = err.Error()
	default:
		view = pageView{
			URL:        res.URL,
			FinalURL:   res.Fetch.FinalURL,
			Status:     res.Fetch.StatusCode,
			Strategy:   string(res.Fetch.Strategy),
			Attempts:   res.Fetch.Attempts,
			Title:      res.Title,
			Extraction: string(res.Extraction.Strategy),
			Images:     res.Images,
			Links:      res.Links,
		}
		if h.jsonOutput {
			view.Text = res.Text
		}
		if res.Err != nil {
			view.Warning = res.Err.Error()
		}
		if h.exporter != nil {
			files, err := h.exporter.All(export.Bundle{URL: res.URL, Text: res.Text, Links: res.Links, Images: res.Images})
			if err != nil {
				view.Error = err.Error()
			}
			view.Files = files
		}
		if h.downloader != nil && len(res.Images) > 0 {
			view.Downloaded = h.downloader.DownloadAll(ctx, res.Images, res.URL, h.settings).Succeeded
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	if view.Error != "" {
		h.failed++
	}
	if h.jsonOutput {
		_ = json.NewEncoder(h.out).Encode(view)
		return
	}
	switch {
	case view.Error != "":
		fmt.Fprintf(h.out, "FAIL %s: %s\n", view.URL, view.Error)
	case view.Status == 0:
		fmt.Fprintf(h.out, "SKIP %s: %s\n", view.URL, view.Warning)
	default:
		fmt.Fprintf(h.out, "OK   %s [%d %s, %d attempts] %q text=%s images=%d links=%d\n",
			view.URL, view.Status, view.Strategy, view.Attempts, view.Title, view.Extraction, len(view.Images), len(view.Links))
		if view.Warning != "" {
			fmt.Fprintf(h.out, "     warning: %s\n", view.Warning)
		}
		for _, f := range view.Files {
			fmt.Fprintf(h.out, "     wrote %s\n", f)
		}
		if h.downloader != nil {
			fmt.Fprintf(h.out, "     downloaded %d of %d images\n", view.Downloaded, len(view.Images))
		}
	}
}

func (h *resultHandler) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed > 0 {
		return fmt.Errorf("%d of %d crawls failed", h.failed, h.total)
	}
	return nil
}
