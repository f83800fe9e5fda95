// Package media downloads discovered images to disk.
package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/FranksOps/harvest/internal/crawlerr"
	"github.com/FranksOps/harvest/internal/export"
	"github.com/FranksOps/harvest/internal/identity"
	"github.com/FranksOps/harvest/internal/metrics"
	"github.com/FranksOps/harvest/internal/settings"
	"github.com/FranksOps/harvest/pkg/httpclient"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MinFileBytes is the smallest download kept. Anything shorter is usually
// an error page or a tracking pixel.
const MinFileBytes = 1024

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// ErrTooSmall is returned for downloads under MinFileBytes.
var ErrTooSmall = errors.New("image file too small")

// Tally counts the outcomes of a batch.
type Tally struct {
	Succeeded int
	Failed    int
	Skipped   int
	// Errors holds the first few failure messages.
	Errors []string
}

const maxTallyErrors = 5

func (t *Tally) add(err error) {
	switch {
	case err == nil:
		t.Succeeded++
	case crawlerr.IsKind(err, crawlerr.KindResourceTooLarge):
		t.Skipped++
	default:
		t.Failed++
		if len(t.Errors) < maxTallyErrors {
			t.Errors = append(t.Errors, err.Error())
		}
	}
}

// Config builds a Downloader.
type Config struct {
	// OutDir is where the {domain}_images directories are created.
	OutDir   string
	Identity *identity.Pool
	Logger   *slog.Logger
}

// Downloader fetches images with per-host pacing.
type Downloader struct {
	outDir   string
	identity *identity.Pool
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDownloader creates a Downloader. A nil identity pool uses the stock
// user agents without proxies.
func NewDownloader(cfg Config) (*Downloader, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	if cfg.Identity == nil {
		pool, err := identity.New(identity.Config{})
		if err != nil {
			return nil, fmt.Errorf("default identity pool: %w", err)
		}
		cfg.Identity = pool
	}
	return &Downloader{
		outDir:   cfg.OutDir,
		identity: cfg.Identity,
		logger:   cfg.Logger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Dir returns the image directory for pages of pageURL.
func (d *Downloader) Dir(pageURL string) string {
	return filepath.Join(d.outDir, export.Domain(pageURL)+"_images")
}

// FileName derives the on-disk name of imageURL: its basename when that has
// an extension, otherwise image_<md5[:8]>.<ext> with ext taken from the
// content type and defaulting to jpg.
func FileName(imageURL, contentType string) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	base := path.Base(p)
	if base != "." && base != "/" && strings.Contains(base, ".") {
		return base
	}

	ext := "jpg"
	if e := extensionFor(contentType); e != "" {
		ext = e
	}
	sum := md5.Sum([]byte(imageURL))
	return fmt.Sprintf("image_%s.%s", hex.EncodeToString(sum[:])[:8], ext)
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "image/") || mt == "image/jpeg" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mt)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return strings.TrimPrefix(exts[0], ".")
}

// DownloadAll fetches images on a pool of s.MaxThreads workers. A failed
// image never stops the others.
func (d *Downloader) DownloadAll(ctx context.Context, images []string, pageURL string, s settings.CrawlSettings) Tally {
	var (
		mu    sync.Mutex
		tally Tally
	)
	client, err := d.client(s)
	if err != nil {
		d.logger.Error("failed to build image client", "err", err)
		tally.Failed = len(images)
		tally.Errors = []string{err.Error()}
		return tally
	}
	defer client.CloseIdleConnections()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.MaxThreads, 1))
	for i, img := range images {
		g.Go(func() error {
			_, err := d.download(gctx, client, img, pageURL, s)
			mu.Lock()
			tally.add(err)
			mu.Unlock()
			if err != nil {
				d.logger.Debug("image download failed", "url", img, "index", i+1, "total", len(images), "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("image downloads finished", "page", pageURL,
		"succeeded", tally.Succeeded, "failed", tally.Failed, "skipped", tally.Skipped)
	return tally
}

// Download fetches one image and returns the written path. Images over the
// size limit fail with a ResourceTooLarge error and leave no file.
func (d *Downloader) Download(ctx context.Context, imageURL, pageURL string, s settings.CrawlSettings) (string, error) {
	client, err := d.client(s)
	if err != nil {
		return "", err
	}
	defer client.CloseIdleConnections()
	return d.download(ctx, client, imageURL, pageURL, s)
}

func (d *Downloader) download(ctx context.Context, client *httpclient.Client, imageURL, pageURL string, s settings.CrawlSettings) (string, error) {
	dest, err := d.fetch(ctx, client, imageURL, pageURL, s)
	switch {
	case err == nil:
		metrics.RecordImage(OutcomeOK)
	case crawlerr.IsKind(err, crawlerr.KindResourceTooLarge):
		metrics.RecordImage(OutcomeSkipped)
	default:
		metrics.RecordImage(OutcomeFailed)
	}
	return dest, err
}

func (d *Downloader) fetch(ctx context.Context, client *httpclient.Client, imageURL, pageURL string, s settings.CrawlSettings) (string, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", crawlerr.New(crawlerr.KindInvalidInput, imageURL, errors.New("not an http(s) url"))
	}
	limit := s.ImageSizeLimitBytes()

	if err := d.limiter(u.Host, s).Wait(ctx); err != nil {
		return "", crawlerr.New(crawlerr.KindTransport, imageURL, err)
	}

	// HEAD is advisory. Servers that reject it are checked during the GET.
	if size, ok := d.headSize(ctx, client, imageURL, pageURL); ok && size > limit {
		return "", tooLarge(imageURL, size, limit)
	}

	req, err := d.request(ctx, http.MethodGet, imageURL, pageURL)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		return "", crawlerr.New(crawlerr.KindTransport, imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", crawlerr.HTTPStatus(resp.StatusCode, imageURL)
	}
	if resp.ContentLength > limit {
		return "", tooLarge(imageURL, resp.ContentLength, limit)
	}

	dir := d.Dir(pageURL)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, limit+1))
	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	switch {
	case copyErr != nil:
		return "", crawlerr.New(crawlerr.KindTransport, imageURL, copyErr)
	case n > limit:
		return "", tooLarge(imageURL, n, limit)
	case n < MinFileBytes:
		return "", fmt.Errorf("%s: %w (%d bytes)", imageURL, ErrTooSmall, n)
	}

	dest := filepath.Join(dir, FileName(imageURL, resp.Header.Get("Content-Type")))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move image into place: %w", err)
	}
	d.logger.Debug("image saved", "url", imageURL, "path", dest, "bytes", n)
	return dest, nil
}

func (d *Downloader) headSize(ctx context.Context, client *httpclient.Client, imageURL, pageURL string) (int64, bool) {
	req, err := d.request(ctx, http.MethodHead, imageURL, pageURL)
	if err != nil {
		return 0, false
	}
	resp, err := client.Do(ctx, req)
	if err != nil {
		d.logger.Debug("image head failed", "url", imageURL, "err", err)
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, false
	}
	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, false
	}
	return size, true
}

func (d *Downloader) request(ctx context.Context, method, imageURL, pageURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, imageURL, nil)
	if err != nil {
		return nil, crawlerr.New(crawlerr.KindInvalidInput, imageURL, err)
	}
	id := d.identity.NextIdentity()
	req.Header.Set("User-Agent", id.UserAgent)
	req.Header.Set("Referer", pageURL)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	return req, nil
}

func (d *Downloader) client(s settings.CrawlSettings) (*httpclient.Client, error) {
	cfg := httpclient.Config{
		ConnectTimeout:     s.ConnectTimeout.Duration,
		ReadTimeout:        s.ReadTimeout.Duration,
		InsecureSkipVerify: s.IgnoreSSL,
	}
	if s.UseProxy {
		if p := d.identity.CurrentProxy(); p != nil {
			cfg.Proxy = http.ProxyURL(p)
		}
	}
	return httpclient.New(cfg)
}

// limiter paces requests to one host at s.RequestDelay.
func (d *Downloader) limiter(host string, s settings.CrawlSettings) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[host]
	if !ok {
		every := rate.Inf
		if s.RequestDelay.Duration > 0 {
			every = rate.Every(s.RequestDelay.Duration)
		}
		l = rate.NewLimiter(every, max(s.MaxThreads, 1))
		d.limiters[host] = l
	}
	return l
}

func tooLarge(imageURL string, size, limit int64) error {
	return crawlerr.New(crawlerr.KindResourceTooLarge, imageURL,
		fmt.Errorf("%.2fMB exceeds %dMB", float64(size)/(1<<20), limit>>20))
}
