// Package export writes crawl output as newline-delimited UTF-8 text files
// named after the crawled domain.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the time format embedded in export file names.
const TimestampLayout = "20060102_150405"

var reUnsafe = regexp.MustCompile(`[^\w-]`)

// Domain maps a page URL to the file-name-safe form of its host: a leading
// "www." is dropped and every character outside [A-Za-z0-9_-] becomes "_".
func Domain(pageURL string) string {
	host := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return "unknown"
	}
	return reUnsafe.ReplaceAllString(host, "_")
}

// Writer creates export files under a directory.
type Writer struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// New returns a Writer rooted at dir. An empty dir means the working
// directory.
func New(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, now: time.Now, logger: logger}
}

// Text writes the extracted text to {domain}_{ts}.txt.
func (w *Writer) Text(pageURL, text string) (string, error) {
	return w.write(fmt.Sprintf("%s_%s.txt", Domain(pageURL), w.stamp()), text)
}

// Links writes one link per line to {domain}_links_{ts}.txt.
func (w *Writer) Links(pageURL string, links []string) (string, error) {
	return w.write(fmt.Sprintf("%s_links_%s.txt", Domain(pageURL), w.stamp()), strings.Join(links, "\n"))
}

// ImageLinks writes one image URL per line to {domain}_image_links_{ts}.txt.
func (w *Writer) ImageLinks(pageURL string, images []string) (string, error) {
	return w.write(fmt.Sprintf("%s_image_links_%s.txt", Domain(pageURL), w.stamp()), strings.Join(images, "\n"))
}

// Bundle is everything a single crawl can export.
type Bundle struct {
	URL    string
	Text   string
	Links  []string
	Images []string
}

// All writes every non-empty part of b and returns the created paths.
func (w *Writer) All(b Bundle) ([]string, error) {
	var (
		paths []string
		errs  []error
	)
	add := func(path string, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		paths = append(paths, path)
	}
	if b.Text != "" {
		add(w.Text(b.URL, b.Text))
	}
	if len(b.Links) > 0 {
		add(w.Links(b.URL, b.Links))
	}
	if len(b.Images) > 0 {
		add(w.ImageLinks(b.URL, b.Images))
	}
	return paths, errors.Join(errs...)
}

func (w *Writer) stamp() string {
	return w.now().Format(TimestampLayout)
}

func (w *Writer) write(name, content string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	w.logger.Info("exported", "path", path, "bytes", len(content))
	return path, nil
}
