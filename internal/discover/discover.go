// Package discover finds image and link references in a parsed page.
package discover

import (
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/FranksOps/harvest/internal/document"
	"github.com/PuerkitoBio/goquery"
)

// LinksPerDepth caps FindLinks at LinksPerDepth × depth results.
const LinksPerDepth = 10

var reStyleURL = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// skippedExtensions are link targets that are not documents.
var skippedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true, ".svg": true, ".ico": true,
	".pdf": true, ".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true, ".bz2": true,
	".exe": true, ".msi": true, ".dmg": true, ".apk": true, ".bin": true, ".iso": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".flv": true, ".wav": true, ".ogg": true, ".webm": true,
	".css": true, ".js": true,
}

// FindImages returns the absolute image URLs referenced by doc, deduplicated
// and sorted. At most max are returned; max <= 0 means no cap.
func FindImages(doc *document.Document, base *url.URL, max int) []string {
	seen := make(map[string]struct{})
	add := func(ref string) {
		if abs, ok := resolve(base, ref); ok && abs.Scheme != "data" {
			seen[abs.String()] = struct{}{}
		}
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("src", ""))
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		for _, m := range reStyleURL.FindAllStringSubmatch(s.AttrOr("style", ""), -1) {
			add(m[1])
		}
	})
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if strings.Contains(rel, "icon") {
			add(s.AttrOr("href", ""))
		}
	})
	doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""))
	})

	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	slices.Sort(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// FindLinks returns same-host document links in discovery order, without
// fragments or duplicates, capped at LinksPerDepth × depth.
func FindLinks(doc *document.Document, base *url.URL, depth int) []string {
	limit := LinksPerDepth * depth
	if limit <= 0 || base == nil {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		if href == "" || strings.HasPrefix(lower, "#") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return true
		}

		abs, ok := resolve(base, href)
		if !ok || (abs.Scheme != "http" && abs.Scheme != "https") {
			return true
		}
		if !strings.EqualFold(abs.Host, base.Host) {
			return true
		}
		if skippedExtensions[strings.ToLower(path.Ext(abs.Path))] {
			return true
		}

		abs.Fragment = ""
		abs.RawFragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, key)
		return len(out) < limit
	})
	return out
}

func resolve(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme == "data" {
		return u, true
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, false
	}
	return u, true
}
