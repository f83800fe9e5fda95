package scraper

import (
	"errors"
	"net/url"
	"strings"

	"github.com/FranksOps/harvest/internal/crawlerr"
)

// Target is a validated absolute http(s) URL without a fragment.
type Target struct {
	u *url.URL
}

// NewTarget validates raw crawl input. Input without a scheme is treated
// as http.
func NewTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, crawlerr.New(crawlerr.KindInvalidInput, raw, errors.New("empty url"))
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return Target{}, crawlerr.New(crawlerr.KindInvalidInput, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, crawlerr.New(crawlerr.KindInvalidInput, raw, errors.New("scheme must be http or https"))
	}
	if u.Hostname() == "" {
		return Target{}, crawlerr.New(crawlerr.KindInvalidInput, raw, errors.New("missing host"))
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	return Target{u: u}, nil
}

// URL returns a copy of the target URL.
func (t Target) URL() *url.URL {
	if t.u == nil {
		return nil
	}
	c := *t.u
	return &c
}

func (t Target) String() string {
	if t.u == nil {
		return ""
	}
	return t.u.String()
}

// Host returns host[:port].
func (t Target) Host() string {
	if t.u == nil {
		return ""
	}
	return t.u.Host
}

// Origin returns scheme://host[:port].
func (t Target) Origin() string {
	if t.u == nil {
		return ""
	}
	return t.u.Scheme + "://" + t.u.Host
}
