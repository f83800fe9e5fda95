package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultProbeURL is a known-good endpoint that echoes the caller's address.
const DefaultProbeURL = "http://httpbin.org/ip"

// DefaultProbeTimeout bounds a single liveness probe.
const DefaultProbeTimeout = 10 * time.Second

// Probe reports whether a single GET to target through proxyURL answers 200
// within timeout. There is no retry. Empty target and zero timeout use the
// defaults above.
func Probe(ctx context.Context, proxyURL *url.URL, target string, timeout time.Duration) bool {
	if proxyURL == nil {
		return false
	}
	if target == "" {
		target = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := (&http.Client{Transport: transport}).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode == http.StatusOK
}
