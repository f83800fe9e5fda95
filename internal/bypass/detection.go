// Package bypass recognises bot-protection challenge and block pages.
package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP response the detectors look at.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Verdict is the outcome of running the detectors.
type Verdict struct {
	Detected bool
	Source   string
}

// Detector examines a response to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(res *Response) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectGenericChallenge,
	}
}

// Analyze returns the first detector hit, in order.
func Analyze(res *Response, detectors []Detector) Verdict {
	if res == nil {
		return Verdict{}
	}
	for _, d := range detectors {
		if detected, source := d(res); detected {
			return Verdict{Detected: true, Source: source}
		}
	}
	return Verdict{}
}

// IsChallenge reports whether res is a bot-challenge interstitial: a 403 or
// 503 status together with a recognised protection signature.
func IsChallenge(res *Response) bool {
	if res == nil {
		return false
	}
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	return Analyze(res, DefaultDetectors()).Detected
}

func containsAny(body []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(body, []byte(n)) {
			return true
		}
	}
	return false
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Headers.Get("Server")), "cloudflare") || res.Headers.Get("Cf-Mitigated") != "" {
		return true, "Cloudflare"
	}
	if containsAny(res.Body,
		"cf-browser-verification",
		"cloudflare-nginx",
		"cf-turnstile",
		"/cdn-cgi/challenge-platform/",
		"Attention Required! | Cloudflare",
	) {
		return true, "Cloudflare"
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Headers.Get("Server")), "akamai") {
		return true, "Akamai"
	}
	// Akamai's generic block page carries a "Reference #" id.
	if containsAny(res.Body, "Reference #") && containsAny(res.Body, "Access Denied") {
		return true, "Akamai"
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(res.Headers.Get("Server")), "datadome") {
		return true, "DataDome"
	}
	if res.Headers.Get("X-DataDome") != "" || res.Headers.Get("X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if containsAny(res.Body, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if res.Headers.Get("X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if containsAny(res.Body, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}

// detectGenericChallenge catches interstitials that only mention the
// protection vendor or a challenge in passing.
func detectGenericChallenge(res *Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	lower := bytes.ToLower(res.Body)
	if containsAny(lower, "cloudflare", "just a moment...", "checking your browser", "enable javascript and cookies to continue") {
		return true, "Challenge"
	}
	return false, ""
}
