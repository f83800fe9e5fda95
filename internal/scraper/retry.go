package scraper

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter caps server-supplied retry hints.
const maxRetryAfter = 60 * time.Second

var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusRequestTimeout:      true,
}

// isRetryable reports whether the direct client should try again after
// receiving status.
func isRetryable(status int) bool {
	return retryableStatus[status]
}

// backoffDelay returns the wait before retry number n (1-based). A
// Retry-After header on the previous response takes precedence over the
// exponential schedule base * 2^(n-1).
func backoffDelay(base time.Duration, n int, prev *Response, now time.Time) time.Duration {
	if prev != nil {
		if d, ok := retryAfter(prev.Headers, now); ok {
			return d
		}
	}
	if base <= 0 || n <= 0 {
		return 0
	}
	return base << (n - 1)
}

// retryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form.
func retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
