// Package crawlerr defines the tagged failure kinds surfaced by the crawl core.
package crawlerr

import (
	"errors"
	"fmt"
)

// Kind classifies a crawl failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindPermissionDenied
	KindTransport
	KindHTTPStatus
	KindParseFailure
	KindExtractionDegraded
	KindAnomalyRejected
	KindResourceTooLarge
	KindStoreUnavailable
	KindAlreadySeen
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindInvalidInput:       "invalid input",
	KindPermissionDenied:   "permission denied",
	KindTransport:          "transport error",
	KindHTTPStatus:         "http status",
	KindParseFailure:       "parse failure",
	KindExtractionDegraded: "extraction degraded",
	KindAnomalyRejected:    "anomaly rejected",
	KindResourceTooLarge:   "resource too large",
	KindStoreUnavailable:   "store unavailable",
	KindAlreadySeen:        "already seen",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure tagged with its Kind. Code is set for KindHTTPStatus,
// Attempts carries the number of network tries made before giving up.
type Error struct {
	Kind     Kind
	Code     int
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Kind == KindHTTPStatus && e.Code != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.Code)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel comparisons like
// errors.Is(err, crawlerr.PermissionDenied) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	InvalidInput       = &Error{Kind: KindInvalidInput}
	PermissionDenied   = &Error{Kind: KindPermissionDenied}
	Transport          = &Error{Kind: KindTransport}
	HTTPStatusAny      = &Error{Kind: KindHTTPStatus}
	ParseFailure       = &Error{Kind: KindParseFailure}
	ExtractionDegraded = &Error{Kind: KindExtractionDegraded}
	AnomalyRejected    = &Error{Kind: KindAnomalyRejected}
	ResourceTooLarge   = &Error{Kind: KindResourceTooLarge}
	StoreUnavailable   = &Error{Kind: KindStoreUnavailable}
	AlreadySeen        = &Error{Kind: KindAlreadySeen}
)

// New builds a tagged error for url wrapping err.
func New(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// HTTPStatus builds a KindHTTPStatus error for a terminal non-2xx response.
func HTTPStatus(code int, url string) *Error {
	return &Error{Kind: KindHTTPStatus, Code: code, URL: url}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind == KindHTTPStatus {
		return ce.Code
	}
	return 0
}
