package crawlerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsByKind(t *testing.T) {
	err := fmt.Errorf("crawl: %w", New(KindPermissionDenied, "http://a/b", nil))

	if !errors.Is(err, PermissionDenied) {
		t.Errorf("expected errors.Is to match PermissionDenied")
	}
	if errors.Is(err, Transport) {
		t.Errorf("did not expect a transport match")
	}
	if KindOf(err) != KindPermissionDenied {
		t.Errorf("expected KindPermissionDenied, got %v", KindOf(err))
	}
}

func TestError_HTTPStatus(t *testing.T) {
	err := HTTPStatus(503, "http://a")

	if !errors.Is(err, HTTPStatusAny) {
		t.Errorf("expected HTTPStatusAny to match any code")
	}
	if !errors.Is(err, &Error{Kind: KindHTTPStatus, Code: 503}) {
		t.Errorf("expected exact code match")
	}
	if errors.Is(err, &Error{Kind: KindHTTPStatus, Code: 404}) {
		t.Errorf("did not expect 404 to match 503")
	}
	if StatusCode(err) != 503 {
		t.Errorf("expected 503, got %d", StatusCode(err))
	}
	if got := err.Error(); got != "http status 503: http://a" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := New(KindTransport, "", base)
	if !errors.Is(err, base) {
		t.Errorf("expected wrapped error to be reachable")
	}
	if IsKind(nil, KindTransport) {
		t.Errorf("nil error must not carry a kind")
	}
}
