package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileEdge    Profile = "edge"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// ParseProfile maps a settings value onto a Profile. Empty means chrome.
func ParseProfile(s string) (Profile, error) {
	p := Profile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ProfileChrome, nil
	}
	if _, err := helloID(p); err != nil && p != ProfileGo {
		return "", err
	}
	return p, nil
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileEdge:
		return utls.HelloEdge_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("context: unknown profile %q", p)
}

// Options configures the transport returned by Transport.
type Options struct {
	Profile Profile
	// Proxy is optional. If provided, it configures the transport's Proxy.
	Proxy                 func(*http.Request) (*url.URL, error)
	InsecureSkipVerify    bool
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
}

// Transport returns an http.RoundTripper whose TLS handshake impersonates
// the given browser profile. ProfileGo returns a plain http.Transport.
//
// The handshake advertises only http/1.1 over ALPN since the returned
// transport speaks HTTP/1.1 on the spoofed connection.
func Transport(opts Options) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}
	if opts.ConnectTimeout > 0 {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
		transport.DialContext = dialer.DialContext
		transport.TLSHandshakeTimeout = opts.ConnectTimeout
	}
	if opts.ResponseHeaderTimeout > 0 {
		transport.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
	}

	if opts.Profile == ProfileGo {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
		return transport, nil
	}

	id, err := helloID(opts.Profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	// Some randomized hellos pick curves the handshake cannot complete with,
	// so those get a fresh hello on a fresh connection.
	attempts := 1
	if opts.Profile == ProfileRandom {
		attempts = maxRandomHandshakes
	}
	transport.ForceAttemptHTTP2 = false
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		var lastErr error
		for range attempts {
			tcpConn, err := dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			conn, err := handshake(ctx, tcpConn, addr, id, opts.InsecureSkipVerify)
			if err == nil {
				return conn, nil
			}
			_ = tcpConn.Close()
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return nil, lastErr
	}

	return transport, nil
}

// maxRandomHandshakes bounds the fresh hellos tried for ProfileRandom.
const maxRandomHandshakes = 5

func handshake(ctx context.Context, tcpConn net.Conn, addr string, id utls.ClientHelloID, insecure bool) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	uConn, err := newUConn(tcpConn, host, id, insecure)
	if err != nil {
		return nil, err
	}
	if err := uConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("context: utls handshake failed: %w", err)
	}
	if proto := uConn.ConnectionState().NegotiatedProtocol; proto != "" && proto != "http/1.1" {
		return nil, fmt.Errorf("context: server negotiated unsupported protocol %q", proto)
	}
	return uConn, nil
}

func newUConn(conn net.Conn, host string, id utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	cfg := &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
		NextProtos:         []string{"http/1.1"},
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		// Randomized profiles have no fixed spec; they build ALPN from cfg.NextProtos.
		return utls.UClient(conn, cfg, id), nil
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("context: apply %s preset: %w", id.Str(), err)
	}
	return uConn, nil
}
