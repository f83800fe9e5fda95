package scraper

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"
)

// readBody reads at most limit bytes of payload and undoes any
// Content-Encoding, since requests advertise gzip, deflate and br themselves.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return raw, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "deflate":
		// Servers disagree on zlib-wrapped versus raw deflate.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		}
	default:
		return raw, nil
	}

	decoded, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", resp.Header.Get("Content-Encoding"), err)
	}
	resp.Header.Del("Content-Encoding")
	return decoded, nil
}

// decodeText converts body to UTF-8. A charset declared in contentType wins
// unless it is the latin-1 family, which servers often send by default;
// otherwise the encoding is sniffed from BOM, meta tags and the bytes
// themselves. Undecodable sequences become U+FFFD.
func decodeText(body []byte, contentType string) (text string, encoding string) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if certain && name == "windows-1252" {
		enc, name, _ = charset.DetermineEncoding(body, "")
	}

	if name == "utf-8" {
		return strings.ToValidUTF8(string(body), "\uFFFD"), name
	}

	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "\uFFFD"), name
	}
	return string(out), name
}
