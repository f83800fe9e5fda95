package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("direct", "503"))
	RecordAttempt("direct", 503, nil, 10*time.Millisecond)
	if got := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("direct", "503")); got != before+1 {
		t.Errorf("expected attempt counter to increase by 1, got %v -> %v", before, got)
	}

	beforeErr := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("spoof", "error"))
	RecordAttempt("spoof", 0, errors.New("tls"), time.Millisecond)
	if got := testutil.ToFloat64(FetchAttemptsTotal.WithLabelValues("spoof", "error")); got != beforeErr+1 {
		t.Errorf("expected error attempt to be counted")
	}

	RecordFetch("example.com", "direct", "", 11)
	if got := testutil.ToFloat64(FetchBytesTotal.WithLabelValues("example.com")); got < 11 {
		t.Errorf("expected at least 11 bytes recorded, got %v", got)
	}

	RecordFrontier("redis", "enqueue", errors.New("down"))
	if got := testutil.ToFloat64(FrontierOpsTotal.WithLabelValues("redis", "enqueue", "error")); got < 1 {
		t.Errorf("expected frontier error recorded")
	}

	RecordExtraction("density", false, true)
	if got := testutil.ToFloat64(ExtractionsTotal.WithLabelValues("density", "false", "true")); got < 1 {
		t.Errorf("expected extraction recorded")
	}

	RecordImage("skipped")
	if got := testutil.ToFloat64(ImageDownloadsTotal.WithLabelValues("skipped")); got < 1 {
		t.Errorf("expected image outcome recorded")
	}
}

func TestMetricsServer(t *testing.T) {
	srv, err := Start(0, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Stop(context.Background())

	RecordFetch("served.example", "spoof", "", 5)

	addr := srv.Addr()
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = "127.0.0.1" + addr[i:]
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)
	if !strings.Contains(output, `harvest_fetches_total{detection_src="",domain="served.example",result="spoof"}`) {
		t.Errorf("expected harvest_fetches_total series for served.example")
	}
	if !strings.Contains(output, `harvest_fetch_bytes_total{domain="served.example"} 5`) {
		t.Errorf("expected harvest_fetch_bytes_total for served.example")
	}
}
