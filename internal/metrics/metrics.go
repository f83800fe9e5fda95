package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_attempts_total",
			Help: "Network tries made by each fetch strategy, by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	FetchAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_attempt_duration_seconds",
			Help:    "Duration of single fetch attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetches_total",
			Help: "Completed fetches by domain, winning strategy or error kind, and detected protection",
		},
		[]string{"domain", "result", "detection_src"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_bytes_total",
			Help: "Total body bytes downloaded by successful fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	FrontierOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_frontier_ops_total",
			Help: "Frontier operations by backend and result",
		},
		[]string{"backend", "op", "result"},
	)

	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_extractions_total",
			Help: "Main-text extractions by winning strategy and flags",
		},
		[]string{"strategy", "degraded", "anomalous"},
	)

	ImageDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_image_downloads_total",
			Help: "Image downloads by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordAttempt counts one network try. A non-nil err is recorded as
// "error", otherwise the status code is used.
func RecordAttempt(strategy string, status int, err error, d time.Duration) {
	outcome := strconv.Itoa(status)
	if err != nil {
		outcome = "error"
	}
	FetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	FetchAttemptDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordFetch counts a finished fetch. result is the winning strategy on
// success or the error kind on failure.
func RecordFetch(domain, result, detectionSrc string, bytes int) {
	FetchesTotal.WithLabelValues(domain, result, detectionSrc).Inc()
	if bytes > 0 {
		FetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
	}
}

// RecordFrontier counts a frontier operation.
func RecordFrontier(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FrontierOpsTotal.WithLabelValues(backend, op, result).Inc()
}

// RecordExtraction counts a finished extraction.
func RecordExtraction(strategy string, degraded, anomalous bool) {
	ExtractionsTotal.WithLabelValues(strategy, strconv.FormatBool(degraded), strconv.FormatBool(anomalous)).Inc()
}

// RecordImage counts an image download outcome (succeeded, failed, skipped).
func RecordImage(outcome string) {
	ImageDownloadsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on port and serves /metrics in the background. Port 0
// picks a free port; see Addr.
func Start(port int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
