// Package metrics exposes the Prometheus metrics of the collector.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, cache, batch) with promauto to keep the packages independent.
//
// This package serves them and documents what is available.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the collector.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics until it is shut down.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving /metrics in the background.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - sdsc_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - sdsc_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sdsc_errors_total{kind} (Counter): Failed requests by failure kind
//
// Retry Metrics (pkg/client):
//   - sdsc_retries_total (Counter): Retries after a 429
//   - sdsc_retry_backoff_seconds (Histogram): Backoff before a retry
//   - sdsc_retry_exhausted_total (Counter): Requests that used every attempt
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sdsc_rate_limited_total{endpoint} (Counter): HTTP 429 responses
//   - sdsc_rate_limit_consecutive (Gauge): 429s since the last success
//   - sdsc_rate_limit_wait_seconds (Histogram): Time spent in the client-side pacer
//
// Pagination Metrics (pkg/pagination):
//   - sdsc_pages_fetched_total (Counter): Listing pages fetched
//   - sdsc_pages_failed_total (Counter): Listing pages left out of a result
//
// Cache Metrics (pkg/cache):
//   - sdsc_cache_hits_total{layer="redis"} (Counter): Raw cache hits
//   - sdsc_cache_misses_total (Counter): Raw cache misses
//   - sdsc_cache_size_bytes{layer="redis"} (Gauge): Bytes moved through the raw cache
//   - sdsc_cache_errors_total{operation} (Counter): Raw cache operation errors
//
// Batch Metrics (pkg/batch):
//   - sdsc_regions_total{status, kind} (Counter): Regions by outcome
//   - sdsc_stage_duration_seconds{stage} (Histogram): Stage duration per region
//
// Example Prometheus Queries:
//
//   # Region failure rate
//   sum(rate(sdsc_regions_total{status="failed"}[1h])) / sum(rate(sdsc_regions_total[1h]))
//
//   # Page failure ratio
//   rate(sdsc_pages_failed_total[5m]) /
//   (rate(sdsc_pages_fetched_total[5m]) + rate(sdsc_pages_failed_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sdsc_request_duration_seconds_bucket[5m]))
