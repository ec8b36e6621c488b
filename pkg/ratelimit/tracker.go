package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate-limit tracking.
var (
	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sdsc_rate_limited_total",
		Help: "Total number of HTTP 429 responses by endpoint",
	}, []string{"endpoint"})

	rateLimitConsecutive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sdsc_rate_limit_consecutive",
		Help: "HTTP 429 responses received since the last successful request",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sdsc_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the client-side request pacer",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
	})
)

// Limiter paces requests with a token bucket and records 429 signals.
// It is safe for concurrent use by the page workers of one run.
type Limiter struct {
	pacer  *rate.Limiter
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewLimiter creates a limiter allowing rps requests per second with the
// given burst. rps <= 0 disables pacing; 429 tracking stays active.
func NewLimiter(rps float64, burst int, logger zerolog.Logger) *Limiter {
	l := &Limiter{
		logger: logger,
		state:  State{IsHealthy: true},
	}
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		l.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Wait blocks until the pacer admits one request or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.pacer == nil {
		return nil
	}
	start := time.Now()
	if err := l.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}
	rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// ObserveRateLimited records a 429 response from endpoint.
func (l *Limiter) ObserveRateLimited(endpoint string) {
	if l == nil {
		return
	}
	rateLimitedTotal.WithLabelValues(endpoint).Inc()

	l.mu.Lock()
	wasHealthy := l.state.IsHealthy
	l.state.RateLimited++
	l.state.Consecutive++
	l.state.LastRateLimitedAt = time.Now()
	l.state.updateHealth()
	snapshot := l.state
	l.mu.Unlock()

	rateLimitConsecutive.Set(float64(snapshot.Consecutive))

	if wasHealthy && !snapshot.IsHealthy {
		l.logger.Warn().
			Str("endpoint", endpoint).
			Int("consecutive", snapshot.Consecutive).
			Msg("Upstream is rate limiting repeatedly - consider lowering concurrency")
	}
}

// ObserveSuccess resets the consecutive 429 counter.
func (l *Limiter) ObserveSuccess() {
	if l == nil {
		return
	}
	l.mu.Lock()
	recovered := !l.state.IsHealthy
	l.state.Consecutive = 0
	l.state.updateHealth()
	l.mu.Unlock()

	rateLimitConsecutive.Set(0)
	if recovered {
		l.logger.Info().Msg("Upstream rate limiting cleared")
	}
}

// State returns a snapshot of the observed rate-limit signals.
func (l *Limiter) State() State {
	if l == nil {
		return State{IsHealthy: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
