package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	apiRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sdsc_retries_total",
		Help: "Total number of retry attempts after a rate-limit response",
	})

	apiRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sdsc_retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{0.5, 1, 2, 4, 8},
	})

	apiRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sdsc_retry_exhausted_total",
		Help: "Total number of requests that exhausted their rate-limit retries",
	})
)

// RetryConfig holds the configuration for rate-limit retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first request.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the +/- fraction applied to each wait. Zero keeps waits exact.
	Jitter float64
}

// DefaultRetryConfig returns the upstream-tuned schedule: four attempts with
// waits of 0.5s, 1s and 2s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        4 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the wait that follows the given zero-based attempt,
// before jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	backoff := time.Duration(d)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// sleepFunc waits for d or until ctx ends.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or uses up cfg.MaxAttempts. Only rate-limit signals are retried. The
// returned int is the number of attempts made.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, sleep sleepFunc, logger zerolog.Logger, fn func() error) (int, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return attempt, nil
		}

		lastErr = err
		if !shouldRetry(err) {
			return attempt, err
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := cfg.Backoff(attempt - 1)
		if cfg.Jitter > 0 {
			wait = time.Duration(float64(wait) * (1 - cfg.Jitter + rand.Float64()*2*cfg.Jitter))
		}

		apiRetriesTotal.Inc()
		apiRetryBackoffSeconds.Observe(wait.Seconds())

		logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Rate limited, retrying after backoff")

		if err := sleep(ctx, wait); err != nil {
			kind := KindNetwork
			if errors.Is(err, context.DeadlineExceeded) {
				kind = KindTimeout
			}
			return attempt, &Error{
				Kind:     kind,
				Attempts: attempt,
				Message:  "interrupted during rate-limit backoff",
				Err:      fmt.Errorf("%w: %v", ErrContextCancelled, err),
			}
		}
	}

	apiRetryExhaustedTotal.Inc()
	logger.Warn().
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Rate-limit retry attempts exhausted")

	exhausted := &Error{
		Kind:     KindRateLimitExceeded,
		Status:   429,
		Attempts: cfg.MaxAttempts,
		Message:  "maximum retries exceeded",
		Err:      ErrRetryExhausted,
	}
	var last *Error
	if errors.As(lastErr, &last) {
		exhausted.Endpoint = last.Endpoint
	}
	return cfg.MaxAttempts, exhausted
}
