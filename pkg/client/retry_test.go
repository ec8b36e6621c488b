package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", config.MaxAttempts)
	}
	if config.InitialBackoff != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 500ms", config.InitialBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if config.Jitter != 0 {
		t.Errorf("Jitter = %v, want 0", config.Jitter)
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: 500 * time.Millisecond},
		{attempt: 1, expected: 1 * time.Second},
		{attempt: 2, expected: 2 * time.Second},
		{attempt: 3, expected: 4 * time.Second},
		{attempt: 10, expected: 4 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := config.Backoff(tt.attempt); got != tt.expected {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func recordingSleep(waits *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	var waits []time.Duration
	calls := 0

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordingSleep(&waits), zerolog.Nop(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", attempts, calls)
	}
	if len(waits) != 0 {
		t.Errorf("waits = %v, want none", waits)
	}
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	var waits []time.Duration
	calls := 0
	wantErr := &Error{Kind: KindServer, Status: 503}

	_, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordingSleep(&waits), zerolog.Nop(), func() error {
		calls++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_SucceedsAfterRateLimits(t *testing.T) {
	var waits []time.Duration
	calls := 0

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordingSleep(&waits), zerolog.Nop(), func() error {
		calls++
		if calls < 3 {
			return &Error{Kind: KindRateLimitExceeded, Status: 429}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("waits = %v, want %v", waits, want)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	var waits []time.Duration

	attempts, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), recordingSleep(&waits), zerolog.Nop(), func() error {
		return &Error{Kind: KindRateLimitExceeded, Status: 429, Endpoint: "/baroApi"}
	})

	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if apiErr.Endpoint != "/baroApi" {
		t.Errorf("Endpoint = %q, want /baroApi", apiErr.Endpoint)
	}
	if len(waits) != 3 {
		t.Errorf("len(waits) = %d, want 3", len(waits))
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := retryWithBackoff(ctx, DefaultRetryConfig(), sleepContext, zerolog.Nop(), func() error {
		return &Error{Kind: KindRateLimitExceeded, Status: 429}
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("err = %v, want ErrContextCancelled", err)
	}
	if KindOf(err) != KindNetwork {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindNetwork)
	}
}

func TestRetryWithBackoff_DeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	_, err := retryWithBackoff(ctx, DefaultRetryConfig(), sleepContext, zerolog.Nop(), func() error {
		return &Error{Kind: KindRateLimitExceeded, Status: 429}
	})

	if KindOf(err) != KindTimeout {
		t.Errorf("KindOf(err) = %q, want %q", KindOf(err), KindTimeout)
	}
}

func TestRetryWithBackoff_Jitter(t *testing.T) {
	var waits []time.Duration
	cfg := DefaultRetryConfig()
	cfg.Jitter = 0.1

	retryWithBackoff(context.Background(), cfg, recordingSleep(&waits), zerolog.Nop(), func() error {
		return &Error{Kind: KindRateLimitExceeded, Status: 429}
	})

	for i, w := range waits {
		base := cfg.Backoff(i)
		lo := time.Duration(float64(base) * 0.9)
		hi := time.Duration(float64(base) * 1.1)
		if w < lo || w > hi {
			t.Errorf("wait[%d] = %v, want within [%v, %v]", i, w, lo, hi)
		}
	}
}
