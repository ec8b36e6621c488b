package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLimiter_InitialState(t *testing.T) {
	l := NewLimiter(10, 5, zerolog.Nop())

	state := l.State()
	if !state.IsHealthy {
		t.Error("new limiter should be healthy")
	}
	if state.RateLimited != 0 {
		t.Errorf("RateLimited = %d, want 0", state.RateLimited)
	}
}

func TestLimiter_WaitDisabled(t *testing.T) {
	l := NewLimiter(0, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// No pacer: a cancelled context must not matter.
	if err := l.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	l := NewLimiter(0.001, 1, zerolog.Nop())

	// Drain the single burst token.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() should fail when the next token is far beyond the deadline")
	}
}

func TestLimiter_WaitPaces(t *testing.T) {
	l := NewLimiter(50, 1, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// Burst 1 at 50 rps: the second and third token take ~20ms each.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("3 waits took %v, want >= 30ms", elapsed)
	}
}

func TestLimiter_ObserveRateLimited(t *testing.T) {
	l := NewLimiter(0, 0, zerolog.Nop())

	for i := 0; i < ConsecutiveThresholdWarning-1; i++ {
		l.ObserveRateLimited("/storeListInDong")
	}
	if !l.State().IsHealthy {
		t.Error("limiter should stay healthy below the warning threshold")
	}

	l.ObserveRateLimited("/storeListInDong")
	state := l.State()
	if state.IsHealthy {
		t.Error("limiter should be unhealthy at the warning threshold")
	}
	if state.Consecutive != ConsecutiveThresholdWarning {
		t.Errorf("Consecutive = %d, want %d", state.Consecutive, ConsecutiveThresholdWarning)
	}
	if state.LastRateLimitedAt.IsZero() {
		t.Error("LastRateLimitedAt should be set")
	}
}

func TestLimiter_ObserveSuccessResets(t *testing.T) {
	l := NewLimiter(0, 0, zerolog.Nop())

	for i := 0; i < 5; i++ {
		l.ObserveRateLimited("/storeListInDong")
	}
	l.ObserveSuccess()

	state := l.State()
	if state.Consecutive != 0 {
		t.Errorf("Consecutive = %d, want 0", state.Consecutive)
	}
	if state.RateLimited != 5 {
		t.Errorf("RateLimited = %d, want 5", state.RateLimited)
	}
	if !state.IsHealthy {
		t.Error("limiter should be healthy after a success")
	}
}

func TestLimiter_NilSafe(t *testing.T) {
	var l *Limiter

	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	l.ObserveRateLimited("/x")
	l.ObserveSuccess()
	if !l.State().IsHealthy {
		t.Error("nil limiter should report healthy")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(0, 0, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.ObserveRateLimited("/storeListInDong")
		}()
	}
	wg.Wait()

	if got := l.State().RateLimited; got != 20 {
		t.Errorf("RateLimited = %d, want 20", got)
	}
}

func TestLimiter_WaitErrorWraps(t *testing.T) {
	l := NewLimiter(1, 1, zerolog.Nop())
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() on cancelled context should fail")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want wrapping context.Canceled", err)
	}
}
