package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShouldRetry_MaxAttempts(t *testing.T) {
	p := New(Config{MaxRetries: 3})
	retryable := errors.New("connection reset by peer")

	if !p.ShouldRetry(retryable, 0) {
		t.Error("attempt 0 of a retryable error should retry")
	}
	if !p.ShouldRetry(retryable, 2) {
		t.Error("attempt 2 of a retryable error should retry")
	}
	if p.ShouldRetry(retryable, 3) {
		t.Error("attempt 3 must not retry once MaxRetries=3 is reached")
	}
	if p.ShouldRetry(retryable, 100) {
		t.Error("attempts past MaxRetries must never retry")
	}
}

func TestShouldRetry_Classification(t *testing.T) {
	p := New(Config{MaxRetries: 5})

	// Non-retryable errors never retry, at any attempt number.
	notFound := errors.New("memorial does not exist")
	for attempt := 0; attempt < 5; attempt++ {
		if p.ShouldRetry(notFound, attempt) {
			t.Errorf("non-retryable error retried at attempt %d", attempt)
		}
	}

	// Unknown errors fail closed by default.
	novel := errors.New("some completely novel condition")
	if p.ShouldRetry(novel, 0) {
		t.Error("unknown error retried with fail-closed default")
	}

	// ... unless the policy is configured to fail open.
	open := New(Config{MaxRetries: 5, FailOpenOnUnknown: true})
	if !open.ShouldRetry(novel, 0) {
		t.Error("unknown error not retried with FailOpenOnUnknown")
	}
	if open.ShouldRetry(novel, 5) {
		t.Error("FailOpenOnUnknown must still respect MaxRetries")
	}
}

func TestDelayFor_NoJitter(t *testing.T) {
	p := New(Config{
		MaxRetries:      5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		DisableJitter:   true,
	})

	// 1s, 2s, 4s, 8s, then capped.
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, want := range expected {
		if got := p.DelayFor(attempt); got != want {
			t.Errorf("DelayFor(%d) = %v, want %v", attempt, got, want)
		}
	}

	// Non-decreasing without jitter.
	prev := time.Duration(-1)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.DelayFor(attempt)
		if d < prev {
			t.Errorf("DelayFor(%d) = %v decreased below %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayFor_JitterBounds(t *testing.T) {
	p := New(Config{
		MaxRetries:      5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	})

	for attempt := 0; attempt < 10; attempt++ {
		base := float64(1*time.Second) * pow2(attempt)
		for i := 0; i < 50; i++ {
			d := p.DelayFor(attempt)
			if d < 0 || d > 30*time.Second {
				t.Fatalf("DelayFor(%d) = %v outside [0, MaxDelay]", attempt, d)
			}
			if float64(d) < 0.8*base-1 && d != 30*time.Second {
				t.Fatalf("DelayFor(%d) = %v below jitter band", attempt, d)
			}
		}
	}
}

func pow2(n int) float64 {
	f := 1.0
	for i := 0; i < n; i++ {
		f *= 2
	}
	return f
}

func TestSleep_Cancellation(t *testing.T) {
	p := New(Config{
		MaxRetries:      3,
		BaseDelay:       10 * time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
		DisableJitter:   true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Sleep(ctx, 0)
	if err == nil {
		t.Fatal("expected context error from cancelled Sleep")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Sleep did not return promptly on cancellation (%v)", elapsed)
	}
}

func TestDefaults(t *testing.T) {
	p := New(Config{})
	if p.MaxRetries() != 3 {
		t.Errorf("expected default MaxRetries 3, got %d", p.MaxRetries())
	}
	if d := p.DelayFor(0); d <= 0 {
		t.Errorf("expected positive default delay, got %v", d)
	}
}

func TestNegativeMaxRetriesDisablesRetries(t *testing.T) {
	p := New(Config{MaxRetries: -1})

	if got := p.MaxRetries(); got != 0 {
		t.Errorf("MaxRetries = %d, want 0", got)
	}
	if p.ShouldRetry(errors.New("connection reset by peer"), 0) {
		t.Error("no-retry policy retried a retryable error on its first attempt")
	}
}
