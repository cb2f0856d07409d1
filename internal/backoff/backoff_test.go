// ABOUTME: Tests for the exponential backoff executor
// ABOUTME: Validates delay growth, cap, attempt bounds, error identity, and cancellation

package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff_DefaultValues(t *testing.T) {
	t.Parallel()

	b := New(Config{})

	if b.config.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", b.config.MaxAttempts, DefaultMaxAttempts)
	}
	if b.config.InitialDelay != DefaultInitialDelay {
		t.Errorf("InitialDelay = %v, want %v", b.config.InitialDelay, DefaultInitialDelay)
	}
	if b.config.MaxDelay != DefaultMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", b.config.MaxDelay, DefaultMaxDelay)
	}
	if b.config.Multiplier != DefaultMultiplier {
		t.Errorf("Multiplier = %v, want %v", b.config.Multiplier, DefaultMultiplier)
	}
}

func TestBackoff_NextDelay_ExponentialThenCapped(t *testing.T) {
	t.Parallel()

	b := New(Config{
		MaxAttempts:  8,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}

	for i, expected := range want {
		delay, ok := b.NextDelay()
		if !ok {
			t.Fatalf("call %d: NextDelay() ok = false", i+1)
		}
		if delay != expected {
			t.Errorf("call %d: NextDelay() = %v, want %v", i+1, delay, expected)
		}
	}

	if _, ok := b.NextDelay(); ok {
		t.Error("NextDelay() should refuse once MaxAttempts-1 retries were handed out")
	}
}

func TestBackoff_NextDelay_MonotonicWithJitterUnderCap(t *testing.T) {
	t.Parallel()

	b := New(Config{
		MaxAttempts:    20,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     3.0,
		JitterFraction: 0.2,
	})

	for i := 0; i < 19; i++ {
		delay, ok := b.NextDelay()
		if !ok {
			t.Fatalf("call %d: NextDelay() ok = false", i+1)
		}
		if delay > 2*time.Second {
			t.Errorf("call %d: delay %v exceeds cap", i+1, delay)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "empty config uses defaults", config: Config{}},
		{name: "valid", config: Config{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}},
		{name: "negative attempts", config: Config{MaxAttempts: -1}, wantErr: true},
		{name: "jitter over 1", config: Config{JitterFraction: 1.5}, wantErr: true},
		{name: "multiplier below 1", config: Config{Multiplier: 0.5}, wantErr: true},
		{name: "initial over max", config: Config{InitialDelay: time.Minute, MaxDelay: time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	got, err := Execute(context.Background(), fastConfig(5), func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Execute() = %q, want ok", got)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

type upstreamError struct{ code int }

func (e *upstreamError) Error() string { return "upstream failure" }

func TestExecute_ReturnsLastErrorUnwrapped(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, err := Execute(context.Background(), fastConfig(4), func(context.Context) (int, error) {
		return 0, &upstreamError{code: int(calls.Add(1))}
	})

	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
	ue, ok := err.(*upstreamError)
	if !ok {
		t.Fatalf("Execute() error type = %T, want *upstreamError", err)
	}
	if ue.code != 4 {
		t.Errorf("returned error from attempt %d, want last attempt 4", ue.code)
	}
}

func TestExecute_DelaysNonDecreasingAndCapped(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	cfg := fastConfig(6)
	cfg.OnRetry = func(_ int, d time.Duration, _ error) {
		delays = append(delays, d)
	}

	_, _ = Execute(context.Background(), cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, errors.New("always")
	})

	if len(delays) != 5 {
		t.Fatalf("waits = %d, want 5", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("delay %d (%v) shorter than delay %d (%v)", i, delays[i], i-1, delays[i-1])
		}
		if delays[i] > cfg.MaxDelay {
			t.Errorf("delay %d (%v) exceeds cap %v", i, delays[i], cfg.MaxDelay)
		}
	}
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad payload")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	var calls atomic.Int32
	_, err := Execute(context.Background(), cfg, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Execute() error = %v, want %v", err, permanent)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_ContextCanceledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	cfg.OnRetry = func(int, time.Duration, error) { cancel() }

	var calls atomic.Int32
	_, err := Execute(ctx, cfg, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_SingleAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	_, err := Execute(context.Background(), Config{MaxAttempts: 1}, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("once")
	})
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
