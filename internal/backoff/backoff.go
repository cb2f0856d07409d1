// ABOUTME: Exponential backoff executor retrying fallible operations with a capped delay
// ABOUTME: Bounded attempts, optional jitter, and context-aware waits between retries

package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Default configuration values.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 10 * time.Second
	DefaultMultiplier   = 2.0
)

// Config configures the backoff executor.
type Config struct {
	// MaxAttempts bounds the total number of operation invocations.
	// Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// InitialDelay is the wait after the first failure.
	// Zero uses DefaultInitialDelay.
	InitialDelay time.Duration

	// MaxDelay caps every wait.
	// Zero uses DefaultMaxDelay.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	// Must be >= 1.0. Zero uses DefaultMultiplier.
	Multiplier float64

	// JitterFraction adds ±fraction randomness to each wait.
	// Zero disables jitter.
	JitterFraction float64

	// Retryable decides whether an error is worth retrying.
	// Nil retries every error.
	Retryable func(error) bool

	// OnRetry is called before each wait with the failed attempt number (1-based).
	OnRetry func(attempt int, delay time.Duration, err error)

	// Logger receives debug lines per retry. Nil uses slog.Default().
	Logger *slog.Logger
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("max attempts must not be negative")
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return errors.New("jitter fraction must be between 0 and 1")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if c.MaxDelay != 0 && c.InitialDelay > c.MaxDelay {
		return errors.New("initial delay must not exceed max delay")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DefaultConfig returns the executor defaults: 5 attempts, 1s initial, 10s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
	}
}

// Backoff computes successive retry delays.
// Delay i (0-based) is min(InitialDelay * Multiplier^i, MaxDelay).
type Backoff struct {
	mu           sync.Mutex
	config       Config
	retries      int
	currentDelay time.Duration
}

// New creates a Backoff. Zero values in config use defaults.
func New(config Config) *Backoff {
	config.applyDefaults()
	return &Backoff{
		config:       config,
		currentDelay: min(config.InitialDelay, config.MaxDelay),
	}
}

// NextDelay returns the wait before the next retry and whether one is allowed.
// Returns (0, false) once MaxAttempts-1 retries have been handed out.
func (b *Backoff) NextDelay() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retries >= b.config.MaxAttempts-1 {
		return 0, false
	}

	delay := b.currentDelay
	if b.config.JitterFraction > 0 {
		delay = b.applyJitter(delay)
	}

	b.retries++
	next := time.Duration(float64(b.currentDelay) * b.config.Multiplier)
	if next > b.config.MaxDelay || next < 0 {
		next = b.config.MaxDelay
	}
	b.currentDelay = next

	return delay, true
}

func (b *Backoff) applyJitter(delay time.Duration) time.Duration {
	jitterRange := float64(delay) * b.config.JitterFraction
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return min(time.Duration(float64(delay)+jitter), b.config.MaxDelay)
}

// Execute runs op until it succeeds, the attempt budget runs out, or ctx ends.
// On exhaustion the last error from op is returned as is, so callers can
// still match it with errors.Is and errors.As. A non-retryable error stops
// immediately. Cancellation during a wait returns ctx.Err().
func Execute[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	cfg.applyDefaults()
	b := New(cfg)

	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Debug("operation succeeded after retry", slog.Int("attempt", attempt))
			}
			return value, nil
		}

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		delay, ok := b.NextDelay()
		if !ok {
			return zero, err
		}

		cfg.Logger.Debug("operation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
