// ABOUTME: Attempt-bounded polling loop shared by the submit-and-poll adapters
// ABOUTME: Fixed interval between checks, context-aware waits, ErrTimedOut on exhaustion

package providers

import (
	"context"
	"time"
)

// PollConfig bounds a polling loop by attempt count, not wall-clock time.
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// poll runs check up to MaxAttempts times, waiting Interval between checks.
// It returns the number of checks made, nil once check reports done, the
// first error check returns, ctx.Err() if the context ends while waiting,
// or ErrTimedOut when the budget is spent.
func poll(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (bool, error)) (int, error) {
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return cfg.MaxAttempts, ErrTimedOut
}
