package tunnel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vibelink/pkg/logging"
)

const (
	// QuickMaxRetries bounds quick tunnel creation attempts under rate limiting.
	QuickMaxRetries = 3

	// quickRetryStep grows the delay linearly (2s, 4s, 6s). Linear rather
	// than doubling keeps the total wait bounded within a typical
	// rate-limit window.
	quickRetryStep = 2 * time.Second
)

// RateLimitError reports quick tunnel creation exhausted by provider rate
// limiting, with actionable alternatives instead of the raw subprocess error.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf(
		"quick tunnel creation rate limited after %d attempts. "+
			"Set up a persistent tunnel (`cloudflared tunnel login`, then `vibelink start`) "+
			"or run locally with `vibelink start --no-tunnel`",
		e.Attempts)
}

// RetryController wraps quick tunnel creation with bounded linear backoff.
// Only rate-limited failures are retried; everything else is surfaced
// immediately. Each retry re-invokes Spawn from scratch.
type RetryController struct {
	MaxRetries int

	// sleep is swapped out in tests to observe the schedule.
	sleep func(time.Duration)
}

// NewRetryController returns a controller with the default schedule.
func NewRetryController() *RetryController {
	return &RetryController{
		MaxRetries: QuickMaxRetries,
		sleep:      time.Sleep,
	}
}

// SpawnQuick attempts to create a quick tunnel through sup, retrying
// rate-limited failures with delays of 2s, 4s, 6s. On exhaustion it returns
// a *RateLimitError.
func (c *RetryController) SpawnQuick(ctx context.Context, sup Supervisor, cfg SpawnConfig) (*Handle, error) {
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		if attempt > 1 {
			logging.Info("Tunnel", "Retrying quick tunnel creation (attempt %d/%d)", attempt, c.MaxRetries)
		}

		handle, err := sup.Spawn(ctx, KindQuick, cfg)
		if err == nil {
			return handle, nil
		}

		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) || spawnErr.Class != ClassRateLimited {
			return nil, err
		}

		logging.Warn("Tunnel", "Quick tunnel attempt %d/%d rate limited, backing off", attempt, c.MaxRetries)
		delay := quickRetryStep * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			c.sleep(delay)
		}
	}

	return nil, &RateLimitError{Attempts: c.MaxRetries}
}
