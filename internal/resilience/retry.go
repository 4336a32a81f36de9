package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig tunes [Retry].
type RetryConfig struct {
	// Name labels log lines.
	Name string

	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int

	// Backoff is the wait before the second attempt. It doubles after every
	// failure up to MaxBackoff. Default: 100ms.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Default: 2s.
	MaxBackoff time.Duration

	// AttemptTimeout, if positive, bounds each call of fn. An attempt that
	// runs out of time is retried while the parent context is still live.
	AttemptTimeout time.Duration

	// Retryable, if set, decides whether an error is worth another attempt.
	// By default every error except context cancellation and [ErrCircuitOpen]
	// is retried.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds or the attempts are exhausted. It returns
// the last error fn produced, joined with ctx's error when the context ends
// during a backoff wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	backoff := cfg.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		var timedOut bool
		if timedOut, err = call(ctx, cfg.AttemptTimeout, fn); err == nil {
			return nil
		}
		if attempt >= cfg.Attempts || (!timedOut && !retryable(err)) {
			return err
		}

		// Up to 20% jitter so concurrent retries spread out.
		wait := backoff + rand.N(backoff/5+1)
		slog.Debug("retrying", "name", cfg.Name, "attempt", attempt, "wait", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}

// call runs fn once. timedOut reports that the attempt's own deadline fired
// while ctx was still live.
func call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (timedOut bool, err error) {
	if timeout <= 0 {
		return false, fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = fn(actx)
	return err != nil && actx.Err() != nil && ctx.Err() == nil, err
}

func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCircuitOpen)
}
