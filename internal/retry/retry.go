// Package retry implements bounded retries with configurable backoff. It is
// shared by answer strategies (transient generation failures) and the client
// poller (waiting for an answer to appear).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrExhausted is returned, wrapping the last attempt's error, once every
// attempt allowed by the policy has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Growth selects how the delay between attempts increases.
type Growth int

const (
	// Exponential waits BaseDelay * 2^(n-1) after the n-th failure.
	Exponential Growth = iota
	// Linear waits BaseDelay * n after the n-th failure.
	Linear
	// Constant always waits BaseDelay.
	Constant
)

// Policy describes a bounded retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps the computed delay before jitter is added. Zero means no cap.
	MaxDelay time.Duration
	// Jitter adds a uniformly random duration in [0, Jitter) to every delay.
	Jitter time.Duration
	Growth Growth

	// Retryable reports whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

var jitterFn = rand.Float64

// Delay returns the wait after the given number of failed attempts (1-based).
func (p Policy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	var d time.Duration
	switch p.Growth {
	case Linear:
		d = p.BaseDelay * time.Duration(failures)
	case Constant:
		d = p.BaseDelay
	default:
		mult := math.Pow(2, float64(failures-1))
		if mult > float64(math.MaxInt64)/math.Max(float64(p.BaseDelay), 1) {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(float64(p.BaseDelay) * mult)
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(jitterFn() * float64(p.Jitter))
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is cancelled, or MaxAttempts calls have been made. attempt starts at 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry: cancelled after %d attempts: %w", attempt-1, errors.Join(err, lastErr))
			}
			return fmt.Errorf("retry: %w", err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry: cancelled after %d attempts: %w", attempt, errors.Join(err, lastErr))
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
