// internal/engine/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"document-eligibility/internal/common/logger"
	"document-eligibility/internal/engine/model"
)

// StatusError is a completed call whose HTTP status is not 2xx.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Retryable decides whether an attempt's error may be retried. Timeouts and
// network failures always are; status errors only when listed in retryOn.
func Retryable(err error, policy model.RetryPolicy) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return policy.RetriesStatus(status.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

const maxDuration = time.Duration(math.MaxInt64)

// Delay is the wait after the n-th failed attempt, n starting at 1. Only
// the exponential strategy is capped by maxDelay. Products that would
// overflow saturate instead of wrapping.
func Delay(policy model.RetryPolicy, n int) time.Duration {
	initial := policy.InitialDelay()
	if n < 1 {
		n = 1
	}
	switch policy.BackoffStrategy {
	case model.BackoffLinear:
		if initial > 0 && time.Duration(n) > maxDuration/initial {
			return maxDuration
		}
		return initial * time.Duration(n)
	case model.BackoffExponential:
		ceiling := policy.MaxDelay()
		d := initial
		for i := 1; i < n; i++ {
			if ceiling > 0 && d >= ceiling {
				break
			}
			if d > maxDuration/2 {
				d = maxDuration
				break
			}
			d *= 2
		}
		if ceiling > 0 && d > ceiling {
			d = ceiling
		}
		return d
	default:
		return initial
	}
}

// Executor runs an attempt function under a retry policy.
type Executor struct {
	log     logger.Logger
	sleep   func(context.Context, time.Duration) error
	onRetry func(source string, attempt int)
}

type Option func(*Executor)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// OnRetry registers a hook called before each retried attempt.
func OnRetry(fn func(source string, attempt int)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

func NewExecutor(log logger.Logger, opts ...Option) *Executor {
	e := &Executor{log: log, sleep: sleepContext}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do calls attempt until it succeeds, fails with a non-retryable error or
// maxAttempts is reached. It returns the number of attempts made and the
// last error.
func (e *Executor) Do(ctx context.Context, source string, policy model.RetryPolicy, attempt func(context.Context) error) (int, error) {
	limit := policy.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var lastErr error
	for n := 1; n <= limit; n++ {
		lastErr = attempt(ctx)
		if lastErr == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return n, lastErr
		}
		if n == limit || !Retryable(lastErr, policy) {
			return n, lastErr
		}

		delay := Delay(policy, n)
		e.log.Debug("Retrying data source call", map[string]interface{}{
			"source":  source,
			"attempt": n,
			"delayMs": delay.Milliseconds(),
			"error":   lastErr.Error(),
		})
		if e.onRetry != nil {
			e.onRetry(source, n+1)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return n, fmt.Errorf("%s cancelled after %d attempts: %w", source, n, err)
		}
	}
	return limit, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
