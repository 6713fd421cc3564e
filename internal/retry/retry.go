package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExhaustedError reports that the retry bound was reached. Its message is the
// last failure's message so user-visible output is unchanged.
type ExhaustedError struct {
	Err      error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	if e == nil || e.Err == nil {
		return "retries exhausted"
	}
	return e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Attempts returns how many times the operation ran before err was returned.
// It is zero when err did not come from an exhausted retry loop.
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 0
}

// IsExhausted reports whether err came from a retry loop that hit its bound.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Execute runs op under policy p.
func Execute(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do runs op under policy p and returns its value from the first successful attempt.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b := p.newBackoff()
	for attempt := 1; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !p.retryable(err) {
			return value, err
		}
		if attempt > p.MaxRetries {
			if p.OnExhausted != nil {
				p.OnExhausted(attempt, err)
			}
			return value, &ExhaustedError{Err: err, Attempts: attempt}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return value, fmt.Errorf("retry aborted after %d attempt(s): %w: %w", attempt, ctxErr, err)
		}

		wait := p.jitter(b.next())
		if p.HonorRetryAfter {
			if hint, ok := RetryAfterHint(err); ok {
				wait = b.cap(hint)
			}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if sleepErr := p.wait(ctx, wait); sleepErr != nil {
			return value, fmt.Errorf("retry aborted after %d attempt(s): %w: %w", attempt, sleepErr, err)
		}
	}
}

// Wrap returns op with policy p applied on every call.
func Wrap[T any](p Policy, op func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, p, op)
	}
}

func (p Policy) wait(ctx context.Context, delay time.Duration) error {
	if p.sleep != nil {
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
		return ctx.Err()
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
