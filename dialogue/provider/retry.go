package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryPolicy bounds how often a collaborator call is attempted and how long to wait between
// attempts. Zero delays are valid (tests use them).
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	RateLimitDelay time.Duration
	// Retryable reports whether err is worth another attempt. nil retries every error.
	Retryable func(err error) bool
}

// DefaultRetryPolicy retries transient OpenAI failures three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Delay:          5 * time.Second,
		RateLimitDelay: 65 * time.Second,
		Retryable:      IsTransient,
	}
}

// Retry calls fn until it succeeds, the policy is exhausted, a non-retryable error is returned,
// or ctx is cancelled. The last error is returned wrapped with the attempt count.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := p.Delay
		if isRateLimitError(err) && p.RateLimitDelay > 0 {
			wait = p.RateLimitDelay
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient reports rate-limit and server errors.
func IsTransient(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "server_error")
}
