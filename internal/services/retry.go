package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/desertthunder/vinyldeck/internal/shared"
)

// MaxBackoff caps a single retry delay.
const MaxBackoff = 60 * time.Second

// RetryOptions configures [WithRateLimitRetry].
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
	Clock      shared.Clock
}

// DefaultRetryOptions retries three times starting at one second.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxRetries: 3, BaseDelay: time.Second, Clock: shared.SystemClock{}}
}

// CalculateBackoff returns base·2^attempt plus up to 30% jitter, capped at [MaxBackoff].
func CalculateBackoff(attempt int, base time.Duration) time.Duration {
	exponential := float64(base) * float64(uint64(1)<<min(attempt, 32))
	jitter := rand.Float64() * exponential * 0.3
	return time.Duration(min(exponential+jitter, float64(MaxBackoff)))
}

// isRateLimited reports whether err is an unretried 429.
func isRateLimited(err error) bool {
	return shared.StatusCode(err) == http.StatusTooManyRequests && !isRateLimitError(err)
}

func isRateLimitError(err error) bool {
	var rlErr *shared.RateLimitError
	return errors.As(err, &rlErr)
}

// WithRateLimitRetry calls fn until it succeeds, fails with something other than a 429, or
// retries are exhausted, in which case a [shared.RateLimitError] is returned.
func WithRateLimitRetry(ctx context.Context, opts RetryOptions, fn func() error) error {
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isRateLimited(err) {
			return err
		}

		delay := CalculateBackoff(attempt, opts.BaseDelay)
		if attempt >= opts.MaxRetries {
			return &shared.RateLimitError{BackoffMs: delay.Milliseconds()}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-opts.Clock.After(delay):
		}
	}
}
