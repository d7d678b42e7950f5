package retry

import (
	"context"
	"errors"
	"time"

	"github.com/yungbote/labtrace-backend/internal/pkg/httpx"
)

var ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether another attempt is worthwhile. Nil retries every error.
	Retryable func(error) bool
}

// Do runs op until it succeeds, the policy gives up, or ctx is done.
// It returns the last error together with the number of attempts made.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := httpx.JitterSleep(httpx.Backoff(p.BaseDelay, attempt, p.MaxDelay))
		if err := httpx.Sleep(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}
