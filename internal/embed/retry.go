package embed

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// maxAttempts is the total number of tries for one batch, including the
// first (so up to 2 retries), per §4.4.
const maxAttempts = 3

// RateLimitError marks an error as rate-limit/forbidden, the only class
// this package retries.
type RateLimitError struct {
	StatusCode int
	Err        error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err signals a 429 or 403 response.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// withRetry runs fn up to maxAttempts times, retrying only on
// IsRateLimited errors, waiting 5*n seconds before the n-th retry
// (n=1,2). Any other error, or context cancellation, returns immediately.
func withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRateLimited(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(5*attempt) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// classifyHTTPError wraps a non-2xx HTTP response as a RateLimitError when
// its status is 429 or 403, or a plain error otherwise.
func classifyHTTPError(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return &RateLimitError{StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}
