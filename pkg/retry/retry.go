// ABOUTME: Retry with exponential backoff for Google API calls
// ABOUTME: Retries rate limits (429) and server errors (5xx); everything else fails fast

package retry

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPError is implemented by errors that carry an HTTP status code.
type HTTPError interface {
	error
	HTTPStatusCode() int
}

// Policy bounds the retry loop.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles each attempt.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// OnRetry, if set, is called before each wait with the attempt number (starting at 1).
	OnRetry func(attempt int, err error)
}

// DefaultPolicy retries three times starting at 500ms.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   8 * time.Second,
}

// Do runs operation and retries while the error is retryable and attempts remain.
// It returns the last error, or ctx.Err() if the context ends while waiting.
func Do(ctx context.Context, p Policy, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == p.MaxRetries || !IsRetryable(err) {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsRetryable reports whether err carries a transient HTTP status.
func IsRetryable(err error) bool {
	var httpErr HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return IsTransientStatus(httpErr.HTTPStatusCode())
}

// IsTransientStatus reports whether a status code is worth retrying.
func IsTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}
