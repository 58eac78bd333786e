// ABOUTME: Mapping from Chat API failures to the service error taxonomy
// ABOUTME: UpstreamError carries the HTTP status used by the retry loop

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/retry"
)

// UpstreamError means the Chat API answered with a non-success status or
// could not be reached (StatusCode 0).
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode implements retry.HTTPError.
func (e *UpstreamError) HTTPStatusCode() int {
	return e.StatusCode
}

// Transient reports whether a later retry may succeed (rate limits, 5xx).
func (e *UpstreamError) Transient() bool {
	return retry.IsTransientStatus(e.StatusCode)
}

func convertError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, auth.ErrTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Failures from the token transport pass through unchanged.
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%s: %w", op, authErr)
	}
	var ioErr *auth.IOError
	if errors.As(err, &ioErr) {
		return fmt.Errorf("%s: %w", op, ioErr)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return &auth.AuthError{Reason: auth.ReasonUnauthorized, Detail: apiErr.Message, Err: err}
		case apiErr.Code == http.StatusForbidden && strings.Contains(strings.ToLower(apiErr.Message), "insufficient authentication scopes"):
			return &auth.AuthError{Reason: auth.ReasonInsufficientScope, Detail: apiErr.Message, Err: err}
		}
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		return &UpstreamError{Op: op, StatusCode: apiErr.Code, Message: msg, Err: err}
	}

	return &UpstreamError{Op: op, Message: err.Error(), Err: err}
}

// retryFailure maps a deadline that expired during retry backoff to the
// timeout error the request legs report.
func retryFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, auth.ErrTimeout) {
		return fmt.Errorf("%s: %w", op, auth.ErrTimeout)
	}
	return err
}
