// ABOUTME: Error taxonomy for the credential lifecycle
// ABOUTME: AuthError reasons, credential file IOError, and sentinel errors

package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no token file exists at the configured path.
	ErrNotFound = errors.New("no stored token")

	// ErrTimeout means a network leg ran past its deadline.
	ErrTimeout = errors.New("timed out")

	// ErrFlowInProgress rejects a second web authorization while one is pending.
	ErrFlowInProgress = errors.New("an authorization attempt is already in progress")

	// ErrAborted means the operator ended the CLI flow without a code.
	ErrAborted = errors.New("authorization aborted")
)

// Reason classifies an AuthError.
type Reason string

const (
	ReasonNotAuthenticated    Reason = "not_authenticated"
	ReasonMissingRefreshToken Reason = "missing_refresh_token"
	ReasonExpiredRefreshToken Reason = "expired_refresh_token"
	ReasonRefreshFailed       Reason = "refresh_failed"
	ReasonMalformedRedirect   Reason = "malformed_redirect"
	ReasonStateMismatch       Reason = "state_mismatch"
	ReasonConsentDenied       Reason = "consent_denied"
	ReasonExchangeFailed      Reason = "exchange_failed"
	ReasonInsufficientScope   Reason = "insufficient_scope"
	ReasonUnauthorized        Reason = "unauthorized"
)

// AuthError means there is no usable credential, or an authorization step failed.
type AuthError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NeedsReauthorization reports whether only a new user consent can fix this error.
// Malformed pastes and state mismatches are operator mistakes that a retry can fix.
func (e *AuthError) NeedsReauthorization() bool {
	switch e.Reason {
	case ReasonMalformedRedirect, ReasonStateMismatch:
		return false
	default:
		return true
	}
}

func newAuthError(reason Reason, detail string, err error) *AuthError {
	return &AuthError{Reason: reason, Detail: detail, Err: err}
}

// IsReason reports whether err is an AuthError with the given reason.
func IsReason(err error, reason Reason) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == reason
}

// IOError means the credential file could not be read or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s token file %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
