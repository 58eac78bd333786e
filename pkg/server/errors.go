// ABOUTME: Remediation classes for failures reported to MCP clients and the CLI
// ABOUTME: Separates re-authorize, fix-the-request, and try-later outcomes

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/chat"
	"github.com/harper/gchat-mcp/pkg/logging"
)

// ErrorClass names what the user has to do about a failure.
type ErrorClass string

const (
	ClassAuthorization  ErrorClass = "authorization required"
	ClassInvalidRequest ErrorClass = "invalid request"
	ClassUnavailable    ErrorClass = "Google Chat unavailable"
	ClassTimeout        ErrorClass = "request timed out"
	ClassStorage        ErrorClass = "credential storage error"
)

// Hint is the remediation shown after the class.
func (c ErrorClass) Hint() string {
	switch c {
	case ClassAuthorization:
		return "run `gchat-mcp auth` to authorize again"
	case ClassInvalidRequest:
		return "check the arguments and try again"
	case ClassUnavailable:
		return "Google is not answering normally, try again later"
	case ClassTimeout:
		return "try again, or raise --timeout"
	case ClassStorage:
		return "check the token file location and permissions"
	default:
		return ""
	}
}

// ClassifyError maps an error from the auth or chat packages to a class.
func ClassifyError(err error) ErrorClass {
	var (
		authErr     *auth.AuthError
		ioErr       *auth.IOError
		upstream    *chat.UpstreamError
		retrieveErr *oauth2.RetrieveError
		netErr      net.Error
	)

	switch {
	case errors.Is(err, auth.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.As(err, &ioErr):
		return ClassStorage
	case errors.Is(err, chat.ErrInvalidArgument):
		return ClassInvalidRequest
	case errors.As(err, &authErr):
		switch {
		case authErr.Reason == auth.ReasonRefreshFailed:
			// The token endpoint failed without rejecting the grant.
			return ClassUnavailable
		case !authErr.NeedsReauthorization():
			return ClassInvalidRequest
		default:
			return ClassAuthorization
		}
	case errors.Is(err, auth.ErrNotFound):
		return ClassAuthorization
	case errors.As(err, &upstream):
		if upstream.StatusCode == 0 || upstream.Transient() {
			return ClassUnavailable
		}
		return ClassInvalidRequest
	case errors.As(err, &retrieveErr):
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return ClassUnavailable
		}
		return ClassAuthorization
	case errors.As(err, &netErr):
		return ClassUnavailable
	default:
		return ClassUnavailable
	}
}

// Describe renders err with its class prefix and remediation.
func Describe(err error) string {
	class := ClassifyError(err)
	return fmt.Sprintf("%s: %v (%s)", class, err, class.Hint())
}

func (s *Server) toolError(ctx context.Context, err error) *mcp.CallToolResult {
	s.logger.DebugContext(ctx, "tool error", slog.String("class", string(ClassifyError(err))), logging.Err(err))
	return mcp.NewToolResultError(Describe(err))
}

func invalidRequest(detail string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", ClassInvalidRequest, detail))
}
