// ABOUTME: Google Chat API service for listing spaces and reading their messages
// ABOUTME: Drains pages with per-page retry and filters messages to a time window

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/chat/v1"
	"google.golang.org/api/option"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
	"github.com/harper/gchat-mcp/pkg/retry"
)

// DefaultPageSize is requested for every list call.
const DefaultPageSize = 100

// ErrInvalidArgument marks caller mistakes such as an empty space name.
var ErrInvalidArgument = errors.New("invalid argument")

// Config wires a Service.
type Config struct {
	// Tokens supplies a usable Token Record before every call.
	Tokens auth.TokenProvider
	// Endpoint overrides the Chat API base URL.
	Endpoint string
	// HTTPClient replaces the bearer-token transport built from Tokens.
	HTTPClient *http.Client
	// Retry bounds per-page retries (default: retry.DefaultPolicy).
	Retry    *retry.Policy
	PageSize int64
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Service wraps Google Chat API operations
type Service struct {
	svc      *chat.Service
	tokens   auth.TokenProvider
	retry    retry.Policy
	pageSize int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new Chat service
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("chat service requires a token provider")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: &auth.Transport{Provider: cfg.Tokens}}
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	svc, err := chat.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Chat service: %w", err)
	}

	policy := retry.DefaultPolicy
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Service{
		svc:      svc,
		tokens:   cfg.Tokens,
		retry:    policy,
		pageSize: pageSize,
		logger:   logging.OrDefault(cfg.Logger),
		metrics:  cfg.Metrics,
	}, nil
}

// ListSpaces lists every space the user belongs to.
func (s *Service) ListSpaces(ctx context.Context) ([]*chat.Space, error) {
	if err := s.preflight(ctx, chat.ChatSpacesReadonlyScope); err != nil {
		return nil, err
	}

	var spaces []*chat.Space
	pageToken := ""

	for {
		var resp *chat.ListSpacesResponse
		err := retry.Do(ctx, s.policy("list_spaces"), func(ctx context.Context) error {
			r, err := s.svc.Spaces.List().
				PageSize(s.pageSize).
				PageToken(pageToken).
				Context(ctx).
				Do()
			if err != nil {
				return convertError(ctx, "list spaces", err)
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, retryFailure("list spaces", err)
		}

		spaces = append(spaces, resp.Spaces...)

		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			break
		}
		pageToken = resp.NextPageToken
	}

	s.logger.Debug("listed spaces", logging.Operation("list_spaces"), slog.Int("count", len(spaces)))
	return spaces, nil
}

// ListMessages lists messages in space created inside (start, end). A zero
// end means the calendar day that contains start. A zero start lists every
// message.
func (s *Service) ListMessages(ctx context.Context, space string, start, end time.Time) ([]*chat.Message, error) {
	parent, err := NormalizeSpaceName(space)
	if err != nil {
		return nil, err
	}

	window, err := NewWindow(start, end)
	if err != nil {
		return nil, err
	}

	if err := s.preflight(ctx, chat.ChatMessagesScope); err != nil {
		return nil, err
	}

	logger := s.logger.With(logging.Operation("list_messages"), slog.String("space", parent))

	var messages []*chat.Message
	pageToken := ""

	for {
		var resp *chat.ListMessagesResponse
		err := retry.Do(ctx, s.policy("list_messages"), func(ctx context.Context) error {
			call := s.svc.Spaces.Messages.List(parent).
				PageSize(s.pageSize).
				PageToken(pageToken)
			if filter := window.Filter(); filter != "" {
				call = call.Filter(filter)
			}
			r, err := call.Context(ctx).Do()
			if err != nil {
				return convertError(ctx, "list messages", err)
			}
			resp = r
			return nil
		})
		if err != nil {
			return nil, retryFailure("list messages", err)
		}

		for _, msg := range resp.Messages {
			if !window.Contains(msg) {
				logger.Debug("dropped message outside window",
					slog.String("message", msg.Name),
					slog.String("create_time", msg.CreateTime),
				)
				continue
			}
			messages = append(messages, msg)
		}

		if resp.NextPageToken == "" || resp.NextPageToken == pageToken {
			break
		}
		pageToken = resp.NextPageToken
	}

	logger.Debug("listed messages", slog.Int("count", len(messages)))
	return messages, nil
}

// preflight makes sure a usable credential with the needed scope exists
// before any Chat request goes out.
func (s *Service) preflight(ctx context.Context, scope string) error {
	rec, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if missing := rec.MissingScopes(scope); len(missing) > 0 {
		return &auth.AuthError{
			Reason: auth.ReasonInsufficientScope,
			Detail: "token lacks " + strings.Join(missing, ", "),
		}
	}
	return nil
}

func (s *Service) policy(operation string) retry.Policy {
	p := s.retry
	p.OnRetry = func(attempt int, err error) {
		s.metrics.RecordUpstreamRetry(operation)
		s.logger.Warn("retrying Chat request",
			logging.Operation(operation),
			slog.Int("attempt", attempt),
			logging.Err(err),
		)
	}
	return p
}

// NormalizeSpaceName accepts "spaces/XYZ" or a bare "XYZ".
func NormalizeSpaceName(space string) (string, error) {
	space = strings.TrimSpace(space)
	space = strings.TrimPrefix(space, "spaces/")
	if space == "" || strings.Contains(space, "/") {
		return "", fmt.Errorf("%w: space name must look like spaces/XYZ", ErrInvalidArgument)
	}
	return "spaces/" + space, nil
}
