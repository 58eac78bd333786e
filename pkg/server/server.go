// ABOUTME: MCP server implementation
// ABOUTME: Exposes Google Chat spaces and messages as MCP tools

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"google.golang.org/api/chat/v1"

	"github.com/harper/gchat-mcp/pkg/logging"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// Name is the MCP server name reported to clients.
const Name = "gchat-mcp"

// Tool names
const (
	ToolGetChatSpaces    = "get_chat_spaces"
	ToolGetSpaceMessages = "get_space_messages"
)

// ChatService is the subset of the Chat adapter the tools call.
type ChatService interface {
	ListSpaces(ctx context.Context) ([]*chat.Space, error)
	ListMessages(ctx context.Context, space string, start, end time.Time) ([]*chat.Message, error)
}

// Options wires a Server.
type Options struct {
	Chat ChatService
	// Timeout bounds each tool call. Zero means no limit beyond the caller's.
	Timeout time.Duration
	Version string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server is the MCP server for Google Chat
type Server struct {
	chat    ChatService
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	mcp     *server.MCPServer
}

// NewServer creates a new MCP server
func NewServer(opts Options) (*Server, error) {
	if opts.Chat == nil {
		return nil, errors.New("server requires a Chat service")
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		chat:    opts.Chat,
		timeout: opts.Timeout,
		logger:  logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
	}

	s.mcp = server.NewMCPServer(
		Name,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	return s, nil
}

// registerTools registers all available tools
func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        ToolGetChatSpaces,
		Description: "List all Google Chat spaces the authorized user is a member of",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.instrument(ToolGetChatSpaces, s.handleGetChatSpaces))

	s.mcp.AddTool(mcp.Tool{
		Name:        ToolGetSpaceMessages,
		Description: "List messages in a Google Chat space created within a date range. Without end_date, returns the messages of the start_date day.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"space_name": map[string]string{"type": "string", "description": "Space resource name (e.g., 'spaces/AAAAxyz') as returned by get_chat_spaces"},
				"start_date": map[string]string{"type": "string", "description": "Start of the range: YYYY-MM-DD or RFC3339 (e.g., '2024-01-01' or '2024-01-01T09:00:00Z')"},
				"end_date":   map[string]string{"type": "string", "description": "Optional end of the range: YYYY-MM-DD (inclusive day) or RFC3339"},
			},
			Required: []string{"space_name", "start_date"},
		},
	}, s.instrument(ToolGetSpaceMessages, s.handleGetSpaceMessages))
}

// instrument applies the per-call timeout and records duration and outcome.
func (s *Server) instrument(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	logger := logging.WithTool(s.logger, tool)

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		start := time.Now()
		result, err := handler(ctx, request)
		elapsed := time.Since(start)

		status := metrics.ResultSuccess
		if err != nil || (result != nil && result.IsError) {
			status = metrics.ResultError
		}
		s.metrics.RecordToolCall(tool, status, elapsed)

		attrs := []any{logging.Status(status), logging.Duration(elapsed)}
		if err != nil {
			attrs = append(attrs, logging.Err(err))
		}
		if status == metrics.ResultError {
			logger.Warn("tool call failed", attrs...)
		} else {
			logger.Info("tool call", attrs...)
		}

		return result, err
	}
}

// ListSpacesResponse is the response for get_chat_spaces
type ListSpacesResponse struct {
	Spaces []*chat.Space `json:"spaces"`
	Count  int           `json:"count"`
}

func (s *Server) handleGetChatSpaces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spaces, err := s.chat.ListSpaces(ctx)
	if err != nil {
		return s.toolError(ctx, err), nil
	}
	if spaces == nil {
		spaces = []*chat.Space{}
	}

	return mcp.NewToolResultJSON(ListSpacesResponse{
		Spaces: spaces,
		Count:  len(spaces),
	})
}

// ListMessagesResponse is the response for get_space_messages
type ListMessagesResponse struct {
	Space    string          `json:"space"`
	Messages []*chat.Message `json:"messages"`
	Count    int             `json:"count"`
}

func (s *Server) handleGetSpaceMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	space, err := request.RequireString("space_name")
	if err != nil || strings.TrimSpace(space) == "" {
		return invalidRequest("space_name is required"), nil
	}

	rawStart, err := request.RequireString("start_date")
	if err != nil || strings.TrimSpace(rawStart) == "" {
		return invalidRequest("start_date is required"), nil
	}

	start, err := ParseDate(rawStart, false)
	if err != nil {
		return invalidRequest(fmt.Sprintf("invalid start_date: %v", err)), nil
	}

	var end time.Time
	if rawEnd := request.GetString("end_date", ""); strings.TrimSpace(rawEnd) != "" {
		end, err = ParseDate(rawEnd, true)
		if err != nil {
			return invalidRequest(fmt.Sprintf("invalid end_date: %v", err)), nil
		}
	}

	messages, err := s.chat.ListMessages(ctx, space, start, end)
	if err != nil {
		return s.toolError(ctx, err), nil
	}
	if messages == nil {
		messages = []*chat.Message{}
	}

	return mcp.NewToolResultJSON(ListMessagesResponse{
		Space:    space,
		Messages: messages,
		Count:    len(messages),
	})
}

// ParseDate accepts YYYY-MM-DD (UTC midnight) or RFC3339. With endOfRange,
// a date-only value selects the following midnight so the whole day is included.
func ParseDate(value string, endOfRange bool) (time.Time, error) {
	value = strings.TrimSpace(value)

	if t, err := time.Parse(time.DateOnly, value); err == nil {
		if endOfRange {
			return t.AddDate(0, 0, 1), nil
		}
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC3339", value)
	}
	return t, nil
}

// ListTools returns all registered tools
func (s *Server) ListTools() []mcp.Tool {
	serverTools := s.mcp.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, st := range serverTools {
		tools = append(tools, st.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// MCP exposes the underlying server, mainly for in-process clients.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve runs the MCP server on stdio until ctx ends or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("serving MCP over stdio", slog.String("server", Name))

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server stopped: %w", err)
	}
	return nil
}
