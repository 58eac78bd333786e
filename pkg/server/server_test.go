// ABOUTME: Tests for MCP server
// ABOUTME: Validates tool registration, argument handling, error classes, and metrics

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/chat/v1"

	"github.com/harper/gchat-mcp/pkg/auth"
	gchat "github.com/harper/gchat-mcp/pkg/chat"
	"github.com/harper/gchat-mcp/pkg/metrics"
)

// createMockRequest creates a mock CallToolRequest for testing
func createMockRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

type fakeChat struct {
	spaces   []*chat.Space
	messages []*chat.Message
	err      error

	gotSpace string
	gotStart time.Time
	gotEnd   time.Time
	calls    int
}

func (f *fakeChat) ListSpaces(context.Context) ([]*chat.Space, error) {
	f.calls++
	return f.spaces, f.err
}

func (f *fakeChat) ListMessages(_ context.Context, space string, start, end time.Time) ([]*chat.Message, error) {
	f.calls++
	f.gotSpace, f.gotStart, f.gotEnd = space, start, end
	return f.messages, f.err
}

func newTestServer(t *testing.T, fake *fakeChat) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	srv, err := NewServer(Options{Chat: fake, Timeout: time.Second, Metrics: m})
	require.NoError(t, err)
	return srv, m
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestNewServer_RequiresChat(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChat{})

	tools := srv.ListTools()
	require.Len(t, tools, 2)

	assert.Equal(t, ToolGetChatSpaces, tools[0].Name)
	assert.Equal(t, ToolGetSpaceMessages, tools[1].Name)
	assert.ElementsMatch(t, []string{"space_name", "start_date"}, tools[1].InputSchema.Required)
	assert.Contains(t, tools[1].InputSchema.Properties, "end_date")
}

func TestServer_HandleGetChatSpaces(t *testing.T) {
	fake := &fakeChat{spaces: []*chat.Space{
		{Name: "spaces/A", DisplayName: "Team A"},
		{Name: "spaces/B", DisplayName: "Team B"},
	}}
	srv, m := newTestServer(t, fake)

	result, err := srv.instrument(ToolGetChatSpaces, srv.handleGetChatSpaces)(context.Background(), createMockRequest(ToolGetChatSpaces, nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var resp ListSpacesResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "Team B", resp.Spaces[1].DisplayName)

	count, err := testutil.GatherAndCount(m.Registry(), "gchat_mcp_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestServer_HandleGetChatSpaces_EmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, &fakeChat{})

	result, err := srv.handleGetChatSpaces(context.Background(), createMockRequest(ToolGetChatSpaces, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"spaces":[],"count":0}`, resultText(t, result))
}

func TestServer_HandleGetSpaceMessages_DateRange(t *testing.T) {
	fake := &fakeChat{messages: []*chat.Message{{Name: "spaces/XYZ/messages/1", Text: "hello"}}}
	srv, _ := newTestServer(t, fake)

	result, err := srv.handleGetSpaceMessages(context.Background(), createMockRequest(ToolGetSpaceMessages, map[string]interface{}{
		"space_name": "spaces/XYZ",
		"start_date": "2024-01-01",
		"end_date":   "2024-01-31",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	assert.Equal(t, "spaces/XYZ", fake.gotSpace)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), fake.gotStart)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), fake.gotEnd, "date-only end covers the whole day")

	var resp ListMessagesResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "hello", resp.Messages[0].Text)
}

func TestServer_HandleGetSpaceMessages_SingleDay(t *testing.T) {
	fake := &fakeChat{}
	srv, _ := newTestServer(t, fake)

	result, err := srv.handleGetSpaceMessages(context.Background(), createMockRequest(ToolGetSpaceMessages, map[string]interface{}{
		"space_name": "spaces/XYZ",
		"start_date": "2024-01-15T09:30:00Z",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), fake.gotStart)
	assert.True(t, fake.gotEnd.IsZero())
	assert.JSONEq(t, `{"space":"spaces/XYZ","messages":[],"count":0}`, resultText(t, result))
}

func TestServer_HandleGetSpaceMessages_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{name: "missing space", args: map[string]interface{}{"start_date": "2024-01-01"}, want: "space_name is required"},
		{name: "blank space", args: map[string]interface{}{"space_name": " ", "start_date": "2024-01-01"}, want: "space_name is required"},
		{name: "missing start", args: map[string]interface{}{"space_name": "spaces/XYZ"}, want: "start_date is required"},
		{name: "bad start", args: map[string]interface{}{"space_name": "spaces/XYZ", "start_date": "01/02/2024"}, want: "invalid start_date"},
		{name: "bad end", args: map[string]interface{}{"space_name": "spaces/XYZ", "start_date": "2024-01-01", "end_date": "tomorrow"}, want: "invalid end_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeChat{}
			srv, _ := newTestServer(t, fake)

			result, err := srv.handleGetSpaceMessages(context.Background(), createMockRequest(ToolGetSpaceMessages, tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)

			text := resultText(t, result)
			assert.Contains(t, text, "invalid request")
			assert.Contains(t, text, tt.want)
			assert.Zero(t, fake.calls)
		})
	}
}

func TestServer_ToolErrorsCarryRemediationClass(t *testing.T) {
	fake := &fakeChat{err: &auth.AuthError{Reason: auth.ReasonExpiredRefreshToken}}
	srv, _ := newTestServer(t, fake)

	result, err := srv.handleGetChatSpaces(context.Background(), createMockRequest(ToolGetChatSpaces, nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "authorization required")
	assert.Contains(t, resultText(t, result), "gchat-mcp auth")
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"no credential", &auth.AuthError{Reason: auth.ReasonNotAuthenticated, Err: auth.ErrNotFound}, ClassAuthorization},
		{"revoked", &auth.AuthError{Reason: auth.ReasonExpiredRefreshToken}, ClassAuthorization},
		{"upstream 401", &auth.AuthError{Reason: auth.ReasonUnauthorized}, ClassAuthorization},
		{"missing scope", &auth.AuthError{Reason: auth.ReasonInsufficientScope}, ClassAuthorization},
		{"malformed paste", &auth.AuthError{Reason: auth.ReasonMalformedRedirect}, ClassInvalidRequest},
		{"refresh outage", &auth.AuthError{Reason: auth.ReasonRefreshFailed}, ClassUnavailable},
		{"timeout", errors.Join(errors.New("list spaces"), auth.ErrTimeout), ClassTimeout},
		{"deadline", context.DeadlineExceeded, ClassTimeout},
		{"io", &auth.IOError{Op: "write", Path: "/x", Err: errors.New("read-only file system")}, ClassStorage},
		{"bad space", gchat.ErrInvalidArgument, ClassInvalidRequest},
		{"not found", &gchat.UpstreamError{Op: "list messages", StatusCode: http.StatusNotFound}, ClassInvalidRequest},
		{"rate limited", &gchat.UpstreamError{Op: "list spaces", StatusCode: http.StatusTooManyRequests}, ClassUnavailable},
		{"server error", &gchat.UpstreamError{Op: "list spaces", StatusCode: http.StatusBadGateway}, ClassUnavailable},
		{"unreachable", &gchat.UpstreamError{Op: "list spaces"}, ClassUnavailable},
		{"token endpoint 503", &oauth2.RetrieveError{Response: &http.Response{StatusCode: 503}}, ClassUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
			assert.Contains(t, Describe(tt.err), string(tt.want))
		})
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-03-09", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-03-09", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-03-09T17:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC), got.UTC())

	_, err = ParseDate("March 9", false)
	assert.Error(t, err)
}

func TestServer_JSONRPCToolCall(t *testing.T) {
	fake := &fakeChat{spaces: []*chat.Space{{Name: "spaces/A"}}}
	srv, _ := newTestServer(t, fake)
	ctx := context.Background()

	initMsg := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`
	require.NotNil(t, srv.MCP().HandleMessage(ctx, json.RawMessage(initMsg)))

	callMsg := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_chat_spaces","arguments":{}}}`
	resp := srv.MCP().HandleMessage(ctx, json.RawMessage(callMsg))

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotEmpty(t, decoded.Result.Content)
	assert.False(t, decoded.Result.IsError)
	assert.JSONEq(t, `{"spaces":[{"name":"spaces/A"}],"count":1}`, decoded.Result.Content[0].Text)
}
