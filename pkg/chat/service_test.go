// ABOUTME: Tests for the Chat service against a stub Chat API
// ABOUTME: Covers window filtering, pagination, retry, and error mapping

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/chat/v1"

	"github.com/harper/gchat-mcp/pkg/auth"
	"github.com/harper/gchat-mcp/pkg/retry"
)

type staticTokens struct {
	rec   auth.TokenRecord
	err   error
	calls atomic.Int32
}

func (s *staticTokens) Token(context.Context) (auth.TokenRecord, error) {
	s.calls.Add(1)
	return s.rec, s.err
}

func validTokens() *staticTokens {
	return &staticTokens{rec: auth.TokenRecord{
		AccessToken: "ya29.test",
		Expiry:      time.Now().Add(time.Hour),
		Scopes:      auth.DefaultScopes,
	}}
}

var noWait = &retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}

func newStubService(t *testing.T, tokens auth.TokenProvider, handler http.HandlerFunc) *Service {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(context.Background(), Config{
		Tokens:   tokens,
		Endpoint: srv.URL,
		Retry:    noWait,
	})
	require.NoError(t, err)
	return svc
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func apiError(code int, message string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": message}}
}

func TestListMessages_FiltersToWindow(t *testing.T) {
	var gotFilter, gotAuth, gotPath string
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFilter = r.URL.Query().Get("filter")
		gotAuth = r.Header.Get("Authorization")

		writeJSON(w, http.StatusOK, chat.ListMessagesResponse{Messages: []*chat.Message{
			{Name: "spaces/XYZ/messages/1", CreateTime: "2024-01-05T10:00:00Z", Text: "kickoff"},
			{Name: "spaces/XYZ/messages/2", CreateTime: "2024-03-02T09:30:00Z", Text: "late"},
			{Name: "spaces/XYZ/messages/3", CreateTime: "2024-01-31T23:59:59.5Z", Text: "wrap-up"},
		}})
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	msgs, err := svc.ListMessages(context.Background(), "spaces/XYZ", start, end)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "spaces/XYZ/messages/1", msgs[0].Name)
	assert.Equal(t, "spaces/XYZ/messages/3", msgs[1].Name)

	assert.Equal(t, "/v1/spaces/XYZ/messages", gotPath)
	assert.Equal(t, `createTime > "2024-01-01T00:00:00Z" AND createTime < "2024-02-01T00:00:00Z"`, gotFilter)
	assert.Equal(t, "Bearer ya29.test", gotAuth)
}

func TestListMessages_DrainsPages(t *testing.T) {
	var calls atomic.Int32
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, http.StatusOK, chat.ListMessagesResponse{
				Messages:      []*chat.Message{{Name: "spaces/XYZ/messages/1"}},
				NextPageToken: "page-2",
			})
		case "page-2":
			writeJSON(w, http.StatusOK, chat.ListMessagesResponse{
				Messages: []*chat.Message{{Name: "spaces/XYZ/messages/2"}},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	})

	msgs, err := svc.ListMessages(context.Background(), "XYZ", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.EqualValues(t, 2, calls.Load())
}

func TestListSpaces_DrainsPages(t *testing.T) {
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/spaces", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("pageSize"))
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, chat.ListSpacesResponse{
				Spaces:        []*chat.Space{{Name: "spaces/A", DisplayName: "Team A"}},
				NextPageToken: "next",
			})
			return
		}
		writeJSON(w, http.StatusOK, chat.ListSpacesResponse{
			Spaces: []*chat.Space{{Name: "spaces/B", DisplayName: "Team B"}},
		})
	})

	spaces, err := svc.ListSpaces(context.Background())
	require.NoError(t, err)
	require.Len(t, spaces, 2)
	assert.Equal(t, "Team B", spaces[1].DisplayName)
}

func TestListSpaces_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, apiError(503, "backend unavailable"))
			return
		}
		writeJSON(w, http.StatusOK, chat.ListSpacesResponse{Spaces: []*chat.Space{{Name: "spaces/A"}}})
	})

	spaces, err := svc.ListSpaces(context.Background())
	require.NoError(t, err)
	assert.Len(t, spaces, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestListSpaces_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusTooManyRequests, apiError(429, "quota exceeded"))
	})

	_, err := svc.ListSpaces(context.Background())
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.True(t, upstream.Transient())
	assert.EqualValues(t, 3, calls.Load())
}

func TestListMessages_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, apiError(404, "Space not found"))
	})

	_, err := svc.ListMessages(context.Background(), "spaces/missing", time.Time{}, time.Time{})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusNotFound, upstream.StatusCode)
	assert.Equal(t, "Space not found", upstream.Message)
	assert.False(t, upstream.Transient())
	assert.EqualValues(t, 1, calls.Load())
}

func TestListSpaces_UnauthorizedMapsToAuthError(t *testing.T) {
	svc := newStubService(t, validTokens(), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, apiError(401, "Request had invalid authentication credentials."))
	})

	_, err := svc.ListSpaces(context.Background())
	assert.True(t, auth.IsReason(err, auth.ReasonUnauthorized))
}

func TestListSpaces_AuthFailureShortCircuits(t *testing.T) {
	tokens := &staticTokens{err: &auth.AuthError{Reason: auth.ReasonExpiredRefreshToken}}
	svc := newStubService(t, tokens, func(http.ResponseWriter, *http.Request) {
		t.Error("Chat API must not be called without a credential")
	})

	_, err := svc.ListSpaces(context.Background())
	assert.True(t, auth.IsReason(err, auth.ReasonExpiredRefreshToken))
}

func TestListMessages_InsufficientScope(t *testing.T) {
	tokens := validTokens()
	tokens.rec.Scopes = []string{chat.ChatSpacesReadonlyScope}
	svc := newStubService(t, tokens, func(http.ResponseWriter, *http.Request) {
		t.Error("Chat API must not be called without the messages scope")
	})

	_, err := svc.ListMessages(context.Background(), "spaces/XYZ", time.Time{}, time.Time{})
	assert.True(t, auth.IsReason(err, auth.ReasonInsufficientScope))
}

func TestListMessages_Timeout(t *testing.T) {
	svc := newStubService(t, validTokens(), func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.ListMessages(ctx, "spaces/XYZ", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, auth.ErrTimeout)
}

func TestListSpaces_DeadlineDuringBackoffIsTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, apiError(http.StatusServiceUnavailable, "backend unavailable"))
	}))
	t.Cleanup(srv.Close)

	svc, err := NewService(context.Background(), Config{
		Tokens:   validTokens(),
		Endpoint: srv.URL,
		Retry:    &retry.Policy{MaxRetries: 3, BaseDelay: time.Minute},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = svc.ListSpaces(ctx)
	assert.ErrorIs(t, err, auth.ErrTimeout)
	assert.EqualValues(t, 1, calls.Load())
}

func TestListMessages_InvalidArguments(t *testing.T) {
	svc := newStubService(t, validTokens(), func(http.ResponseWriter, *http.Request) {
		t.Error("Chat API must not be called for invalid input")
	})

	_, err := svc.ListMessages(context.Background(), "", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.ListMessages(context.Background(), "spaces/XYZ", start, start.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewService_RequiresTokens(t *testing.T) {
	_, err := NewService(context.Background(), Config{})
	assert.Error(t, err)
}
