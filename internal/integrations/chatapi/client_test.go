package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"travelnow-support/internal/domain"
	"travelnow-support/internal/widget"
)

var _ widget.Backend = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "base URL")
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	c, err := NewClient("https://api.example.com/api/", WithTimeout(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/api", c.baseURL)
	require.Equal(t, 3*time.Second, c.httpClient.Timeout)
}

func TestFetchHistory_HappyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/chat/history", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[
			{"id":1,"message":"Hi","sender":"bot"},
			{"_id":"65f0c2","message":"Làm sao để đặt phòng?","sender":"user"},
			{"id":"abc","_id":"ignored","message":"ok","sender":"bot"}
		]`)
	})

	entries, err := c.FetchHistory(context.Background(), domain.Identity{Subject: "alice", Token: "tok"})
	require.NoError(t, err)
	require.Equal(t, []domain.HistoryEntry{
		{ID: "1", Message: "Hi", Sender: domain.Agent},
		{ID: "65f0c2", Message: "Làm sao để đặt phòng?", Sender: domain.Visitor},
		{ID: "abc", Message: "ok", Sender: domain.Agent},
	}, entries)
}

func TestFetchHistory_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	entries, err := c.FetchHistory(context.Background(), domain.Identity{Subject: "alice", Token: "tok"})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchHistory_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"UNAUTHORIZED"}`)
	})
	_, err := c.FetchHistory(context.Background(), domain.Identity{Subject: "alice"})
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "UNAUTHORIZED")
}

func TestFetchHistory_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"not":"a list"}`)
	})
	_, err := c.FetchHistory(context.Background(), domain.Identity{Subject: "alice"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode history")
}

func TestFetchHistory_UnreadableIDKeepsItem(t *testing.T) {
	var logs bytes.Buffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":true,"message":"kept","sender":"bot"},
			{"_id":{"$oid":"65f0c2aa"},"message":"mongo","sender":"user"},
			{"id":{"nested":1},"_id":"fallback","message":"legacy","sender":"bot"}
		]`)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	entries, err := c.FetchHistory(context.Background(), domain.Identity{Subject: "alice"})
	require.NoError(t, err)
	require.Equal(t, []domain.HistoryEntry{
		{ID: "", Message: "kept", Sender: domain.Agent},
		{ID: "65f0c2aa", Message: "mongo", Sender: domain.Visitor},
		{ID: "fallback", Message: "legacy", Sender: domain.Agent},
	}, entries)
	require.Contains(t, logs.String(), "unreadable chat history id")
}

func TestPostMessage_HappyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))

		var body postRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Làm sao để đặt phòng?", body.Message)
		_, _ = io.WriteString(w, `{"reply":"Bạn có thể đặt qua trang chủ"}`)
	})

	reply, err := c.PostMessage(context.Background(), domain.Identity{}, "Làm sao để đặt phòng?")
	require.NoError(t, err)
	require.Equal(t, "Bạn có thể đặt qua trang chủ", reply.Reply)
}

func TestPostMessage_SendsBearerWhenSignedIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"reply":"ok"}`)
	})
	_, err := c.PostMessage(context.Background(), domain.Identity{Subject: "alice", Token: "tok"}, "hi")
	require.NoError(t, err)
}

func TestPostMessage_MissingReply(t *testing.T) {
	for _, body := range []string{`{}`, ``, `{"reply":null}`} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, body)
		})
		reply, err := c.PostMessage(context.Background(), domain.Identity{}, "hi")
		require.NoError(t, err, "body=%q", body)
		require.Empty(t, reply.Reply)
	}
}

func TestPostMessage_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.PostMessage(context.Background(), domain.Identity{}, "hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `not-json`)
	})
	_, err = c.PostMessage(context.Background(), domain.Identity{}, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode reply")
}

func TestPostMessage_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.PostMessage(ctx, domain.Identity{}, "hi")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
