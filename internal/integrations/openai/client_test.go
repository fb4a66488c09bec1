package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"travelnow-support/internal/domain"
)

const testPrefix = "/travelnow"

// scriptedGetter answers token lookups from a queue; the last answer repeats.
type scriptedGetter struct {
	mu      sync.Mutex
	answers []getterAnswer
	names   []string
}

type getterAnswer struct {
	val string
	err error
}

func tokenGetter(token string) *scriptedGetter {
	return &scriptedGetter{answers: []getterAnswer{{val: `{"token":"` + token + `"}`}}}
}

func (g *scriptedGetter) GetParameter(_ context.Context, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.names = append(g.names, name)
	a := g.answers[0]
	if len(g.answers) > 1 {
		g.answers = g.answers[1:]
	}
	return a.val, a.err
}

func (g *scriptedGetter) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.names)
}

// fakeAPI is a stand-in for the completions and moderation endpoints.
type fakeAPI struct {
	mu         sync.Mutex
	completion string
	moderation string
	status     int
	auths      []string
	lastChat   completionRequest
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream says no"}}`))
		return
	}
	switch r.URL.Path {
	case "/v1/chat/completions":
		_ = json.NewDecoder(r.Body).Decode(&f.lastChat)
		_, _ = w.Write([]byte(f.completion))
	case "/v1/moderations":
		_, _ = w.Write([]byte(f.moderation))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func completion(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, api *fakeAPI, g Getter, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	c, err := NewClient(g, testPrefix, append([]Option{WithBaseURL(srv.URL)}, opts...)...)
	require.NoError(t, err)
	return c
}

var supportPrompt = []domain.ChatMessage{
	{Role: "system", Content: "You are the TravelNow support assistant."},
	{Role: "user", Content: "Chính sách hủy phòng"},
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, testPrefix)
	require.ErrorContains(t, err, "must not be nil")

	_, err = NewClient(tokenGetter("sk"), " / ")
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient(tokenGetter("sk"), testPrefix+"/")
	require.NoError(t, err)
	require.Equal(t, "/travelnow/open-ai-token", c.tokenName)
	require.Equal(t, "https://api.openai.com/v1/chat/completions", c.endpoint("/chat/completions"))
}

func TestChat_ReturnsSupportReply(t *testing.T) {
	api := &fakeAPI{completion: completion("Miễn phí hủy trước 24 giờ.", "stop")}
	c := newTestClient(t, api, tokenGetter("sk-test"))

	reply, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	require.Equal(t, "Miễn phí hủy trước 24 giờ.", reply)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, "gpt-4o-mini", api.lastChat.Model)
	require.Equal(t, supportPrompt, api.lastChat.Messages)
	require.Nil(t, api.lastChat.Temperature)
	require.Zero(t, api.lastChat.MaxTokens)
	require.Equal(t, []string{"Bearer sk-test"}, api.auths)
}

func TestChat_SendsTuningOptions(t *testing.T) {
	api := &fakeAPI{completion: completion("ok", "stop")}
	c := newTestClient(t, api, tokenGetter("sk-test"), WithTemperature(0.3), WithMaxTokens(300))

	_, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.NotNil(t, api.lastChat.Temperature)
	require.InDelta(t, 0.3, *api.lastChat.Temperature, 1e-9)
	require.Equal(t, 300, api.lastChat.MaxTokens)
}

func TestChat_EmptyContentIsNotAnError(t *testing.T) {
	api := &fakeAPI{completion: completion("", "stop")}
	c := newTestClient(t, api, tokenGetter("sk-test"))

	reply, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	require.Empty(t, reply)
}

func TestChat_ContentFilterYieldsEmptyReply(t *testing.T) {
	api := &fakeAPI{completion: completion("partial text", "content_filter")}
	c := newTestClient(t, api, tokenGetter("sk-test"))

	reply, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	require.Empty(t, reply)
}

func TestChat_Failures(t *testing.T) {
	cases := []struct {
		name    string
		api     *fakeAPI
		model   string
		wantErr string
	}{
		{name: "empty model", api: &fakeAPI{}, model: " ", wantErr: "model must not be empty"},
		{name: "no choices", api: &fakeAPI{completion: `{"choices":[]}`}, model: "m", wantErr: "no choices"},
		{name: "bad json", api: &fakeAPI{completion: `not-json`}, model: "m", wantErr: "decode response"},
		{name: "upstream 500", api: &fakeAPI{status: http.StatusInternalServerError}, model: "m", wantErr: "unexpected status 500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.api, tokenGetter("sk-test"))
			_, err := c.Chat(context.Background(), tc.model, supportPrompt)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestChat_RateLimitKeepsStatusCode(t *testing.T) {
	c := newTestClient(t, &fakeAPI{status: http.StatusTooManyRequests}, tokenGetter("sk-test"))

	_, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "upstream says no")
}

func TestChat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(completion("late", "stop")))
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(tokenGetter("sk-test"), testPrefix,
		WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.ErrorContains(t, err, "request failed")
}

func TestModerate(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		flagged bool
		wantErr string
	}{
		{name: "clean", body: `{"results":[{"flagged":false}]}`},
		{name: "flagged", body: `{"results":[{"flagged":true}]}`, flagged: true},
		{name: "any result flags", body: `{"results":[{"flagged":false},{"flagged":true}]}`, flagged: true},
		{name: "no results", body: `{"results":[]}`, wantErr: "no results"},
		{name: "bad json", body: `not-json`, wantErr: "decode response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{moderation: tc.body}, tokenGetter("sk-test"))
			flagged, err := c.Moderate(context.Background(), "Khuyến mãi hiện có")
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.flagged, flagged)
		})
	}
}

func TestAPIKey_FetchedOnceAndShared(t *testing.T) {
	api := &fakeAPI{completion: completion("ok", "stop"), moderation: `{"results":[{"flagged":false}]}`}
	g := tokenGetter("sk-test")
	c := newTestClient(t, api, g)

	for i := 0; i < 3; i++ {
		_, err := c.Moderate(context.Background(), "hi")
		require.NoError(t, err)
		_, err = c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
		require.NoError(t, err)
	}
	require.Equal(t, 1, g.calls())
	require.Equal(t, []string{"/travelnow/open-ai-token"}, g.names)
}

func TestAPIKey_FailedFetchIsRetried(t *testing.T) {
	api := &fakeAPI{completion: completion("ok", "stop")}
	g := &scriptedGetter{answers: []getterAnswer{
		{err: errors.New("ssm throttled")},
		{val: `{"token":"sk-test"}`},
	}}
	c := newTestClient(t, api, g)

	_, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.ErrorContains(t, err, "ssm throttled")

	reply, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
	require.Equal(t, 2, g.calls())
}

func TestAPIKey_CancelledFirstRequestDoesNotPoisonCache(t *testing.T) {
	api := &fakeAPI{completion: completion("ok", "stop")}
	g := &scriptedGetter{answers: []getterAnswer{
		{err: context.Canceled},
		{val: `{"token":"sk-test"}`},
	}}
	c := newTestClient(t, api, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Chat(ctx, "gpt-4o-mini", supportPrompt)
	require.Error(t, err)

	_, err = c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
}

func TestAPIKey_BadPayloads(t *testing.T) {
	cases := []struct {
		name    string
		val     string
		wantErr string
	}{
		{name: "not json", val: `{"broken`, wantErr: "not JSON"},
		{name: "missing token", val: `{"other":"value"}`, wantErr: "API token is empty"},
		{name: "blank token", val: `{"token":"  "}`, wantErr: "API token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{}, &scriptedGetter{answers: []getterAnswer{{val: tc.val}}})
			_, err := c.Moderate(context.Background(), "hi")
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestAPIKey_UnauthorizedDropsCachedToken(t *testing.T) {
	api := &fakeAPI{status: http.StatusUnauthorized}
	g := &scriptedGetter{answers: []getterAnswer{
		{val: `{"token":"sk-old"}`},
		{val: `{"token":"sk-rotated"}`},
	}}
	c := newTestClient(t, api, g)

	_, err := c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.ErrorContains(t, err, "401")

	api.mu.Lock()
	api.status = 0
	api.completion = completion("ok", "stop")
	api.mu.Unlock()

	_, err = c.Chat(context.Background(), "gpt-4o-mini", supportPrompt)
	require.NoError(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, []string{"Bearer sk-old", "Bearer sk-rotated"}, api.auths)
}
