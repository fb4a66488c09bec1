// Package openai writes support replies and screens visitor messages using
// an OpenAI-compatible API. The API token lives in SSM as {"token": "..."}.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"travelnow-support/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 10 * time.Second

	tokenParameter = "/open-ai-token"
)

type completionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      domain.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged bool `json:"flagged"`
	} `json:"results"`
}

type tokenPayload struct {
	Token string `json:"token"`
}

// Getter reads one decrypted parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client generates support replies and moderates visitor messages.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	tokenName   string
	temperature *float64
	maxTokens   int

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// WithMaxTokens caps reply length so answers stay widget-sized.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewClient creates a Client that reads its token from <paramPrefix>/open-ai-token.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		getter:     ps,
		tokenName:  paramPrefix + tokenParameter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Chat returns the assistant text for a support prompt. An empty string is a
// valid answer; callers decide how to present it.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	var out completionResponse
	err := c.postJSON(ctx, "/chat/completions", completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("openai: chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai: chat: no choices in response")
	}
	choice := out.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", nil
	}
	return choice.Message.Content, nil
}

// Moderate reports whether any moderation result flags the visitor message.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	var out moderationResponse
	if err := c.postJSON(ctx, "/moderations", moderationRequest{Input: input}, &out); err != nil {
		return false, fmt.Errorf("openai: moderation: %w", err)
	}
	if len(out.Results) == 0 {
		return false, errors.New("openai: moderation: no results in response")
	}
	for _, r := range out.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) endpoint(path string) string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + path
	}
	return c.baseURL + "/v1" + path
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if res.StatusCode == http.StatusUnauthorized {
			// The token may have been rotated in SSM.
			c.forgetAPIKey(apiKey)
		}
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// resolveAPIKey returns the cached token, fetching it from SSM when none is
// cached. Failures are not cached, so the next request tries again.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}

	raw, err := c.getter.GetParameter(ctx, c.tokenName)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: token parameter is not JSON: %w", err)
	}
	tp.Token = strings.TrimSpace(tp.Token)
	if tp.Token == "" {
		return "", errors.New("openai: API token is empty")
	}
	c.apiKey = tp.Token
	return c.apiKey, nil
}

func (c *Client) forgetAPIKey(key string) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey == key {
		c.apiKey = ""
	}
}
