package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"travelnow-support/internal/domain"
)

const defaultTimeout = 10 * time.Second

// postRequest is the body of POST /chat.
type postRequest struct {
	Message string `json:"message"`
}

// historyItem is one element of GET /chat/history. Older backends send the
// identifier as "_id", and some send it as a number.
type historyItem struct {
	ID       json.RawMessage `json:"id"`
	LegacyID json.RawMessage `json:"_id"`
	Message  string          `json:"message"`
	Sender   domain.Origin   `json:"sender"`
}

// HTTPStatusError captures non-2xx responses from the chat backend.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chatapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the TravelNow chat backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client for the backend rooted at baseURL
// (e.g. https://api.example.com/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatapi: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// FetchHistory returns the signed-in visitor's chat history, oldest first.
func (c *Client) FetchHistory(ctx context.Context, id domain.Identity) ([]domain.HistoryEntry, error) {
	url := c.baseURL + "/chat/history"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("chatapi: create history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	authorize(req, id)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("chatapi: history request failed: %w", err)
	}

	var items []historyItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("chatapi: decode history: %w", err)
	}
	entries := make([]domain.HistoryEntry, 0, len(items))
	for i, item := range items {
		entries = append(entries, domain.HistoryEntry{ID: c.itemID(i, item), Message: item.Message, Sender: item.Sender})
	}
	return entries, nil
}

// PostMessage sends one visitor message and returns the backend's reply.
// A zero Identity posts anonymously.
func (c *Client) PostMessage(ctx context.Context, id domain.Identity, message string) (domain.Reply, error) {
	body, err := json.Marshal(postRequest{Message: message})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("chatapi: marshal message: %w", err)
	}

	url := c.baseURL + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Reply{}, fmt.Errorf("chatapi: create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	authorize(req, id)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("chatapi: message request failed: %w", err)
	}

	var reply domain.Reply
	if len(bytes.TrimSpace(raw)) == 0 {
		return reply, nil
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.Reply{}, fmt.Errorf("chatapi: decode reply: %w", err)
	}
	return reply, nil
}

func authorize(req *http.Request, id domain.Identity) {
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// itemID returns the item's identifier, preferring "id" over "_id". An id
// that cannot be read is logged and left empty so the item is still shown.
func (c *Client) itemID(i int, item historyItem) string {
	for _, raw := range []json.RawMessage{item.ID, item.LegacyID} {
		id, err := decodeID(raw)
		if err != nil {
			c.logger.Warn("unreadable chat history id", "index", i, "raw", string(raw), "err", err)
			continue
		}
		if id != "" {
			return id
		}
	}
	return ""
}

// decodeID accepts a JSON string, a number, or a Mongo {"$oid": "..."}
// object and returns its text form.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if raw[0] == '{' {
		var oid struct {
			OID string `json:"$oid"`
		}
		if err := json.Unmarshal(raw, &oid); err != nil {
			return "", err
		}
		if oid.OID == "" {
			return "", errors.New("object id without $oid")
		}
		return oid.OID, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
