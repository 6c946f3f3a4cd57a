// Package backend is the HTTP client for the marketplace messaging API.
// It is the authoritative side of every mutation: the live channel only
// provides low-latency fan-out on top of it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homechat/internal/chat"
)

const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: HTTP %d: %s", e.Status, e.Body)
}

// Client calls the messaging endpoints of the marketplace backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a backend client for an already-authenticated session
// token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListConversations fetches the user's conversation list. The server
// makes no ordering promise; the store sorts.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/messaging/conversations/", nil)
	if err != nil {
		return nil, err
	}
	var convs []chat.Conversation
	if err := decodeList(data, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}

// ListMessages fetches a conversation's message window. The server makes
// no ordering promise; the stream controller sorts.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	data, err := c.do(ctx, http.MethodGet, "/messaging/conversations/"+conversationID+"/messages/", nil)
	if err != nil {
		return nil, err
	}
	var msgs []chat.Message
	if err := decodeList(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

// SendMessage persists a message and returns the confirmed copy with the
// server-assigned id and timestamp.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*chat.Message, error) {
	data, err := c.do(ctx, http.MethodPost, "/messaging/conversations/"+conversationID+"/messages/",
		map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode sent message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage removes a message for both participants.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	_, err := c.do(ctx, http.MethodDelete,
		"/messaging/conversations/"+conversationID+"/messages/"+messageID+"/", nil)
	return err
}

// MarkRead marks every message in the conversation as read, which the
// backend surfaces to the counterpart as a read receipt.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPost,
		"/messaging/conversations/"+conversationID+"/mark_all_read/", nil)
	return err
}

// CreateConversation starts (or idempotently returns) a conversation with
// a counterpart, optionally scoped to a subject listing.
func (c *Client) CreateConversation(ctx context.Context, counterpartID, subjectID string) (*chat.Conversation, error) {
	body := map[string]string{"counterpart_id": counterpartID}
	if subjectID != "" {
		body["subject_id"] = subjectID
	}
	data, err := c.do(ctx, http.MethodPost, "/messaging/conversations/", body)
	if err != nil {
		return nil, err
	}
	var conv chat.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// decodeList accepts both a bare JSON array and the paginated
// {"results": [...]} wrapper the backend uses on some endpoints.
func decodeList(data []byte, out any) error {
	var wrapped struct {
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Results != nil {
		return json.Unmarshal(wrapped.Results, out)
	}
	return json.Unmarshal(data, out)
}
