package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatsync/internal/models"
)

const DefaultTimeout = 15 * time.Second

// Error is returned for non-2xx responses and for bodies with success=false.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls the chat REST endpoints of the booking API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
	}
}

type response[T any] struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type unreadCount struct {
	Count int `json:"count"`
}

// History returns the messages exchanged with counterpartID.
func (c *Client) History(ctx context.Context, counterpartID string) ([]models.ChatMessage, error) {
	if counterpartID == "" {
		return nil, fmt.Errorf("history: empty counterpart id")
	}
	return do[[]models.ChatMessage](ctx, c, http.MethodGet, "/chat/history/"+url.PathEscape(counterpartID), nil)
}

// Counterparts returns everyone the local participant has chatted with,
// optionally filtered by search.
func (c *Client) Counterparts(ctx context.Context, search string) ([]models.Counterpart, error) {
	var q url.Values
	if search != "" {
		q = url.Values{"search": {search}}
	}
	return do[[]models.Counterpart](ctx, c, http.MethodGet, "/chat/counterparts", q)
}

// UnreadCount returns the server-confirmed number of unread messages over
// all conversations.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	res, err := do[unreadCount](ctx, c, http.MethodGet, "/chat/unread-count", nil)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) ClearUnreadCount(ctx context.Context) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPost, "/chat/unread-count/clear", nil)
	return err
}

func do[T any](ctx context.Context, c *Client, method, path string, query url.Values) (T, error) {
	var zero T

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return zero, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded response[T]
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return zero, &Error{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if decoded.Success != nil && !*decoded.Success {
		return zero, &Error{Status: resp.StatusCode, Message: decoded.Message}
	}

	return decoded.Data, nil
}
