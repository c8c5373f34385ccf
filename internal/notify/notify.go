// Package notify posts run completion events to an external push endpoint.
// Delivery is best effort; the worker logs failures and moves on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is one push message for a user.
type Notification struct {
	Title string
	Body  string
	URL   string
	Tag   string
}

// Client delivers notifications over HTTP. A client with an empty endpoint
// is a no-op, so callers never need a nil check.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient builds a notification client. endpoint may be empty to disable
// delivery entirely.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushPayload struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// Send posts the notification for the given user.
func (c *Client) Send(ctx context.Context, userID string, n Notification) error {
	if c.endpoint == "" {
		return nil
	}
	body, err := json.Marshal(pushPayload{
		UserID: userID,
		Title:  n.Title,
		Body:   n.Body,
		URL:    n.URL,
		Tag:    n.Tag,
	})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: endpoint returned %d", resp.StatusCode)
	}
	return nil
}
