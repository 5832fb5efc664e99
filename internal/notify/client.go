// SPDX-License-Identifier: MIT

// Package notify delivers urgent-ticket notifications to the downstream
// webhook through a bounded worker pool and the shared circuit breaker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/tickd/internal/types"
)

// Sender posts one notification. Satisfied by *Client and by test doubles.
type Sender interface {
	Send(ctx context.Context, n types.Notification) error
}

// Client posts notifications to the configured webhook URL.
type Client struct {
	url  string
	http *http.Client
}

// NewClient returns a webhook client. A zero timeout uses 10 seconds.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:  strings.TrimRight(url, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Send posts one notification. Any non-2xx response is an error so the
// dispatcher's retry and breaker logic see it as a failure.
func (c *Client) Send(ctx context.Context, n types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify send %s: %w", n.TicketID, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("notify send %s: HTTP %d", n.TicketID, res.StatusCode)
	}
	return nil
}
