// SPDX-License-Identifier: MIT

// Package upstream is the read-only client for the external support-ticket
// API the ingestion pipeline consumes.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/tickd/internal/types"
)

const defaultTimeout = 10 * time.Second

// Page is one page of the upstream ticket listing.
type Page struct {
	Tickets    []types.UpstreamTicket `json:"tickets"`
	NextPage   *int                   `json:"next_page"`
	TotalCount int                    `json:"total_count"`
}

// Client talks to the external support-ticket API.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for the given base URL. A zero timeout uses the
// 10 second default.
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Tickets fetches one listing page.
func (c *Client) Tickets(ctx context.Context, page, pageSize int, includeDeleted bool) (Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if includeDeleted {
		q.Set("include_deleted", "true")
	}

	var p Page
	if err := c.getJSON(ctx, "/external/support-tickets?"+q.Encode(), &p); err != nil {
		return Page{}, err
	}
	return p, nil
}

// Ticket fetches a single ticket by upstream id.
func (c *Client) Ticket(ctx context.Context, id string) (types.UpstreamTicket, error) {
	var t types.UpstreamTicket
	if err := c.getJSON(ctx, "/external/support-tickets/"+url.PathEscape(id), &t); err != nil {
		return types.UpstreamTicket{}, err
	}
	return t, nil
}

// DeletedIDs fetches the ids upstream has removed.
func (c *Client) DeletedIDs(ctx context.Context) ([]string, error) {
	var p struct {
		DeletedIDs []string `json:"deleted_ids"`
	}
	if err := c.getJSON(ctx, "/external/deleted-tickets", &p); err != nil {
		return nil, err
	}
	return p.DeletedIDs, nil
}

// Ping checks reachability for the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/external/support-tickets?page=1&page_size=1", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream ping: %w", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode >= 500 {
		return &StatusError{Operation: "ping", Status: res.StatusCode}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, res.Body)
		return &ThrottledError{RetryAfter: parseRetryAfter(res.Header.Get("Retry-After"))}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{
			Operation: path,
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream %s: decode: %w", path, err)
	}
	return nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After. Missing or
// malformed headers fall back to one second.
func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
