// Package client is a small HTTP client for the reverie API, used by the CLI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/papercomputeco/reverie/api"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const defaultTimeout = 30 * time.Second

// Client talks to a running reverie API server.
type Client struct {
	target *url.URL
	http   *http.Client
}

// New returns a client for the API server at target.
func New(target string) (*Client, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL: %q", target)
	}

	return &Client{
		target: u,
		http:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Search runs a summary search for agentID.
func (c *Client) Search(ctx context.Context, agentID, query string, kind memory.Kind, limit int) (*api.SummariesResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out api.SummariesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/agents/"+url.PathEscape(agentID)+"/summaries/search", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeadLetters lists dead-lettered reflection jobs.
func (c *Client) DeadLetters(ctx context.Context) ([]storage.DeadLetter, error) {
	var out []storage.DeadLetter
	if err := c.do(ctx, http.MethodGet, "/v1/deadletters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Replay resubmits the dead letter id.
func (c *Client) Replay(ctx context.Context, id string) (*api.ReplayResponse, error) {
	var out api.ReplayResponse
	if err := c.do(ctx, http.MethodPost, "/v1/deadletters/"+url.PathEscape(id)+"/replay", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := *c.target
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reverie API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// StatusError is a non-200 API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed (HTTP %d): %s", e.Code, e.Message)
}
