// Package cloudflare provides the minimal Workers API surface the cleanup
// sweeper needs: deleting deployed worker scripts.
package cloudflare

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Client calls the Cloudflare Workers API.
type Client struct {
	baseURL    string
	apiToken   string
	accountID  string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(client *Client) {
		client.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a Workers API client.
func NewClient(apiToken, accountID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		apiToken:  apiToken,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeleteWorker removes a deployed worker script. A 404 means the script is
// already gone and counts as success.
func (c *Client) DeleteWorker(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/accounts/%s/workers/scripts/%s", c.baseURL, c.accountID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete worker %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("Worker already deleted", "worker", name)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("delete worker %s: status %d: %s", name, resp.StatusCode, string(body))
	}
	return nil
}
