package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxBodySize caps sandbox API response bodies.
const maxBodySize = 16 * 1024 * 1024 // 16MB

// Client talks to a sandbox-runtime service over HTTP and implements
// Provisioner. Each created sandbox is addressed by the id the service
// returns.
type Client struct {
	baseURL    string
	token      string
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

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a sandbox runtime client.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			// Individual execs carry their own timeouts well beyond this;
			// the transport timeout only bounds connection setup and
			// header reads, so it is left to per-request contexts.
			Timeout: 0,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Create provisions a new sandbox.
func (c *Client) Create(ctx context.Context) (Runtime, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sandboxes", nil, &created, 0); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create sandbox: empty id in response")
	}

	c.logger.Debug("Sandbox created", "sandbox_id", created.ID)
	return &remoteSandbox{client: c, id: created.ID}, nil
}

// do issues a JSON request against the sandbox service. A non-zero timeout
// extends the request deadline beyond the parent context for long execs.
func (c *Client) do(ctx context.Context, method, path string, in, out any, timeout time.Duration) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		// Grace period for the runtime to report the timeout itself.
		ctx, cancel = context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox api %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(raw), 300))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// remoteSandbox is a Runtime backed by the sandbox service.
type remoteSandbox struct {
	client *Client
	id     string
}

func (s *remoteSandbox) ID() string {
	return s.id
}

func (s *remoteSandbox) Exec(ctx context.Context, cmd string, timeout time.Duration) (ExecResult, error) {
	req := struct {
		Cmd       string `json:"cmd"`
		TimeoutMs int64  `json:"timeout_ms,omitempty"`
	}{Cmd: cmd}
	if timeout > 0 {
		req.TimeoutMs = timeout.Milliseconds()
	}

	var result ExecResult
	if err := s.client.do(ctx, http.MethodPost, "/sandboxes/"+s.id+"/exec", req, &result, timeout); err != nil {
		return ExecResult{}, fmt.Errorf("exec in sandbox %s: %w", s.id, err)
	}
	return result, nil
}

func (s *remoteSandbox) WriteFile(ctx context.Context, path string, contents []byte) error {
	req := struct {
		Path     string `json:"path"`
		Contents string `json:"contents"`
	}{Path: path, Contents: string(contents)}

	if err := s.client.do(ctx, http.MethodPut, "/sandboxes/"+s.id+"/files", req, nil, 0); err != nil {
		return fmt.Errorf("write %s in sandbox %s: %w", path, s.id, err)
	}
	return nil
}

func (s *remoteSandbox) Destroy(ctx context.Context) error {
	if err := s.client.do(ctx, http.MethodDelete, "/sandboxes/"+s.id, nil, nil, 0); err != nil {
		return fmt.Errorf("destroy sandbox %s: %w", s.id, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
