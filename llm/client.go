// Package llm provides the OpenRouter client used to generate project file
// trees. It requests a strict JSON-schema response and falls back to plain
// JSON when the upstream model rejects structured output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/c360studio/nimbus/job"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

const (
	defaultBaseURL     = "https://openrouter.ai/api/v1"
	defaultTemperature = 0.7
	defaultMaxTokens   = 8192
	defaultCostDelay   = 500 * time.Millisecond
)

// schemaRejectPattern matches provider errors that indicate the model does
// not support the json_schema response format.
var schemaRejectPattern = regexp.MustCompile(`(?i)response_format|structured output|json_schema|schema`)

// Client talks to an OpenRouter-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	costDelay  time.Duration
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

// WithCostDelay sets the wait before the post-hoc cost lookup.
func WithCostDelay(d time.Duration) ClientOption {
	return func(client *Client) {
		client.costDelay = d
	}
}

// NewClient creates a new LLM client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		logger:    slog.Default(),
		costDelay: defaultCostDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GenerateRequest describes a single project-generation call.
type GenerateRequest struct {
	// Model is the OpenRouter model identifier.
	Model string

	// SystemPrompt is the static base prompt plus framework rules.
	SystemPrompt string

	// Prompt is the raw user prompt.
	Prompt string
}

// Usage holds token and cost accounting for a generation.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// GenerateResult is the parsed outcome of a generation call.
type GenerateResult struct {
	Files     []job.GeneratedFile
	Usage     Usage
	LatencyMs int64
}

// Generate posts a chat completion request and parses the returned file
// tree. The first attempt carries a strict JSON-schema response format; a
// provider error matching schemaRejectPattern triggers exactly one retry
// without it.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Model == "" {
		return nil, NewFatalError(fmt.Errorf("model is required"))
	}
	if req.Prompt == "" {
		return nil, NewFatalError(fmt.Errorf("prompt is required"))
	}

	started := time.Now()

	resp, err := c.chatOnce(ctx, req, true)
	if err != nil {
		if isSchemaRejection(err) {
			c.logger.Warn("Model rejected structured output, retrying without schema",
				"model", req.Model, "error", err)
			resp, err = c.chatOnce(ctx, req, false)
		}
		if err != nil {
			return nil, err
		}
	}

	latency := time.Since(started).Milliseconds()

	if len(resp.Choices) == 0 {
		return nil, NewTransientError(fmt.Errorf("no choices in response"))
	}

	files, err := ParseFiles(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Cost:             resp.Usage.Cost,
	}
	if usage.Cost == 0 && resp.ID != "" {
		usage.Cost = c.lookupCost(ctx, resp.ID)
	}

	return &GenerateResult{
		Files:     files,
		Usage:     usage,
		LatencyMs: latency,
	}, nil
}

// chatRequest is the OpenRouter chat completions request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenRouter chat completions response body.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		Cost             float64 `json:"cost"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// apiError is the error envelope OpenRouter returns on failures.
type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

func (c *Client) chatOnce(ctx context.Context, req GenerateRequest, withSchema bool) (*chatResponse, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if withSchema {
		body.ResponseFormat = filesResponseFormat()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("llm request: %w", err))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response: %w", err))
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return nil, NewTransientError(fmt.Errorf("llm status %d: %s", httpResp.StatusCode, truncate(string(raw), 500)))
		}
		return nil, NewTransientError(fmt.Errorf("parse llm response: %w", err))
	}

	// OpenRouter reports provider errors both via status codes and via an
	// error envelope on 200 responses.
	if resp.Error != nil {
		return nil, classifyAPIError(httpResp.StatusCode, resp.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(httpResp.StatusCode, truncate(string(raw), 500))
	}

	return &resp, nil
}

// generationResponse is the OpenRouter generation-details envelope used for
// post-hoc cost retrieval.
type generationResponse struct {
	Data struct {
		ID        string  `json:"id"`
		TotalCost float64 `json:"total_cost"`
	} `json:"data"`
}

// lookupCost retrieves total_cost from the generation details endpoint.
// Accounting there is eventually consistent, so the call waits costDelay
// first. Errors are swallowed: cost reporting is best-effort.
func (c *Client) lookupCost(ctx context.Context, generationID string) float64 {
	select {
	case <-ctx.Done():
		return 0
	case <-time.After(c.costDelay):
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/generation?id="+generationID, nil)
	if err != nil {
		return 0
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("Cost lookup failed", "generation_id", generationID, "error", err)
		return 0
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		c.logger.Debug("Cost lookup returned non-200", "generation_id", generationID, "status", httpResp.StatusCode)
		return 0
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return 0
	}

	var resp generationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0
	}
	return resp.Data.TotalCost
}

// classifyAPIError wraps a provider error with retry semantics. Schema
// rejections are fatal so the caller's single no-schema retry is the only
// retry that happens.
func classifyAPIError(status int, message string) error {
	err := fmt.Errorf("llm error (status %d): %s", status, message)
	if schemaRejectPattern.MatchString(message) {
		return &schemaRejectedError{err: err}
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
