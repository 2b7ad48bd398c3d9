package docling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/btwld/docling-sdk-sub000/internal/domain"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single request; long polls add their wait on top
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the request budget per second shared by all tracked jobs
	DefaultRateLimit = 20

	apiKeyHeader = "X-Api-Key"
)

// ClientOption configures the Client
type ClientOption func(*Client)

// WithAPIKey sets the key sent in the X-Api-Key header
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRateLimit sets a custom rate limit, zero disables limiting
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the conversion service over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a new conversion service client
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the service root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitSource starts an asynchronous conversion and returns its initial status
func (c *Client) SubmitSource(ctx context.Context, req ConvertSourceRequest) (*TaskStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal convert request: %w", err)
	}

	var status TaskStatus
	if err := c.do(ctx, http.MethodPost, "/v1/convert/source/async", nil, body, c.timeout, &status); err != nil {
		return nil, err
	}

	c.logger.Info("Conversion submitted",
		slog.String("task_id", status.TaskID),
		slog.String("task_status", status.TaskStatus),
		slog.Int("sources", len(req.Sources)),
	)

	return &status, nil
}

// Status long-polls the task status. The server may hold the request for up to wait.
func (c *Client) Status(ctx context.Context, taskID string, wait time.Duration) (*TaskStatus, error) {
	params := url.Values{}
	if wait > 0 {
		params.Set("wait", strconv.FormatFloat(wait.Seconds(), 'f', -1, 64))
	}

	var status TaskStatus
	path := "/v1/status/poll/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, path, params, nil, c.timeout+wait, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// PollStatus fetches the status and converts it. Inconsistent payloads are reported as transport
// failures so the caller's retry budget applies to them.
func (c *Client) PollStatus(ctx context.Context, taskID string, wait time.Duration) (domain.Job, error) {
	status, err := c.Status(ctx, taskID, wait)
	if err != nil {
		return domain.Job{}, err
	}

	job, err := status.Job()
	if err != nil {
		return domain.Job{}, domain.NewTransportError("decode status", err)
	}
	if job.ID == "" {
		job.ID = taskID
	}

	return job, nil
}

// Result fetches the conversion output, the body is returned as-is
func (c *Client) Result(ctx context.Context, taskID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/result/"+url.PathEscape(taskID), nil, nil, c.timeout, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// HealthCheck calls the service health endpoint
func (c *Client) HealthCheck(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/health", nil, nil, c.timeout, &out)
}

// StatusWebSocketURL returns the push endpoint for taskID
func (c *Client) StatusWebSocketURL(taskID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/status/ws/" + url.PathEscape(taskID)
}

// Header returns the headers needed by the push endpoint
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.apiKey != "" {
		h.Set(apiKeyHeader, c.apiKey)
	}
	return h
}

// do performs a request and decodes the JSON response into result
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, timeout time.Duration, result any) error {
	op := method + " " + path

	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.NewTransportError(op, fmt.Errorf("rate limiter: %w", err))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	if timeout > 0 && timeout < math.MaxInt64 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	c.logger.Debug("Docling API request",
		slog.String("method", method),
		slog.String("url", reqURL),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransportError(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
	}

	if err := json.Unmarshal(data, result); err != nil {
		return domain.NewTransportError(op, &domain.ProtocolError{Raw: string(data), Err: err})
	}

	return nil
}
